package neighborhood

import (
	"context"
	"log/slog"

	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/hopper"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/route"
)

// Neighborhood is the actor owning the signed node database. It handles
// gossip in and out, answers route queries, and drives the bootstrap
// handshake. Every outbound message — a gossip record sent to a single
// neighbor — travels as a one-hop CORES package addressed to that
// neighbor's Component=Neighborhood slot, the same mechanism every other
// actor uses to originate traffic, rather than a side channel.
type Neighborhood struct {
	logger *slog.Logger
	de     cryptde.CryptDE
	db     *NeighborhoodDatabase
	config NeighborhoodConfig

	toHopper actorfabric.Recipient[cores.IncipientCoresPackage]
}

// New constructs Neighborhood with its own freshly signed record seeded
// from config, and the configured neighbor keys as the recompute target.
func New(de cryptde.CryptDE, config NeighborhoodConfig, inner NodeRecordInner, logger *slog.Logger) (*Neighborhood, error) {
	if logger == nil {
		logger = slog.Default()
	}
	neighborKeys := make([]cryptde.PublicKey, len(config.NeighborConfigs))
	for i, ref := range config.NeighborConfigs {
		neighborKeys[i] = ref.PublicKey
	}
	db, err := NewDatabase(de, inner, neighborKeys, logger)
	if err != nil {
		return nil, err
	}
	return &Neighborhood{logger: logger, de: de, db: db, config: config}, nil
}

// Bind wires Neighborhood's one peer dependency: a Recipient that hands
// outbound IncipientCoresPackages to Hopper for sealing and the first
// onward hop.
func (n *Neighborhood) Bind(toHopper actorfabric.Recipient[cores.IncipientCoresPackage]) {
	n.toHopper = toHopper
}

// Database exposes the read-only query surface other actors bind against
// (Hopper's NodeAddrLookup, for instance). The map itself is never
// shared directly, per spec §5.
func (n *Neighborhood) Database() *NeighborhoodDatabase { return n.db }

// LookupNodeAddr adapts Database().NodeAddr to hopper.NodeAddrLookup's
// shape for Bind wiring at startup. A key not yet in the database falls
// back to the address given for it in the configured neighbor references,
// so Start can reach a neighbor before any gossip has arrived from it.
func (n *Neighborhood) LookupNodeAddr(key cryptde.PublicKey) (*nodeaddr.NodeAddr, bool) {
	if addr, ok := n.db.NodeAddr(key); ok {
		return addr, true
	}
	for _, ref := range n.config.NeighborConfigs {
		if ref.NodeAddr != nil && ref.PublicKey.Equal(key) {
			return ref.NodeAddr, true
		}
	}
	return nil, false
}

// Start sends this node's own record to its configured neighbors, per
// spec §4.2(a): "it starts and has a bootstrap neighbor (send its own
// record)". Applies equally to any configured neighbor, bootstrap or not.
func (n *Neighborhood) Start() {
	if len(n.config.NeighborConfigs) == 0 {
		return
	}
	thisNode := n.db.ThisNode()
	gossip := Gossip{Records: []GossipNodeRecord{thisNode}}
	for _, ref := range n.config.NeighborConfigs {
		n.sendGossip(ref.PublicKey, gossip)
	}
}

// OnExpiredPackage is Hopper's Recipient[cores.ExpiredCoresPackage] target
// for Component=Neighborhood: every inbound gossip message arrives here,
// already decrypted down to its Gossip-marshaled payload bytes.
func (n *Neighborhood) OnExpiredPackage(ctx context.Context, pkg cores.ExpiredCoresPackage) {
	g, err := UnmarshalGossip(pkg.PayloadBytes)
	if err != nil {
		n.logger.Error("dropping malformed gossip payload", "err", err)
		return
	}
	n.OnGossip(ctx, g)
}

// OnGossip applies spec §4.2's acceptance algorithm and propagates any
// resulting delta to every known neighbor — "it receives gossip that
// changes its database (send the delta to each neighbor)".
func (n *Neighborhood) OnGossip(_ context.Context, g Gossip) {
	delta := n.db.AcceptGossip(g)
	if len(delta) == 0 {
		return
	}
	deltaGossip := Gossip{Records: delta}
	for _, rec := range n.db.All() {
		if rec.Inner.PublicKey.Equal(n.db.ThisNode().Inner.PublicKey) {
			continue
		}
		n.sendGossip(rec.Inner.PublicKey, deltaGossip)
	}
}

// OnBootstrapNeighborhoodNow handles the explicit BootstrapNeighborhoodNowMessage
// trigger (spec §4.2(c)): resend this node's own record to every
// configured neighbor.
func (n *Neighborhood) OnBootstrapNeighborhoodNow(_ context.Context) {
	n.Start()
}

// RouteQuery answers a route request, honoring zero-hop mode (spec
// §4.2): when this node is not decentralized, every query succeeds with
// a same-process loopback route regardless of its constraints.
func (n *Neighborhood) RouteQuery(msg RouteQueryMessage) (RouteQueryResponse, bool) {
	if !n.config.IsDecentralized() {
		return n.loopbackResponse(msg), true
	}
	return n.db.RouteQuery(msg)
}

func (n *Neighborhood) loopbackResponse(msg RouteQueryMessage) RouteQueryResponse {
	thisNode := n.db.ThisNode()
	key := thisNode.Inner.PublicKey
	resp := RouteQueryResponse{
		ForwardHops: []cryptde.PublicKey{key},
		Expected: ExpectedServices{
			{Kind: Nothing, Key: key},
			{Kind: ExitKind, Key: key, EarningWallet: thisNode.Inner.EarningWallet},
		},
	}
	if msg.ReturnComponentOpt != nil {
		resp.ReturnHops = []cryptde.PublicKey{key}
	}
	return resp
}

// sendGossip wraps gossip as a one-hop CORES package addressed to
// target's Neighborhood component and hands it to Hopper. The route's
// first element is this node's own, as Hopper.Originate peels it locally.
func (n *Neighborhood) sendGossip(target cryptde.PublicKey, g Gossip) {
	if n.toHopper == nil {
		n.logger.Error("dropping outbound gossip: hopper not bound")
		return
	}
	rt, err := hopper.BuildRoute(n.de, []cryptde.PublicKey{n.de.PublicKey(), target}, route.Neighborhood, nil, 0, nil)
	if err != nil {
		n.logger.Error("failed to build gossip route", "target", target, "err", err)
		return
	}
	incipient, err := cores.New(rt, MarshalGossip(g), target)
	if err != nil {
		n.logger.Error("failed to build outbound gossip package", "target", target, "err", err)
		return
	}
	n.toHopper(incipient)
}
