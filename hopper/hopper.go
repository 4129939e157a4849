// Package hopper implements the CORES envelope engine: building Routes
// from an ordered hop list, sealing IncipientCoresPackages, and peeling
// one hop at a time off inbound LiveCoresPackages — forwarding onward via
// Dispatcher or delivering the payload to a local actor. Grounded on the
// teacher's circuit/relay.go onion-layering loop
// (encryptRelayLocked/decryptRelayLocked), generalized from a fixed
// per-circuit AES-CTR chain to one CryptDE.Decode per hop against the
// node's own key.
package hopper

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/cvsouth/corenet/actorfabric"
	"github.com/cvsouth/corenet/cores"
	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/wallet"
)

// BuildRoute builds the encrypted, wire-ready Route described in spec §4.1:
// one RouteElement per key in hops, outermost first, each encoded to the
// matching hop's public key. All but the last element carry
// Component=Routing and NextKey pointing at the following hop; the last
// element ("the terminator") carries target instead and an empty
// NextKey. consumingWallet, when non-nil, is embedded in every element so
// each relay along the path learns whom to bill. If returnHops is
// non-empty, its own encrypted elements (built the same way, terminated
// by returnTarget) are appended after the forward terminator, so the
// exit's RemainingRoute after popping down to its own element is exactly
// the return route.
func BuildRoute(
	de cryptde.CryptDE,
	hops []cryptde.PublicKey,
	target route.Component,
	returnHops []cryptde.PublicKey,
	returnTarget route.Component,
	consumingWallet *wallet.Wallet,
) (route.Route, error) {
	if len(hops) == 0 {
		return route.Route{}, fmt.Errorf("hopper: route requires at least one hop")
	}
	forward, err := encodeSegment(de, hops, target, consumingWallet)
	if err != nil {
		return route.Route{}, err
	}
	if len(returnHops) == 0 {
		return route.Route{Hops: forward}, nil
	}
	back, err := encodeSegment(de, returnHops, returnTarget, consumingWallet)
	if err != nil {
		return route.Route{}, err
	}
	return route.Route{Hops: append(forward, back...)}, nil
}

func encodeSegment(de cryptde.CryptDE, hops []cryptde.PublicKey, target route.Component, consumingWallet *wallet.Wallet) ([][]byte, error) {
	out := make([][]byte, len(hops))
	for i, hopKey := range hops {
		elem := route.RouteElement{ConsumingWallet: consumingWallet}
		if i < len(hops)-1 {
			elem.Component = route.Routing
			elem.NextKey = hops[i+1]
		} else {
			elem.Component = target
		}
		ct, err := de.Encode(hopKey, elem.Marshal())
		if err != nil {
			return nil, fmt.Errorf("hopper: seal route element %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

// NodeAddrLookup resolves a PublicKey to its gossiped NodeAddr. Hopper
// never owns the NeighborhoodDatabase (spec §5); this is bound at startup
// to a query function backed by Neighborhood.
type NodeAddrLookup func(key cryptde.PublicKey) (*nodeaddr.NodeAddr, bool)

// RoutingServiceProvided mirrors the Accountant message of the same name.
type RoutingServiceProvided struct {
	ConsumingWallet *wallet.Wallet
	PayloadSize     int
}

// Outbound is what Hopper hands to Dispatcher for onward transmission.
type Outbound struct {
	NextHop *nodeaddr.NodeAddr
	Package cores.LiveCoresPackage
}

// Hopper peels and forwards CORES packages. All fields other than the
// CryptDE and logger are Recipients bound once via Bind, never mutated
// afterward.
type Hopper struct {
	logger *slog.Logger
	de     cryptde.CryptDE

	lookupNodeAddr NodeAddrLookup
	toDispatcher   actorfabric.Recipient[Outbound]
	toAccountant   actorfabric.Recipient[RoutingServiceProvided]
	locals         map[route.Component]actorfabric.Recipient[cores.ExpiredCoresPackage]
}

// New builds a Hopper. Bind must be called before it can forward or
// deliver anything; until then OnLiveCoresPackage drops everything.
func New(de cryptde.CryptDE, logger *slog.Logger) *Hopper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hopper{
		de:     de,
		logger: logger,
		locals: make(map[route.Component]actorfabric.Recipient[cores.ExpiredCoresPackage]),
	}
}

// BindDeps is the payload of the startup BindMessage: every peer
// Hopper needs a Recipient for.
type BindDeps struct {
	LookupNodeAddr  NodeAddrLookup
	ToDispatcher    actorfabric.Recipient[Outbound]
	ToAccountant    actorfabric.Recipient[RoutingServiceProvided]
	ToNeighborhood  actorfabric.Recipient[cores.ExpiredCoresPackage]
	ToProxyServer   actorfabric.Recipient[cores.ExpiredCoresPackage]
	ToProxyClient   actorfabric.Recipient[cores.ExpiredCoresPackage]
}

// Bind wires Hopper's peer recipients. Called once at startup, never
// again — cyclic actor ownership is avoided because no actor holds a
// struct reference to another, only these function values.
func (h *Hopper) Bind(deps BindDeps) {
	h.lookupNodeAddr = deps.LookupNodeAddr
	h.toDispatcher = deps.ToDispatcher
	h.toAccountant = deps.ToAccountant
	h.locals[route.Neighborhood] = deps.ToNeighborhood
	h.locals[route.ProxyServer] = deps.ToProxyServer
	h.locals[route.ProxyClient] = deps.ToProxyClient
}

// OnLiveCoresPackage peels exactly one hop off an inbound package received
// from Dispatcher with the given immediate neighbor's IP. Per spec §4.1,
// a hop that fails to decrypt, names an unknown next_key, or carries an
// unrecognized component is dropped with an ERROR log — never forwarded,
// never retried, never panics.
func (h *Hopper) OnLiveCoresPackage(_ context.Context, immediateNeighborIP net.IP, pkg cores.LiveCoresPackage) {
	h.peelAndRoute(immediateNeighborIP, pkg)
}

// Originate accepts an IncipientCoresPackage from a local actor
// (ProxyServer, ProxyClient, or Neighborhood), seals it, and peels its
// own leading hop exactly as an inbound package would be peeled — per
// spec §4.1's "hands to Hopper" origination path, a newly built route's
// index-0 element is always encrypted to the originator's own key, so
// sealing and immediately self-peeling discovers next_key and forwards
// onward uniformly, with no separate origination code path.
func (h *Hopper) Originate(incipient cores.IncipientCoresPackage) {
	live, err := incipient.Seal(h.de)
	if err != nil {
		h.logger.Error("failed to seal outbound CORES package", "err", err)
		return
	}
	h.peelAndRoute(nil, live)
}

func (h *Hopper) peelAndRoute(immediateNeighborIP net.IP, pkg cores.LiveCoresPackage) {
	hopCT, restHops, ok := (route.Route{Hops: pkg.Hops}).Pop()
	if !ok {
		h.logger.Error("received CORES package with no hops", "neighbor", immediateNeighborIP)
		return
	}

	plaintext, err := h.de.Decode(hopCT)
	if err != nil {
		h.logger.Error("dropping CORES package: hop decrypt failed",
			"neighbor", immediateNeighborIP, "err", err)
		return
	}

	elem, err := route.Unmarshal(plaintext)
	if err != nil {
		h.logger.Error("dropping CORES package: malformed route element",
			"neighbor", immediateNeighborIP, "err", err)
		return
	}

	if elem.Component == route.Routing {
		h.forward(elem, restHops, pkg.Payload)
		return
	}

	h.deliver(elem, restHops, pkg, immediateNeighborIP)
}

func (h *Hopper) forward(elem route.RouteElement, restHops route.Route, payload []byte) {
	if len(elem.NextKey) == 0 {
		h.logger.Error("dropping CORES package: routing element has no next_key")
		return
	}
	if h.lookupNodeAddr == nil {
		h.logger.Error("dropping CORES package: node address lookup not bound")
		return
	}
	addr, known := h.lookupNodeAddr(elem.NextKey)
	if !known {
		h.logger.Error("dropping CORES package: next hop key unknown", "next_key", elem.NextKey)
		return
	}

	if h.toAccountant != nil {
		h.toAccountant(RoutingServiceProvided{
			ConsumingWallet: elem.ConsumingWallet,
			PayloadSize:     len(payload),
		})
	}

	if h.toDispatcher == nil {
		h.logger.Error("dropping CORES package: dispatcher not bound")
		return
	}
	h.toDispatcher(Outbound{
		NextHop: addr,
		Package: cores.LiveCoresPackage{Hops: restHops.Hops, Payload: payload},
	})
}

func (h *Hopper) deliver(elem route.RouteElement, restHops route.Route, pkg cores.LiveCoresPackage, immediateNeighborIP net.IP) {
	recipient, recognized := h.locals[elem.Component]
	if !recognized {
		h.logger.Error("dropping CORES package: unrecognized component", "component", elem.Component)
		return
	}

	plaintext, err := cores.Open(h.de, pkg.Payload)
	if err != nil {
		h.logger.Error(fmt.Sprintf("Error (%s) interpreting payload", err))
		return
	}

	if recipient == nil {
		h.logger.Error("dropping CORES package: recipient not bound", "component", elem.Component)
		return
	}

	recipient(cores.ExpiredCoresPackage{
		ImmediateNeighborIP: immediateNeighborIP,
		ConsumingWallet:     elem.ConsumingWallet,
		RemainingRoute:      restHops,
		PayloadBytes:        plaintext,
	})
}
