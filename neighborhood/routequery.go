package neighborhood

import (
	"crypto/rand"
	"math/big"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/wallet"
)

// ExpectedServiceKind tags one slot of a RouteQueryResponse's expected
// services list.
type ExpectedServiceKind int

const (
	// Nothing marks the originator's own slot: no billing expected.
	Nothing ExpectedServiceKind = iota
	// RoutingKind marks an intermediate relay that should be billed for
	// forwarding.
	RoutingKind
	// ExitKind marks the terminal exit node.
	ExitKind
)

// ExpectedService names what Accountant should expect to pay or be paid
// for one slot of a route.
type ExpectedService struct {
	Kind          ExpectedServiceKind
	Key           cryptde.PublicKey
	EarningWallet wallet.Wallet
}

// ExpectedServices is the full per-hop expectation list for a route.
type ExpectedServices []ExpectedService

// RouteQueryMessage asks Neighborhood for a path. TargetType is carried
// through for parity with the reference protocol's message shape but is
// not load-bearing here: TargetKeyOpt/TargetComponent already fully
// determine the terminal condition described in spec §4.2.
type RouteQueryMessage struct {
	TargetType         string
	TargetKeyOpt       *cryptde.PublicKey
	TargetComponent    route.Component
	MinimumHopCount    int
	ReturnComponentOpt *route.Component
}

// RouteQueryResponse carries the ordered hop-key lists hopper.BuildRoute
// needs, plus the billing expectations for each forward hop.
type RouteQueryResponse struct {
	ForwardHops []cryptde.PublicKey
	ReturnHops  []cryptde.PublicKey
	Expected    ExpectedServices
}

// RouteQuery performs the constrained graph search described in spec
// §4.2: a path of at least MinimumHopCount non-bootstrap, non-originator
// nodes, terminated either by TargetKeyOpt (if set) or any standard node
// with a known NodeAddr, with the originator excluded from every
// intermediate position. Returns false ("None") if no path satisfies the
// constraints — never panics.
func (db *NeighborhoodDatabase) RouteQuery(msg RouteQueryMessage) (RouteQueryResponse, bool) {
	db.mu.Lock()
	records := make(map[string]GossipNodeRecord, len(db.records))
	for k, v := range db.records {
		records[k] = v
	}
	db.mu.Unlock()

	thisNode := records[db.thisNodeKey]

	var exit GossipNodeRecord
	haveExit := false
	if msg.TargetKeyOpt != nil {
		rec, ok := records[msg.TargetKeyOpt.Key()]
		if !ok || rec.Inner.IsBootstrapNode || rec.Inner.PublicKey.Equal(thisNode.Inner.PublicKey) || rec.Inner.NodeAddr == nil {
			return RouteQueryResponse{}, false
		}
		exit, haveExit = rec, true
	}

	eligible := make([]GossipNodeRecord, 0, len(records))
	for key, rec := range records {
		if key == db.thisNodeKey || rec.Inner.IsBootstrapNode || rec.Inner.NodeAddr == nil {
			continue
		}
		eligible = append(eligible, rec)
	}

	need := msg.MinimumHopCount
	if need < 1 {
		need = 1
	}

	if !haveExit {
		var err error
		exit, eligible, err = pickRandomExcluding(eligible, nil)
		if err != nil {
			return RouteQueryResponse{}, false
		}
		haveExit = true
	} else {
		eligible = excludeKey(eligible, exit.Inner.PublicKey)
	}

	intermediateCount := need - 1
	intermediates, remaining, ok := pickN(eligible, intermediateCount, nil)
	if !ok {
		return RouteQueryResponse{}, false
	}

	forward := make([]cryptde.PublicKey, 0, need+1)
	forward = append(forward, thisNode.Inner.PublicKey)
	for _, rec := range intermediates {
		forward = append(forward, rec.Inner.PublicKey)
	}
	forward = append(forward, exit.Inner.PublicKey)

	expected := make(ExpectedServices, 0, need+1)
	expected = append(expected, ExpectedService{Kind: Nothing, Key: thisNode.Inner.PublicKey})
	for _, rec := range intermediates {
		expected = append(expected, ExpectedService{Kind: RoutingKind, Key: rec.Inner.PublicKey, EarningWallet: rec.Inner.EarningWallet})
	}
	expected = append(expected, ExpectedService{Kind: ExitKind, Key: exit.Inner.PublicKey, EarningWallet: exit.Inner.EarningWallet})

	resp := RouteQueryResponse{ForwardHops: forward, Expected: expected}

	if msg.ReturnComponentOpt != nil {
		// Prefer a disjoint path back; fall back to reusing the forward
		// intermediates (reversed) if no disjoint path exists, per spec.
		disjointIntermediates, _, ok := pickN(remaining, intermediateCount, nil)
		var backIntermediates []GossipNodeRecord
		if ok {
			backIntermediates = disjointIntermediates
		} else {
			backIntermediates = reverseRecords(intermediates)
		}
		back := make([]cryptde.PublicKey, 0, need+1)
		back = append(back, exit.Inner.PublicKey)
		for _, rec := range backIntermediates {
			back = append(back, rec.Inner.PublicKey)
		}
		back = append(back, thisNode.Inner.PublicKey)
		resp.ReturnHops = back
	}

	return resp, true
}

func excludeKey(in []GossipNodeRecord, key cryptde.PublicKey) []GossipNodeRecord {
	out := make([]GossipNodeRecord, 0, len(in))
	for _, r := range in {
		if !r.Inner.PublicKey.Equal(key) {
			out = append(out, r)
		}
	}
	return out
}

// pickRandomExcluding selects one record uniformly at random (unbiased,
// crypto/rand-backed, matching the teacher's weightedRandom idiom in
// pathselect.go) and returns the remaining candidates.
func pickRandomExcluding(in []GossipNodeRecord, exclude map[string]bool) (GossipNodeRecord, []GossipNodeRecord, error) {
	candidates := make([]GossipNodeRecord, 0, len(in))
	for _, r := range in {
		if exclude != nil && exclude[r.Inner.PublicKey.Key()] {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return GossipNodeRecord{}, nil, errNoCandidates
	}
	idx, err := weightedRandomIndex(len(candidates))
	if err != nil {
		return GossipNodeRecord{}, nil, err
	}
	chosen := candidates[idx]
	rest := make([]GossipNodeRecord, 0, len(candidates)-1)
	rest = append(rest, candidates[:idx]...)
	rest = append(rest, candidates[idx+1:]...)
	return chosen, rest, nil
}

// pickN selects n distinct records at random without replacement,
// returning ok=false if fewer than n candidates are available.
func pickN(in []GossipNodeRecord, n int, exclude map[string]bool) (picked []GossipNodeRecord, remaining []GossipNodeRecord, ok bool) {
	pool := append([]GossipNodeRecord{}, in...)
	if n <= 0 {
		return nil, pool, true
	}
	if len(pool) < n {
		return nil, pool, false
	}
	for i := 0; i < n; i++ {
		rec, rest, err := pickRandomExcluding(pool, nil)
		if err != nil {
			return nil, pool, false
		}
		picked = append(picked, rec)
		pool = rest
	}
	return picked, pool, true
}

func reverseRecords(in []GossipNodeRecord) []GossipNodeRecord {
	out := make([]GossipNodeRecord, len(in))
	for i, r := range in {
		out[len(in)-1-i] = r
	}
	return out
}

var errNoCandidates = errNoCandidatesErr{}

type errNoCandidatesErr struct{}

func (errNoCandidatesErr) Error() string { return "neighborhood: no candidates available" }

// weightedRandomIndex chooses an index in [0,n) uniformly using
// crypto/rand, avoiding modulo bias — the same primitive the teacher's
// pathselect.weightedRandom uses for its uniform fallback.
func weightedRandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errNoCandidates
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
