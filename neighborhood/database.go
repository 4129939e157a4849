package neighborhood

import (
	"log/slog"
	"sync"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
)

// NeighborhoodDatabase is the signed node graph, owned exclusively by the
// Neighborhood actor (spec §5): reads by other actors go through a query
// function, never direct access to the map. A simple adjacency map keyed
// by PublicKey suffices at expected fleet sizes (spec §9).
type NeighborhoodDatabase struct {
	mu                  sync.Mutex
	de                  cryptde.CryptDE
	logger              *slog.Logger
	records             map[string]GossipNodeRecord
	thisNodeKey         string
	configuredNeighbors []cryptde.PublicKey
}

// NewDatabase seeds the database with this node's own freshly signed
// record. configuredNeighbors is the set of peer keys this node was
// started with (spec §4.2's intersect-on-recompute target); it may
// contain keys not yet known.
func NewDatabase(de cryptde.CryptDE, thisNode NodeRecordInner, configuredNeighbors []cryptde.PublicKey, logger *slog.Logger) (*NeighborhoodDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := &NeighborhoodDatabase{
		de:                  de,
		logger:              logger,
		records:             make(map[string]GossipNodeRecord),
		thisNodeKey:         thisNode.PublicKey.Key(),
		configuredNeighbors: configuredNeighbors,
	}
	sigs, err := Sign(de, thisNode)
	if err != nil {
		return nil, err
	}
	db.records[db.thisNodeKey] = GossipNodeRecord{Inner: thisNode, Sigs: sigs}
	return db, nil
}

// ThisNode returns a copy of this node's own current record.
func (db *NeighborhoodDatabase) ThisNode() GossipNodeRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.records[db.thisNodeKey]
}

// Get returns the record for key, if known.
func (db *NeighborhoodDatabase) Get(key cryptde.PublicKey) (GossipNodeRecord, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rec, ok := db.records[key.Key()]
	return rec, ok
}

// NodeAddr resolves key to its gossiped NodeAddr. Neighborhood's
// LookupNodeAddr wraps it for Hopper's NodeAddrLookup.
func (db *NeighborhoodDatabase) NodeAddr(key cryptde.PublicKey) (*nodeaddr.NodeAddr, bool) {
	rec, ok := db.Get(key)
	if !ok || rec.Inner.NodeAddr == nil {
		return nil, false
	}
	return rec.Inner.NodeAddr, true
}

// All returns a snapshot of every known record.
func (db *NeighborhoodDatabase) All() []GossipNodeRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]GossipNodeRecord, 0, len(db.records))
	for _, r := range db.records {
		out = append(out, r)
	}
	return out
}

// AcceptGossip applies spec §4.2's acceptance algorithm to every record in
// g, in order, and returns the subset that actually changed the database
// (the delta other neighbors should be told about). When anything
// changed, "this node"'s own recomputed, re-signed record is appended to
// that delta as its last element.
func (db *NeighborhoodDatabase) AcceptGossip(g Gossip) (delta []GossipNodeRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()

	changed := false
	for _, rec := range g.Records {
		if !Verify(db.de, rec.Inner, rec.Sigs) {
			db.logger.Error("dropping gossip record: signature verification failed",
				"public_key", rec.Inner.PublicKey)
			continue
		}

		key := rec.Inner.PublicKey.Key()
		existing, known := db.records[key]
		switch {
		case !known:
			db.records[key] = rec
			delta = append(delta, rec)
			changed = true
		case rec.Inner.Version > existing.Inner.Version:
			db.records[key] = rec
			delta = append(delta, rec)
			changed = true
		default:
			// equal or lesser version: local wins, discard incoming
		}
	}

	if changed {
		if updated, ok := db.recomputeThisNodeLocked(); ok {
			delta = append(delta, updated)
		}
	}

	return delta
}

// recomputeThisNodeLocked intersects configuredNeighbors with keys
// currently known in the database, bumps this node's version, and
// re-signs it with the local CryptDE. Caller must hold db.mu.
func (db *NeighborhoodDatabase) recomputeThisNodeLocked() (GossipNodeRecord, bool) {
	thisNode := db.records[db.thisNodeKey]

	live := make([]cryptde.PublicKey, 0, len(db.configuredNeighbors))
	for _, want := range db.configuredNeighbors {
		if _, ok := db.records[want.Key()]; ok {
			live = append(live, want)
		}
	}

	thisNode.Inner.Neighbors = live
	thisNode.Inner.Version++

	sigs, err := Sign(db.de, thisNode.Inner)
	if err != nil {
		db.logger.Error("failed to re-sign this node's record", "err", err)
		return GossipNodeRecord{}, false
	}
	thisNode.Sigs = sigs
	db.records[db.thisNodeKey] = thisNode
	return thisNode, true
}
