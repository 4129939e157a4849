package neighborhood

import (
	"testing"

	"github.com/cvsouth/corenet/cryptde"
)

func newTestDatabase(t *testing.T, de cryptde.CryptDE, neighbors []cryptde.PublicKey) *NeighborhoodDatabase {
	t.Helper()
	db, err := NewDatabase(de, testInner(de), neighbors, nil)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	return db
}

func signedRecord(t *testing.T, de cryptde.CryptDE, inner NodeRecordInner) GossipNodeRecord {
	t.Helper()
	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return GossipNodeRecord{Inner: inner, Sigs: sigs}
}

func TestAcceptGossipAddsUnknownRecord(t *testing.T) {
	self := cryptde.NewNullCryptDE([]byte("self"))
	peer := cryptde.NewNullCryptDE([]byte("peer"))
	db := newTestDatabase(t, self, []cryptde.PublicKey{peer.PublicKey()})

	peerInner := testInner(peer)
	rec := signedRecord(t, peer, peerInner)

	delta := db.AcceptGossip(Gossip{Records: []GossipNodeRecord{rec}})
	if len(delta) == 0 {
		t.Fatal("expected non-empty delta for a newly learned record")
	}
	if _, ok := db.Get(peer.PublicKey()); !ok {
		t.Fatal("peer record not stored after AcceptGossip")
	}
}

func TestAcceptGossipRejectsBadSignature(t *testing.T) {
	self := cryptde.NewNullCryptDE([]byte("self"))
	peer := cryptde.NewNullCryptDE([]byte("peer"))
	db := newTestDatabase(t, self, nil)

	rec := signedRecord(t, peer, testInner(peer))
	rec.Inner.Version = 99 // mutate after signing: signature no longer matches

	delta := db.AcceptGossip(Gossip{Records: []GossipNodeRecord{rec}})
	if len(delta) != 0 {
		t.Fatalf("expected no delta for a record with invalid signature, got %d", len(delta))
	}
	if _, ok := db.Get(peer.PublicKey()); ok {
		t.Fatal("record with bad signature was stored")
	}
}

func TestAcceptGossipIgnoresStaleVersion(t *testing.T) {
	self := cryptde.NewNullCryptDE([]byte("self"))
	peer := cryptde.NewNullCryptDE([]byte("peer"))
	db := newTestDatabase(t, self, nil)

	v1 := testInner(peer)
	v1.Version = 2
	db.AcceptGossip(Gossip{Records: []GossipNodeRecord{signedRecord(t, peer, v1)}})

	stale := testInner(peer)
	stale.Version = 1
	delta := db.AcceptGossip(Gossip{Records: []GossipNodeRecord{signedRecord(t, peer, stale)}})
	if len(delta) != 0 {
		t.Fatalf("stale version produced a delta: %v", delta)
	}
	got, _ := db.Get(peer.PublicKey())
	if got.Inner.Version != 2 {
		t.Fatalf("stored version = %d, want 2 (local should win)", got.Inner.Version)
	}
}

func TestAcceptGossipRecomputesThisNodeNeighbors(t *testing.T) {
	self := cryptde.NewNullCryptDE([]byte("self"))
	peer := cryptde.NewNullCryptDE([]byte("peer"))
	db := newTestDatabase(t, self, []cryptde.PublicKey{peer.PublicKey()})

	before := db.ThisNode()
	if len(before.Inner.Neighbors) != 0 {
		t.Fatalf("expected no live neighbors before peer is known, got %v", before.Inner.Neighbors)
	}

	db.AcceptGossip(Gossip{Records: []GossipNodeRecord{signedRecord(t, peer, testInner(peer))}})

	after := db.ThisNode()
	if len(after.Inner.Neighbors) != 1 || !after.Inner.Neighbors[0].Equal(peer.PublicKey()) {
		t.Fatalf("this node's recomputed neighbors = %v, want [%v]", after.Inner.Neighbors, peer.PublicKey())
	}
	if after.Inner.Version <= before.Inner.Version {
		t.Fatalf("version did not increase after recompute: before=%d after=%d", before.Inner.Version, after.Inner.Version)
	}
}

func TestNodeAddrLookup(t *testing.T) {
	self := cryptde.NewNullCryptDE([]byte("self"))
	db := newTestDatabase(t, self, nil)

	addr, ok := db.NodeAddr(self.PublicKey())
	if !ok || addr == nil {
		t.Fatal("NodeAddr lookup failed for this node's own record")
	}

	if _, ok := db.NodeAddr(cryptde.PublicKey("unknown")); ok {
		t.Fatal("NodeAddr lookup succeeded for an unknown key")
	}
}
