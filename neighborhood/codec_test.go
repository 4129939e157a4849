package neighborhood

import (
	"net"
	"testing"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/wallet"
)

func TestGossipMarshalRoundTrip(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	consuming := wallet.New("0xconsumer")
	inner := NodeRecordInner{
		PublicKey:       de.PublicKey(),
		NodeAddr:        nodeaddr.New(net.ParseIP("192.168.1.1"), []uint16{4001, 4002}),
		IsBootstrapNode: true,
		EarningWallet:   wallet.New("0xearner"),
		ConsumingWallet: &consuming,
		Neighbors:       []cryptde.PublicKey{cryptde.PublicKey("neighbor-one")},
		Version:         7,
	}
	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	g := Gossip{Records: []GossipNodeRecord{{Inner: inner, Sigs: sigs}}}

	got, err := UnmarshalGossip(MarshalGossip(g))
	if err != nil {
		t.Fatalf("UnmarshalGossip: %v", err)
	}
	if len(got.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(got.Records))
	}
	gotInner := got.Records[0].Inner
	if !gotInner.PublicKey.Equal(inner.PublicKey) {
		t.Fatalf("public key mismatch: got %v, want %v", gotInner.PublicKey, inner.PublicKey)
	}
	if !nodeaddr.Equal(gotInner.NodeAddr, inner.NodeAddr) {
		t.Fatalf("node addr mismatch: got %v, want %v", gotInner.NodeAddr, inner.NodeAddr)
	}
	if gotInner.IsBootstrapNode != inner.IsBootstrapNode {
		t.Fatal("is_bootstrap_node mismatch")
	}
	if !gotInner.EarningWallet.Equal(inner.EarningWallet) {
		t.Fatal("earning wallet mismatch")
	}
	if gotInner.ConsumingWallet == nil || !gotInner.ConsumingWallet.Equal(consuming) {
		t.Fatal("consuming wallet mismatch")
	}
	if len(gotInner.Neighbors) != 1 || !gotInner.Neighbors[0].Equal(inner.Neighbors[0]) {
		t.Fatalf("neighbors mismatch: got %v", gotInner.Neighbors)
	}
	if gotInner.Version != inner.Version {
		t.Fatalf("version mismatch: got %d, want %d", gotInner.Version, inner.Version)
	}
	if !Verify(de, gotInner, got.Records[0].Sigs) {
		t.Fatal("decoded record failed signature verification")
	}
}

func TestGossipMarshalEmptyBatch(t *testing.T) {
	got, err := UnmarshalGossip(MarshalGossip(Gossip{}))
	if err != nil {
		t.Fatalf("UnmarshalGossip: %v", err)
	}
	if len(got.Records) != 0 {
		t.Fatalf("got %d records, want 0", len(got.Records))
	}
}

func TestGossipMarshalNoNodeAddr(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	inner := NodeRecordInner{PublicKey: de.PublicKey(), EarningWallet: wallet.New("0xearner"), Version: 1}
	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	g := Gossip{Records: []GossipNodeRecord{{Inner: inner, Sigs: sigs}}}

	got, err := UnmarshalGossip(MarshalGossip(g))
	if err != nil {
		t.Fatalf("UnmarshalGossip: %v", err)
	}
	if got.Records[0].Inner.NodeAddr != nil {
		t.Fatalf("got NodeAddr %v, want nil", got.Records[0].Inner.NodeAddr)
	}
}

func TestUnmarshalGossipTruncated(t *testing.T) {
	tests := [][]byte{
		nil,
		{0},
		{0, 1}, // claims 1 record, no bytes follow
	}
	for _, b := range tests {
		if _, err := UnmarshalGossip(b); err == nil {
			t.Errorf("UnmarshalGossip(%v): expected error, got nil", b)
		}
	}
}

func TestUnmarshalGossipRejectsTrailingGarbage(t *testing.T) {
	b := append(MarshalGossip(Gossip{}), 0xFF)
	if _, err := UnmarshalGossip(b); err == nil {
		t.Fatal("UnmarshalGossip accepted trailing garbage")
	}
}
