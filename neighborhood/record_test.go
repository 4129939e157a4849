package neighborhood

import (
	"net"
	"testing"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/wallet"
)

func testInner(de cryptde.CryptDE) NodeRecordInner {
	return NodeRecordInner{
		PublicKey:     de.PublicKey(),
		NodeAddr:      nodeaddr.New(net.ParseIP("10.0.0.5"), []uint16{4001}),
		EarningWallet: wallet.New("0xabc"),
		Version:       1,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	inner := testInner(de)

	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(de, inner, sigs) {
		t.Fatal("Verify rejected a validly signed record")
	}
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	inner := testInner(de)

	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	inner.Version = 2
	if Verify(de, inner, sigs) {
		t.Fatal("Verify accepted a record with a tampered field")
	}
}

func TestVerifyObscuredOnly(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	inner := testInner(de)

	sigs, err := Sign(de, inner)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	// Simulate gossip to a party that should not learn the address: the
	// complete signature is withheld, only the obscured one travels.
	sigs.Complete = nil
	if !Verify(de, inner, sigs) {
		t.Fatal("Verify rejected a record with only the obscured signature present")
	}
}

func TestCanonicalObscuresAddrWhenRequested(t *testing.T) {
	de := cryptde.NewNullCryptDE([]byte("node-a"))
	inner := testInner(de)

	complete := inner.Canonical(true)
	obscured := inner.Canonical(false)
	if string(complete) == string(obscured) {
		t.Fatal("Canonical(true) and Canonical(false) produced identical bytes")
	}

	withoutAddr := inner
	withoutAddr.NodeAddr = nil
	if string(withoutAddr.Canonical(true)) != string(obscured) {
		t.Fatal("Canonical(true) without NodeAddr should match Canonical(false)")
	}
}
