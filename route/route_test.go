package route

import (
	"testing"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/wallet"
)

func TestElementMarshalRoundTripNoWallet(t *testing.T) {
	e := RouteElement{NextKey: cryptde.PublicKey("next-hop-key"), Component: Routing}
	got, err := Unmarshal(e.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.NextKey.Equal(e.NextKey) || got.Component != e.Component || got.ConsumingWallet != nil {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestElementMarshalRoundTripWithWallet(t *testing.T) {
	w := wallet.New("0xdeadbeef")
	e := RouteElement{NextKey: cryptde.PublicKey("exit-key"), Component: ProxyClient, ConsumingWallet: &w}
	got, err := Unmarshal(e.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ConsumingWallet == nil || !got.ConsumingWallet.Equal(w) {
		t.Fatalf("wallet round-trip mismatch: got %v", got.ConsumingWallet)
	}
}

func TestElementMarshalTerminator(t *testing.T) {
	e := RouteElement{Component: Neighborhood}
	got, err := Unmarshal(e.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.NextKey) != 0 {
		t.Fatalf("got NextKey %v, want empty", got.NextKey)
	}
}

func TestUnmarshalUnrecognizedComponent(t *testing.T) {
	e := RouteElement{NextKey: cryptde.PublicKey("k"), Component: ProxyClient}
	b := e.Marshal()
	b[0] = byte(ProxyClient) + 1
	if _, err := Unmarshal(b); err != ErrUnrecognizedComponent {
		t.Fatalf("Unmarshal with bad tag: got %v, want ErrUnrecognizedComponent", err)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	tests := [][]byte{
		nil,
		{0, 0, 0},
		{0, 0, 5, 'a', 'b'}, // key length says 5, only 2 bytes follow
	}
	for _, b := range tests {
		if _, err := Unmarshal(b); err == nil {
			t.Errorf("Unmarshal(%v): expected error, got nil", b)
		}
	}
}

func TestRoutePopAndClone(t *testing.T) {
	r := Route{Hops: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	hop, rest, ok := r.Pop()
	if !ok || string(hop) != "a" || rest.Len() != 2 {
		t.Fatalf("Pop() = %q, %v, %v", hop, rest, ok)
	}

	clone := r.Clone()
	clone.Hops[0][0] = 'z'
	if r.Hops[0][0] != 'a' {
		t.Fatal("Clone did not deep-copy hop bytes")
	}
}

func TestRoutePopEmpty(t *testing.T) {
	var r Route
	if _, _, ok := r.Pop(); ok {
		t.Fatal("Pop() on empty Route returned ok=true")
	}
}
