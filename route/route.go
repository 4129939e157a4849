// Package route defines the per-hop routing element and the encrypted
// Route that carries a CORES package from originator to exit (and back).
package route

import (
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/wallet"
)

// Component names the local actor that ultimately consumes a payload.
type Component uint8

const (
	// Routing marks an intermediate hop: decode, look up NextKey, forward.
	Routing Component = iota
	Neighborhood
	ProxyServer
	ProxyClient
)

func (c Component) String() string {
	switch c {
	case Routing:
		return "Routing"
	case Neighborhood:
		return "Neighborhood"
	case ProxyServer:
		return "ProxyServer"
	case ProxyClient:
		return "ProxyClient"
	default:
		return fmt.Sprintf("Component(%d)", uint8(c))
	}
}

// ErrUnrecognizedComponent is returned by Unmarshal when the component tag
// byte does not name a known actor.
var ErrUnrecognizedComponent = fmt.Errorf("route: unrecognized component tag")

// RouteElement is the plaintext body of one encrypted hop: where to send
// next (empty at the terminator), which local actor it names once
// routing stops, and — on hops that should bill someone — the consuming
// wallet, carried inside the encrypted element so an intermediate relay
// learns whom to bill without a separate out-of-band message.
type RouteElement struct {
	NextKey         cryptde.PublicKey
	Component       Component
	ConsumingWallet *wallet.Wallet
}

// Marshal encodes a RouteElement as:
// <component:u8><keylen:u16><key:bytes><hasWallet:u8>[<walletlen:u16><wallet:bytes>]
func (e RouteElement) Marshal() []byte {
	out := make([]byte, 0, 4+len(e.NextKey))
	out = append(out, byte(e.Component))
	klen := len(e.NextKey)
	out = append(out, byte(klen>>8), byte(klen))
	out = append(out, e.NextKey...)
	if e.ConsumingWallet == nil {
		out = append(out, 0)
		return out
	}
	out = append(out, 1)
	addr := []byte(e.ConsumingWallet.Address)
	wlen := len(addr)
	out = append(out, byte(wlen>>8), byte(wlen))
	out = append(out, addr...)
	return out
}

// Unmarshal decodes the bytes produced by Marshal.
func Unmarshal(b []byte) (RouteElement, error) {
	if len(b) < 4 {
		return RouteElement{}, fmt.Errorf("route: element too short (%d bytes)", len(b))
	}
	comp := Component(b[0])
	if comp > ProxyClient {
		return RouteElement{}, ErrUnrecognizedComponent
	}
	klen := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < 3+klen+1 {
		return RouteElement{}, fmt.Errorf("route: element key truncated")
	}
	key := append(cryptde.PublicKey{}, b[3:3+klen]...)
	off := 3 + klen
	hasWallet := b[off]
	off++
	elem := RouteElement{NextKey: key, Component: comp}
	if hasWallet == 0 {
		return elem, nil
	}
	if len(b) < off+2 {
		return RouteElement{}, fmt.Errorf("route: element wallet length truncated")
	}
	wlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if len(b) < off+wlen {
		return RouteElement{}, fmt.Errorf("route: element wallet truncated")
	}
	w := wallet.New(string(b[off : off+wlen]))
	elem.ConsumingWallet = &w
	return elem, nil
}

// Route is the wire-ready, already-encrypted hop list: outermost first,
// terminator included. Each Hops[i] is ciphertext only the i-th hop's
// CryptDE can open.
type Route struct {
	Hops [][]byte
}

// Len reports the number of encrypted hops remaining, including the
// terminator.
func (r Route) Len() int { return len(r.Hops) }

// Pop returns the outermost hop and the remaining Route.
func (r Route) Pop() (hop []byte, rest Route, ok bool) {
	if len(r.Hops) == 0 {
		return nil, Route{}, false
	}
	return r.Hops[0], Route{Hops: r.Hops[1:]}, true
}

// Clone returns a deep copy so callers can mutate their own copy safely.
func (r Route) Clone() Route {
	hops := make([][]byte, len(r.Hops))
	for i, h := range r.Hops {
		hops[i] = append([]byte{}, h...)
	}
	return Route{Hops: hops}
}
