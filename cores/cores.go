// Package cores implements the CORES ("Cryptographic Onion Routing
// Envelope Sealing") package types: the plaintext view before sealing,
// the wire form that travels hop to hop, and the post-decryption view
// surfaced to a local actor.
package cores

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/route"
	"github.com/cvsouth/corenet/wallet"
)

// Errors returned while building or sealing an IncipientCoresPackage.
var (
	ErrEmptyKey          = fmt.Errorf("cores: destination key is empty")
	ErrSerializationFail = fmt.Errorf("cores: serialization failure")
	ErrEncryptionFail    = fmt.Errorf("cores: encryption failure")
)

// IncipientCoresPackage is the plaintext (route, payload, destination_key)
// prepared for sealing into a LiveCoresPackage.
type IncipientCoresPackage struct {
	Route          route.Route
	Payload        []byte
	DestinationKey cryptde.PublicKey
}

// New validates and builds an IncipientCoresPackage.
func New(rt route.Route, payload []byte, destinationKey cryptde.PublicKey) (IncipientCoresPackage, error) {
	if len(destinationKey) == 0 {
		return IncipientCoresPackage{}, ErrEmptyKey
	}
	return IncipientCoresPackage{Route: rt, Payload: payload, DestinationKey: destinationKey}, nil
}

// Seal serializes the payload, symmetrically encrypts it under a fresh
// random key, asymmetrically seals that key to DestinationKey, and wraps
// the result with Route into a LiveCoresPackage. This is the Go analog of
// IncipientCoresPackage.new in spec terms: the sealing step, not just
// construction.
func (p IncipientCoresPackage) Seal(de cryptde.CryptDE) (LiveCoresPackage, error) {
	symKey, err := de.RandomSymmetricKey()
	if err != nil {
		return LiveCoresPackage{}, fmt.Errorf("%w: random symmetric key: %v", ErrEncryptionFail, err)
	}
	payloadCT, err := de.SymmetricEncrypt(symKey, p.Payload)
	if err != nil {
		return LiveCoresPackage{}, fmt.Errorf("%w: symmetric encrypt: %v", ErrEncryptionFail, err)
	}
	sealedKey, err := de.Encode(p.DestinationKey, symKey)
	if err != nil {
		return LiveCoresPackage{}, fmt.Errorf("%w: seal symmetric key: %v", ErrEncryptionFail, err)
	}

	combined := make([]byte, 0, 4+len(sealedKey)+len(payloadCT))
	combined = appendU32LP(combined, sealedKey)
	combined = append(combined, payloadCT...)

	return LiveCoresPackage{Hops: p.Route.Clone().Hops, Payload: combined}, nil
}

// LiveCoresPackage is the wire form of a CORES package: the remaining
// encrypted hop list plus the sealed payload.
type LiveCoresPackage struct {
	Hops    [][]byte
	Payload []byte
}

// Marshal encodes the wire format from spec §6:
// <num_hops:u16>(<hop_ct_len:u32><hop_ct:bytes>)*<payload_len:u32><payload_ct:bytes>
func (l LiveCoresPackage) Marshal() []byte {
	out := make([]byte, 0, 2+len(l.Payload)+4)
	var u16buf [2]byte
	binary.BigEndian.PutUint16(u16buf[:], uint16(len(l.Hops)))
	out = append(out, u16buf[:]...)
	for _, hop := range l.Hops {
		out = appendU32LP(out, hop)
	}
	out = appendU32LP(out, l.Payload)
	return out
}

// Unmarshal decodes the wire format produced by Marshal.
func Unmarshal(b []byte) (LiveCoresPackage, error) {
	if len(b) < 2 {
		return LiveCoresPackage{}, fmt.Errorf("%w: truncated num_hops", ErrSerializationFail)
	}
	numHops := int(binary.BigEndian.Uint16(b[:2]))
	off := 2
	hops := make([][]byte, 0, numHops)
	for i := 0; i < numHops; i++ {
		hop, next, err := readU32LP(b, off)
		if err != nil {
			return LiveCoresPackage{}, fmt.Errorf("%w: hop %d: %v", ErrSerializationFail, i, err)
		}
		hops = append(hops, hop)
		off = next
	}
	payload, off, err := readU32LP(b, off)
	if err != nil {
		return LiveCoresPackage{}, fmt.Errorf("%w: payload: %v", ErrSerializationFail, err)
	}
	if off != len(b) {
		return LiveCoresPackage{}, fmt.Errorf("%w: trailing garbage (%d bytes)", ErrSerializationFail, len(b)-off)
	}
	return LiveCoresPackage{Hops: hops, Payload: payload}, nil
}

func appendU32LP(out, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	out = append(out, lenBuf[:]...)
	out = append(out, data...)
	return out
}

func readU32LP(b []byte, off int) (data []byte, next int, err error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if off+n > len(b) {
		return nil, 0, fmt.Errorf("truncated field (want %d bytes)", n)
	}
	return b[off : off+n], off + n, nil
}

// Open reverses Seal: given the local CryptDE, splits the sealed
// symmetric key from the payload ciphertext, decodes the key, and
// decrypts the payload.
func Open(de cryptde.CryptDE, payload []byte) ([]byte, error) {
	sealedKey, rest, err := readU32LP(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed key: %v", ErrSerializationFail, err)
	}
	payloadCT := payload[rest:]
	symKey, err := de.Decode(sealedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal symmetric key: %v", cryptde.ErrDecryptionFailed, err)
	}
	plaintext, err := de.SymmetricDecrypt(symKey, payloadCT)
	if err != nil {
		return nil, fmt.Errorf("%w: symmetric decrypt: %v", cryptde.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// ExpiredCoresPackage is the post-decryption view surfaced to a local
// actor once Hopper has peeled every hop addressed to it.
type ExpiredCoresPackage struct {
	ImmediateNeighborIP net.IP
	ConsumingWallet     *wallet.Wallet
	RemainingRoute      route.Route
	PayloadBytes        []byte
}
