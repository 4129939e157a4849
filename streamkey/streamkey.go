// Package streamkey derives the stable identifier that correlates an
// origin stream to its exit-side upstream connection.
package streamkey

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/cvsouth/corenet/cryptde"
)

// StreamKey is a 32-byte identifier derived from the originator's public
// key and the target host/port, so the exit can demultiplex responses
// back to the right origin without carrying the originator's identity in
// the clear on every packet.
type StreamKey [32]byte

// New derives a StreamKey from the originator's public key and the
// target hostname:port, matching the teacher's length-prefixed hashing
// idiom so the fields cannot be confused across a boundary.
func New(originatorKey cryptde.PublicKey, host string, port uint16) StreamKey {
	h := sha3.New256()
	writeLenPrefixed(h, []byte(originatorKey))
	writeLenPrefixed(h, []byte(host))
	writeLenPrefixed(h, []byte{byte(port >> 8), byte(port)})
	var out StreamKey
	copy(out[:], h.Sum(nil))
	return out
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	n := len(b)
	h.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	h.Write(b)
}

// String renders the key as hex for logging and map-key debugging.
func (k StreamKey) String() string {
	return hex.EncodeToString(k[:])
}

// GoString supports %#v formatting in log attrs.
func (k StreamKey) GoString() string {
	return fmt.Sprintf("StreamKey(%s)", k.String())
}
