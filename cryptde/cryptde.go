// Package cryptde defines the Cryptographic Data Envelope capability set
// used for per-hop onion encryption, payload sealing, and gossip signing.
package cryptde

import "fmt"

// PublicKey is an opaque key identifying a node, both for gossip identity
// and as asymmetric key material for Encode/Decode.
type PublicKey []byte

// String renders the key for logging.
func (k PublicKey) String() string {
	if len(k) == 0 {
		return "<empty>"
	}
	if len(k) > 8 {
		return fmt.Sprintf("%x…", []byte(k[:8]))
	}
	return fmt.Sprintf("%x", []byte(k))
}

// Equal reports byte equality.
func (k PublicKey) Equal(other PublicKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns a string usable as a map key.
func (k PublicKey) Key() string { return string(k) }

// Errors returned by CryptDE implementations.
var (
	ErrEmptyKey            = fmt.Errorf("empty key")
	ErrDecryptionFailed    = fmt.Errorf("decryption failed")
	ErrSerializationFailed = fmt.Errorf("serialization failed")
	ErrEncryptionFailed    = fmt.Errorf("encryption failed")
)

// CryptDE is the capability set every node uses for per-hop encryption,
// payload sealing, and gossip-record signing. RealCryptDE backs production
// nodes; NullCryptDE is a deterministic reversible stand-in for tests.
type CryptDE interface {
	// Encode asymmetrically seals plaintext to target's public key.
	Encode(target PublicKey, plaintext []byte) ([]byte, error)
	// Decode opens ciphertext sealed to this CryptDE's own public key.
	Decode(ciphertext []byte) ([]byte, error)
	// Sign produces a signature over data using this CryptDE's private key.
	Sign(data []byte) ([]byte, error)
	// Verify checks a signature over data against key.
	Verify(key PublicKey, data, signature []byte) bool
	// SymmetricEncrypt seals data under a key derived from keySeed.
	SymmetricEncrypt(keySeed, data []byte) ([]byte, error)
	// SymmetricDecrypt opens data sealed under a key derived from keySeed.
	SymmetricDecrypt(keySeed, data []byte) ([]byte, error)
	// RandomSymmetricKey returns fresh key seed material.
	RandomSymmetricKey() ([]byte, error)
	// PublicKey returns this CryptDE's own public key.
	PublicKey() PublicKey
}
