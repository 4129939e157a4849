package cryptde

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// NullCryptDE is a deterministic, reversible stand-in for RealCryptDE used
// by tests that need predictable, inspectable wire bytes instead of real
// cryptographic opacity. Encode XORs the payload with a keystream derived
// from the target key and prepends that key so Decode can reverse it
// without a matching private key; SymmetricEncrypt XORs under the
// caller's key seed and prepends nothing. Sign returns a digest of the
// data; Verify recomputes it.
type NullCryptDE struct {
	publicKey PublicKey
}

// NewNullCryptDE builds a NullCryptDE whose public key is exactly the
// bytes given, so tests can assign memorable identities like
// PublicKey("node-A").
func NewNullCryptDE(publicKey []byte) *NullCryptDE {
	return &NullCryptDE{publicKey: append(PublicKey{}, publicKey...)}
}

func (d *NullCryptDE) PublicKey() PublicKey { return d.publicKey }

// keystream derives a repeating XOR mask from seed, long enough to cover n
// bytes.
func keystream(seed []byte, n int) []byte {
	out := make([]byte, 0, n)
	counter := byte(0)
	for len(out) < n {
		h := sha256.New()
		h.Write(seed)
		h.Write([]byte{counter})
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:n]
}

func xor(key, data []byte) []byte {
	ks := keystream(key, len(data))
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ ks[i]
	}
	return out
}

// Encode prepends target so Decode can recover the key used, then XORs the
// plaintext under a keystream derived from target.
func (d *NullCryptDE) Encode(target PublicKey, plaintext []byte) ([]byte, error) {
	if len(target) == 0 {
		return nil, ErrEmptyKey
	}
	body := xor(target, plaintext)
	out := make([]byte, 0, 2+len(target)+len(body))
	out = append(out, byte(len(target)>>8), byte(len(target)))
	out = append(out, target...)
	out = append(out, body...)
	return out, nil
}

// Decode reverses Encode, checking the embedded key matches this CryptDE's
// own public key.
func (d *NullCryptDE) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2 {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryptionFailed)
	}
	klen := int(ciphertext[0])<<8 | int(ciphertext[1])
	if len(ciphertext) < 2+klen {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryptionFailed)
	}
	key := ciphertext[2 : 2+klen]
	if !bytes.Equal(key, d.publicKey) {
		return nil, fmt.Errorf("%w: not addressed to this key", ErrDecryptionFailed)
	}
	body := ciphertext[2+klen:]
	return xor(key, body), nil
}

// Sign returns a SHA-256 digest of publicKey||data; there is no real
// asymmetric signature, so Verify just recomputes the same digest.
func (d *NullCryptDE) Sign(data []byte) ([]byte, error) {
	h := sha256.Sum256(append(append([]byte{}, d.publicKey...), data...))
	return h[:], nil
}

// Verify recomputes the digest Sign would have produced for key.
func (d *NullCryptDE) Verify(key PublicKey, data, signature []byte) bool {
	h := sha256.Sum256(append(append([]byte{}, key...), data...))
	return bytes.Equal(h[:], signature)
}

// SymmetricEncrypt XORs data under a keystream derived from keySeed,
// prepending nothing (the seed is supplied by the caller on decrypt too).
func (d *NullCryptDE) SymmetricEncrypt(keySeed, data []byte) ([]byte, error) {
	if len(keySeed) == 0 {
		return nil, ErrEmptyKey
	}
	return xor(keySeed, data), nil
}

// SymmetricDecrypt reverses SymmetricEncrypt; XOR is self-inverse.
func (d *NullCryptDE) SymmetricDecrypt(keySeed, data []byte) ([]byte, error) {
	if len(keySeed) == 0 {
		return nil, ErrEmptyKey
	}
	return xor(keySeed, data), nil
}

// RandomSymmetricKey returns a fixed, non-random key so test fixtures stay
// reproducible; callers that need uniqueness pass their own seed bytes.
func (d *NullCryptDE) RandomSymmetricKey() ([]byte, error) {
	h := sha256.Sum256(append([]byte("null-symmetric-key"), d.publicKey...))
	return h[:], nil
}
