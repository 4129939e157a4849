package cryptde

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	sealKeyLen    = 32 // AES-256 key
	sealIVLen     = 16 // AES-CTR IV
	sealMACKeyLen = 32
	sealMACLen    = 32 // SHA3-256 output
	sealTotalKeys = sealKeyLen + sealIVLen + sealMACKeyLen

	hkdfInfo = "corenet-cryptde-encode-v1"

	// PublicKeyLen is ed25519 verification key (32) || curve25519 public
	// key (32): one opaque PublicKey serves both signing and encryption,
	// per spec.md's single-identity data model.
	PublicKeyLen = ed25519.PublicKeySize + 32
)

// RealCryptDE implements CryptDE with Ed25519 signatures (grounded on the
// teacher's edwards25519 point validation in onion/address.go) and an
// X25519-ECDH + HKDF + AES-256-CTR + SHA3-256-MAC asymmetric envelope
// (the same shape as the teacher's ntor handshake and
// DecryptDescriptorLayer). The two keypairs are independent; PublicKey is
// their concatenation so that gossip carries one opaque identity.
type RealCryptDE struct {
	edPriv ed25519.PrivateKey
	edPub  ed25519.PublicKey
	xPriv  [32]byte
	xPub   [32]byte
}

// NewRealCryptDE generates a fresh keypair.
func NewRealCryptDE() (*RealCryptDE, error) {
	var edSeed [32]byte
	if _, err := rand.Read(edSeed[:]); err != nil {
		return nil, fmt.Errorf("generate ed25519 seed: %w", err)
	}
	var xPriv [32]byte
	if _, err := rand.Read(xPriv[:]); err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return newRealCryptDE(edSeed, xPriv)
}

// NewRealCryptDEFromSeed deterministically derives a keypair from a
// 32-byte seed, used by tests and by node-identity persistence.
func NewRealCryptDEFromSeed(seed [32]byte) (*RealCryptDE, error) {
	edSeed := sha256.Sum256(append([]byte("corenet-ed25519"), seed[:]...))
	xPriv := sha256.Sum256(append([]byte("corenet-x25519"), seed[:]...))
	return newRealCryptDE(edSeed, xPriv)
}

func newRealCryptDE(edSeed, xPriv [32]byte) (*RealCryptDE, error) {
	edPrivKey := ed25519.NewKeyFromSeed(edSeed[:])

	xPriv[0] &= 248
	xPriv[31] &= 127
	xPriv[31] |= 64
	xPub, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive curve25519 public key: %w", err)
	}

	de := &RealCryptDE{
		edPriv: edPrivKey,
		edPub:  edPrivKey.Public().(ed25519.PublicKey),
		xPriv:  xPriv,
	}
	copy(de.xPub[:], xPub)
	return de, nil
}

// PublicKey returns ed25519Pub || x25519Pub.
func (d *RealCryptDE) PublicKey() PublicKey {
	out := make([]byte, 0, PublicKeyLen)
	out = append(out, d.edPub...)
	out = append(out, d.xPub[:]...)
	return PublicKey(out)
}

// splitPublicKey extracts the ed25519 and x25519 halves of a PublicKey,
// rejecting an ed25519 half that does not decode to a valid point on the
// curve — the same check as the teacher's onion/address.go, guarding
// against a gossiped record whose key was corrupted or forged with an
// invalid-curve point.
func splitPublicKey(key PublicKey) (edPub ed25519.PublicKey, xPub []byte, err error) {
	if len(key) != PublicKeyLen {
		return nil, nil, fmt.Errorf("public key must be %d bytes, got %d", PublicKeyLen, len(key))
	}
	edBytes := key[:ed25519.PublicKeySize]
	if _, err := new(edwards25519.Point).SetBytes(edBytes); err != nil {
		return nil, nil, fmt.Errorf("invalid ed25519 point: %w", err)
	}
	return ed25519.PublicKey(edBytes), []byte(key[ed25519.PublicKeySize:]), nil
}

// Encode asymmetrically seals plaintext to target's public key using an
// ephemeral X25519 ECDH exchange, HKDF-SHA256 key derivation, AES-256-CTR
// encryption, and a SHA3-256 MAC (encrypt-then-MAC), following the same
// shape as DecryptDescriptorLayer in the teacher's onion package.
func (d *RealCryptDE) Encode(target PublicKey, plaintext []byte) ([]byte, error) {
	if len(target) == 0 {
		return nil, ErrEmptyKey
	}
	_, targetX, err := splitPublicKey(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", ErrEncryptionFailed, err)
	}
	ephPriv[0] &= 248
	ephPriv[31] &= 127
	ephPriv[31] |= 64

	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral public key: %v", ErrEncryptionFailed, err)
	}

	shared, err := curve25519.X25519(ephPriv[:], targetX)
	if err != nil {
		return nil, fmt.Errorf("%w: ECDH: %v", ErrEncryptionFailed, err)
	}

	keys, err := deriveSealKeys(shared, ephPub, targetX)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, _, err := sealAESCTR(keys, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	mac := computeSealMAC(keys.macKey, ephPub, ciphertext)

	// Wire layout: ephemeral_pubkey(32) | ciphertext | mac(32)
	out := make([]byte, 0, 32+len(ciphertext)+sealMACLen)
	out = append(out, ephPub...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return out, nil
}

// Decode opens ciphertext sealed to this CryptDE's own public key.
func (d *RealCryptDE) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 32+sealMACLen {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecryptionFailed)
	}
	ephPub := ciphertext[:32]
	body := ciphertext[32 : len(ciphertext)-sealMACLen]
	mac := ciphertext[len(ciphertext)-sealMACLen:]

	shared, err := curve25519.X25519(d.xPriv[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ECDH: %v", ErrDecryptionFailed, err)
	}

	keys, err := deriveSealKeys(shared, ephPub, d.xPub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	expectedMAC := computeSealMAC(keys.macKey, ephPub, body)
	if subtle.ConstantTimeCompare(expectedMAC, mac) != 1 {
		return nil, fmt.Errorf("%w: MAC verification failed", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(keys.aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	stream := cipher.NewCTR(block, keys.iv)
	plaintext := make([]byte, len(body))
	stream.XORKeyStream(plaintext, body)
	return plaintext, nil
}

type sealKeys struct {
	aesKey []byte
	iv     []byte
	macKey []byte
}

func deriveSealKeys(shared, ephPub, targetX []byte) (sealKeys, error) {
	salt := append(append([]byte{}, ephPub...), targetX...)
	r := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	buf := make([]byte, sealTotalKeys)
	if _, err := io.ReadFull(r, buf); err != nil {
		return sealKeys{}, fmt.Errorf("hkdf expand: %w", err)
	}
	return sealKeys{
		aesKey: buf[:sealKeyLen],
		iv:     buf[sealKeyLen : sealKeyLen+sealIVLen],
		macKey: buf[sealKeyLen+sealIVLen:],
	}, nil
}

func sealAESCTR(keys sealKeys, plaintext []byte) (ciphertext, mac []byte, err error) {
	block, err := aes.NewCipher(keys.aesKey)
	if err != nil {
		return nil, nil, err
	}
	stream := cipher.NewCTR(block, keys.iv)
	ciphertext = make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)
	mac = computeSealMAC(keys.macKey, nil, ciphertext)
	return ciphertext, mac, nil
}

// computeSealMAC mirrors the teacher's length-prefixed MAC construction in
// onion/decrypt.go's computeMAC, extended to also bind the ephemeral
// public key when present (outer asymmetric seal) or omit it (inner
// symmetric seal).
func computeSealMAC(macKey, ephPub, body []byte) []byte {
	h := sha3.New256()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(macKey)))
	h.Write(lenBuf[:])
	h.Write(macKey)
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(ephPub)))
	h.Write(lenBuf[:])
	h.Write(ephPub)
	h.Write(body)
	return h.Sum(nil)
}

// Sign produces an Ed25519 signature over data.
func (d *RealCryptDE) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(d.edPriv, data), nil
}

// Verify checks an Ed25519 signature using the Ed25519 half of key.
func (d *RealCryptDE) Verify(key PublicKey, data, signature []byte) bool {
	edPub, _, err := splitPublicKey(key)
	if err != nil {
		return false
	}
	return ed25519.Verify(edPub, data, signature)
}

// SymmetricEncrypt seals data under a key derived from keySeed via
// SHAKE256, AES-256-CTR, SHA3-256 MAC — the same shape as
// DecryptDescriptorLayer, without the asymmetric ECDH step.
func (d *RealCryptDE) SymmetricEncrypt(keySeed, data []byte) ([]byte, error) {
	keys, salt, err := deriveSymmetricKeys(keySeed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	ciphertext, mac, err := sealAESCTR(keys, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	out := make([]byte, 0, len(salt)+len(ciphertext)+sealMACLen)
	out = append(out, salt...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return out, nil
}

// SymmetricDecrypt opens data sealed by SymmetricEncrypt.
func (d *RealCryptDE) SymmetricDecrypt(keySeed, data []byte) ([]byte, error) {
	const saltLen = 16
	if len(data) < saltLen+sealMACLen {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrDecryptionFailed)
	}
	salt := data[:saltLen]
	body := data[saltLen : len(data)-sealMACLen]
	mac := data[len(data)-sealMACLen:]

	keys, _, err := deriveSymmetricKeys(keySeed, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	expectedMAC := computeSealMAC(keys.macKey, nil, body)
	if subtle.ConstantTimeCompare(expectedMAC, mac) != 1 {
		return nil, fmt.Errorf("%w: MAC verification failed", ErrDecryptionFailed)
	}
	block, err := aes.NewCipher(keys.aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	stream := cipher.NewCTR(block, keys.iv)
	plaintext := make([]byte, len(body))
	stream.XORKeyStream(plaintext, body)
	return plaintext, nil
}

func deriveSymmetricKeys(keySeed, saltIn []byte) (sealKeys, []byte, error) {
	const saltLen = 16
	salt := saltIn
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return sealKeys{}, nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	shake := sha3.NewShake256()
	shake.Write(keySeed)
	shake.Write(salt)
	buf := make([]byte, sealTotalKeys)
	if _, err := shake.Read(buf); err != nil {
		return sealKeys{}, nil, fmt.Errorf("shake256 expand: %w", err)
	}
	return sealKeys{
		aesKey: buf[:sealKeyLen],
		iv:     buf[sealKeyLen : sealKeyLen+sealIVLen],
		macKey: buf[sealKeyLen+sealIVLen:],
	}, salt, nil
}

// RandomSymmetricKey returns 32 bytes of fresh key-seed material.
func (d *RealCryptDE) RandomSymmetricKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate symmetric key: %w", err)
	}
	return key, nil
}
