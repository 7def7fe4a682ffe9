package digest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// KeySize is the required key length in bytes for the HMAC signer.
const KeySize = 32

// Signer signs and verifies event hashes. The signature always covers the
// event hash, never the raw payload, so an asymmetric implementation
// (Ed25519, secp256k1) can replace the MAC without touching the hash
// contract or any downstream proof logic.
type Signer interface {
	// Sign returns the signature over a lowercase-hex event hash.
	Sign(hash string) string

	// Verify reports whether sig is a valid signature over hash.
	Verify(hash, sig string) bool

	// OriginID identifies the key holder this signer signs for.
	OriginID() string
}

// HMACSigner is the reference Signer: HMAC-SHA256 with a 32-byte secret.
type HMACSigner struct {
	originID string
	key      []byte
}

// NewHMACSigner creates a signer for the given origin. The key must be
// exactly KeySize bytes.
func NewHMACSigner(originID string, key []byte) (*HMACSigner, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("signer: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &HMACSigner{originID: originID, key: k}, nil
}

// Sign returns the HMAC-SHA256 of the hash as lowercase hex.
func (s *HMACSigner) Sign(hash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC and compares in constant time.
func (s *HMACSigner) Verify(hash, sig string) bool {
	expected := s.Sign(hash)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

// OriginID returns the origin this signer signs for.
func (s *HMACSigner) OriginID() string {
	return s.originID
}

// DeriveKey derives a 32-byte key deterministically from a seed string.
// Intended for reproducible test fixtures, not production secrets.
func DeriveKey(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

// GenerateKey returns a cryptographically random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("signer: failed to generate key: %w", err)
	}
	return key, nil
}
