// Package digest provides the hashing primitives for the audit pipeline:
// SHA-256 over canonical bytes for event hashes and internal trees, and
// Keccak-256 for trees whose roots are verified by external ledger contracts.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/anvilchain/anvilchain/internal/codec"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// HashSize is the size in bytes of all digests produced by this package.
const HashSize = 32

// SHA256 returns the SHA-256 digest of b.
func SHA256(b []byte) [HashSize]byte {
	return sha256.Sum256(b)
}

// SHA256Hex returns the SHA-256 digest of b as 64 lowercase hex characters.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Keccak256 returns the legacy Keccak-256 digest of b. This is the primitive
// used by minimal on-ledger verifiers, distinct from standard SHA3-256.
func Keccak256(b []byte) [HashSize]byte {
	var out [HashSize]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	copy(out[:], h.Sum(nil))
	return out
}

// Keccak256Hex returns the Keccak-256 digest of b as lowercase hex.
func Keccak256Hex(b []byte) string {
	sum := Keccak256(b)
	return hex.EncodeToString(sum[:])
}

// Prefixed returns the 0x-prefixed form of a hex digest for ledger interop.
func Prefixed(hexDigest string) string {
	if strings.HasPrefix(hexDigest, "0x") {
		return hexDigest
	}
	return "0x" + hexDigest
}

// Unprefixed strips an optional 0x prefix from a hex digest.
func Unprefixed(hexDigest string) string {
	return strings.TrimPrefix(hexDigest, "0x")
}

// HashValue canonicalizes v and returns its SHA-256 digest as lowercase hex.
func HashValue(v interface{}) (string, error) {
	b, err := codec.Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// eventHashInput is the restricted field subset an event hash covers.
// Signature, hash, receipt timestamp, and anchor fields must never appear
// here: the hash would otherwise depend on values derived from itself.
type eventHashInput struct {
	EventType       types.EventType  `json:"eventType"`
	SiteID          string           `json:"siteId"`
	AssetID         string           `json:"assetId,omitempty"`
	SourceTimestamp int64            `json:"sourceTimestamp"`
	OriginType      types.OriginType `json:"originType"`
	OriginID        string           `json:"originId"`
	Payload         types.Payload    `json:"payload"`
}

// ComputeEventHash hashes the identity-bearing fields of an event. The source
// timestamp enters the hash as Unix milliseconds so the encoding is
// independent of time zone or formatting.
func ComputeEventHash(ev *types.Event) (string, error) {
	return HashValue(eventHashInput{
		EventType:       ev.EventType,
		SiteID:          ev.SiteID,
		AssetID:         ev.AssetID,
		SourceTimestamp: ev.SourceTimestamp.UnixMilli(),
		OriginType:      ev.OriginType,
		OriginID:        ev.OriginID,
		Payload:         ev.Payload,
	})
}
