// Package event implements the unified event-creation contract: any producer
// hands over the identity-bearing fields and receives back an immutable,
// hashed, origin-signed Event ready for batching.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// Params are the caller-supplied fields of a new event. Hash, signature, and
// anchor fields are always derived and never accepted from the caller.
type Params struct {
	EventType types.EventType
	SiteID    string
	AssetID   string
	// SourceTimestamp is when the occurrence happened. Zero means "now".
	SourceTimestamp time.Time
	OriginType      types.OriginType
	OriginID        string
	Payload         types.Payload
}

// Builder creates signed events on behalf of one origin.
type Builder struct {
	signer digest.Signer
	now    func() time.Time
}

// NewBuilder creates a builder that signs with the given signer.
func NewBuilder(signer digest.Signer) *Builder {
	return &Builder{signer: signer, now: time.Now}
}

// WithClock overrides the builder's clock. Used by tests that need stable
// receipt timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build assembles, hashes, and signs a new event. The receipt timestamp is
// always taken from the platform clock, never from the caller.
func (b *Builder) Build(p Params) (*types.Event, error) {
	now := b.now()

	src := p.SourceTimestamp
	if src.IsZero() {
		src = now
	}

	ev := &types.Event{
		ID:               uuid.New().String(),
		EventType:        p.EventType,
		SiteID:           p.SiteID,
		AssetID:          p.AssetID,
		SourceTimestamp:  src,
		ReceiptTimestamp: now,
		OriginType:       p.OriginType,
		OriginID:         p.OriginID,
		Payload:          p.Payload,
		AnchorStatus:     types.AnchorPending,
	}

	hash, err := digest.ComputeEventHash(ev)
	if err != nil {
		return nil, err
	}
	ev.Hash = hash
	ev.Signature = b.signer.Sign(hash)

	return ev, nil
}

// Verification is the result of checking one event end to end.
type Verification struct {
	HashValid      bool   `json:"hash_valid"`
	SignatureValid bool   `json:"signature_valid"`
	ProofValid     bool   `json:"proof_valid"`
	Anchored       bool   `json:"anchored"`
	RecomputedHash string `json:"recomputed_hash"`
}

// Valid reports whether every check passed.
func (v Verification) Valid() bool {
	return v.HashValid && v.SignatureValid && v.ProofValid && v.Anchored
}

// Verify recomputes the event hash and checks the stored signature against
// it. Proof and anchoring checks are layered on by the caller, which owns
// the batch records.
func Verify(ev *types.Event, signer digest.Signer) (Verification, error) {
	recomputed, err := digest.ComputeEventHash(ev)
	if err != nil {
		return Verification{}, err
	}

	return Verification{
		HashValid:      recomputed == ev.Hash,
		SignatureValid: signer.Verify(ev.Hash, ev.Signature),
		RecomputedHash: recomputed,
	}, nil
}
