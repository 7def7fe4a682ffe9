package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/pkg/types"
)

func newTestBuilder(t *testing.T) (*Builder, digest.Signer) {
	t.Helper()
	signer, err := digest.NewHMACSigner("gw-1", digest.DeriveKey("test-seed"))
	require.NoError(t, err)
	return NewBuilder(signer), signer
}

func telemetryParams() Params {
	return Params{
		EventType:       types.EventTelemetry,
		SiteID:          "plant-07",
		AssetID:         "pump.flow",
		SourceTimestamp: time.Unix(1700000000, 0).UTC(),
		OriginType:      types.OriginGateway,
		OriginID:        "gw-1",
		Payload: types.Payload{
			Telemetry: &types.TelemetryPayload{
				TagName:   "pump.flow",
				Value:     12.5,
				Quality:   "GOOD",
				Timestamp: 1700000000000,
			},
		},
	}
}

func TestBuildPopulatesDerivedFields(t *testing.T) {
	builder, signer := newTestBuilder(t)

	ev, err := builder.Build(telemetryParams())
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Len(t, ev.Hash, 64)
	assert.True(t, signer.Verify(ev.Hash, ev.Signature))
	assert.Equal(t, types.AnchorPending, ev.AnchorStatus)
	assert.Empty(t, ev.BatchID)
	assert.Nil(t, ev.MerkleIndex)
	assert.False(t, ev.ReceiptTimestamp.IsZero())
}

func TestBuildGeneratesUniqueIDs(t *testing.T) {
	builder, _ := newTestBuilder(t)

	a, err := builder.Build(telemetryParams())
	require.NoError(t, err)
	b, err := builder.Build(telemetryParams())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestBuildDefaultsSourceTimestampToNow(t *testing.T) {
	builder, _ := newTestBuilder(t)
	fixed := time.Unix(1700000042, 0).UTC()
	builder.WithClock(func() time.Time { return fixed })

	p := telemetryParams()
	p.SourceTimestamp = time.Time{}
	ev, err := builder.Build(p)
	require.NoError(t, err)

	assert.Equal(t, fixed, ev.SourceTimestamp)
	assert.Equal(t, fixed, ev.ReceiptTimestamp)
}

func TestBuildKeepsSourceAndReceiptDistinct(t *testing.T) {
	builder, _ := newTestBuilder(t)
	fixed := time.Unix(1700000042, 0).UTC()
	builder.WithClock(func() time.Time { return fixed })

	ev, err := builder.Build(telemetryParams())
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.SourceTimestamp)
	assert.Equal(t, fixed, ev.ReceiptTimestamp)
}

func TestVerifyDetectsTampering(t *testing.T) {
	builder, signer := newTestBuilder(t)

	ev, err := builder.Build(telemetryParams())
	require.NoError(t, err)

	v, err := Verify(ev, signer)
	require.NoError(t, err)
	assert.True(t, v.HashValid)
	assert.True(t, v.SignatureValid)
	assert.Equal(t, ev.Hash, v.RecomputedHash)

	// Payload tampering breaks the hash but the signature still matches the
	// (stale) stored hash.
	ev.Payload.Telemetry.Value = 999
	v, err = Verify(ev, signer)
	require.NoError(t, err)
	assert.False(t, v.HashValid)
	assert.True(t, v.SignatureValid)
	assert.NotEqual(t, ev.Hash, v.RecomputedHash)
}

func TestVerifyDetectsForgedSignature(t *testing.T) {
	builder, signer := newTestBuilder(t)

	ev, err := builder.Build(telemetryParams())
	require.NoError(t, err)
	ev.Signature = "deadbeef"

	v, err := Verify(ev, signer)
	require.NoError(t, err)
	assert.True(t, v.HashValid)
	assert.False(t, v.SignatureValid)
}

func TestVerificationValid(t *testing.T) {
	v := Verification{HashValid: true, SignatureValid: true, ProofValid: true, Anchored: true}
	assert.True(t, v.Valid())

	v.Anchored = false
	assert.False(t, v.Valid())
}

func TestSameParamsSameHash(t *testing.T) {
	builder, _ := newTestBuilder(t)

	a, err := builder.Build(telemetryParams())
	require.NoError(t, err)
	b, err := builder.Build(telemetryParams())
	require.NoError(t, err)

	// Identity fields are identical, so the hash is too. The ID is not part
	// of the hash input.
	assert.Equal(t, a.Hash, b.Hash)
}
