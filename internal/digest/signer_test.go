package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHMACSignerValidatesKeyLength(t *testing.T) {
	_, err := NewHMACSigner("site-1", []byte("short"))
	assert.Error(t, err)

	_, err = NewHMACSigner("site-1", make([]byte, KeySize+1))
	assert.Error(t, err)

	s, err := NewHMACSigner("site-1", make([]byte, KeySize))
	require.NoError(t, err)
	assert.Equal(t, "site-1", s.OriginID())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := NewHMACSigner("site-1", DeriveKey("seed"))
	require.NoError(t, err)

	hash := SHA256Hex([]byte("payload"))
	sig := s.Sign(hash)

	assert.Len(t, sig, 64)
	assert.True(t, s.Verify(hash, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, err := NewHMACSigner("site-1", DeriveKey("seed"))
	require.NoError(t, err)

	hash := SHA256Hex([]byte("payload"))
	sig := s.Sign(hash)

	assert.False(t, s.Verify(SHA256Hex([]byte("other")), sig))
	assert.False(t, s.Verify(hash, sig[:len(sig)-1]+"0"))
	assert.False(t, s.Verify(hash, ""))
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a, err := NewHMACSigner("site-1", DeriveKey("seed-a"))
	require.NoError(t, err)
	b, err := NewHMACSigner("site-1", DeriveKey("seed-b"))
	require.NoError(t, err)

	hash := SHA256Hex([]byte("payload"))
	assert.False(t, b.Verify(hash, a.Sign(hash)))
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, DeriveKey("seed"), DeriveKey("seed"))
	assert.NotEqual(t, DeriveKey("seed"), DeriveKey("seed2"))
	assert.Len(t, DeriveKey("seed"), KeySize)
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, k2)
}

func TestSignerIsDefensiveAboutKeyAliasing(t *testing.T) {
	key := DeriveKey("seed")
	s, err := NewHMACSigner("site-1", key)
	require.NoError(t, err)

	hash := SHA256Hex([]byte("payload"))
	sig := s.Sign(hash)

	// Mutating the caller's copy must not affect the signer.
	key[0] ^= 0xff
	assert.Equal(t, sig, s.Sign(hash))
}
