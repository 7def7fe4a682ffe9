package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading([]byte(`{"tagName":"boiler.temp","value":92.5,"quality":"GOOD","timestamp":1700000000000}`))
	require.NoError(t, err)

	assert.Equal(t, "boiler.temp", r.TagName)
	assert.Equal(t, 92.5, r.Value)
	assert.Equal(t, "GOOD", r.Quality)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), r.Timestamp)
}

func TestDecodeReadingDefaults(t *testing.T) {
	before := time.Now().UTC()
	r, err := DecodeReading([]byte(`{"tagName":"pump.flow","value":3}`))
	require.NoError(t, err)
	after := time.Now().UTC()

	// Missing quality becomes GOOD; a zero timestamp takes receive time.
	assert.Equal(t, "GOOD", r.Quality)
	assert.False(t, r.Timestamp.Before(before))
	assert.False(t, r.Timestamp.After(after))
}

func TestDecodeReadingRejectsMissingTagName(t *testing.T) {
	_, err := DecodeReading([]byte(`{"value":1}`))
	assert.Error(t, err)
}

func TestDecodeReadingRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeReading([]byte(`{not json`))
	assert.Error(t, err)

	_, err = DecodeReading(nil)
	assert.Error(t, err)
}

func TestDecodeReadingKeepsBadQuality(t *testing.T) {
	r, err := DecodeReading([]byte(`{"tagName":"sensor.1","value":0,"quality":"BAD"}`))
	require.NoError(t, err)
	assert.Equal(t, "BAD", r.Quality)
}
