package accumulator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/pkg/types"
)

func eventPair(i int) (string, string) {
	id := fmt.Sprintf("ev-%d", i)
	return id, digest.SHA256Hex([]byte(id))
}

func TestAddBelowThresholdStaysPending(t *testing.T) {
	acc := New(Config{MaxBatchSize: 3}, nil, nil)

	for i := 0; i < 2; i++ {
		id, hash := eventPair(i)
		batch, err := acc.Add(id, hash)
		require.NoError(t, err)
		assert.Nil(t, batch)
	}
	assert.Equal(t, 2, acc.Pending())
}

func TestAddAtThresholdFlushesExactlyOnce(t *testing.T) {
	var ready []*types.Batch
	acc := New(Config{MaxBatchSize: 3}, func(b *types.Batch) {
		ready = append(ready, b)
	}, nil)

	var batch *types.Batch
	for i := 0; i < 3; i++ {
		id, hash := eventPair(i)
		var err error
		batch, err = acc.Add(id, hash)
		require.NoError(t, err)
	}

	require.NotNil(t, batch)
	assert.Equal(t, 3, batch.EventCount())
	assert.Equal(t, 0, acc.Pending())
	require.Len(t, ready, 1)
	assert.Equal(t, batch.BatchID, ready[0].BatchID)
}

func TestFlushEmptyIsNoOp(t *testing.T) {
	calls := 0
	acc := New(Config{MaxBatchSize: 10}, func(*types.Batch) { calls++ }, nil)

	batch, err := acc.Flush()
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Zero(t, calls)
}

func TestManualFlush(t *testing.T) {
	acc := New(Config{MaxBatchSize: 100}, nil, nil)

	id, hash := eventPair(0)
	_, err := acc.Add(id, hash)
	require.NoError(t, err)

	batch, err := acc.Flush()
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, 1, batch.EventCount())
	assert.Equal(t, []string{hash}, batch.EventHashes)
	assert.Equal(t, 0, acc.Pending())
}

func TestClearDiscardsWithoutEmitting(t *testing.T) {
	calls := 0
	acc := New(Config{MaxBatchSize: 100}, func(*types.Batch) { calls++ }, nil)

	id, hash := eventPair(0)
	_, err := acc.Add(id, hash)
	require.NoError(t, err)

	acc.Clear()
	assert.Equal(t, 0, acc.Pending())
	assert.Zero(t, calls)
}

func TestAgeTimerForcesFlushBelowMin(t *testing.T) {
	readyCh := make(chan *types.Batch, 1)
	acc := New(Config{
		MaxBatchSize: 100,
		MinBatchSize: 10,
		MaxBatchAge:  30 * time.Millisecond,
	}, func(b *types.Batch) { readyCh <- b }, nil)

	id, hash := eventPair(0)
	_, err := acc.Add(id, hash)
	require.NoError(t, err)

	select {
	case batch := <-readyCh:
		// The age bound wins over the size floor.
		assert.Equal(t, 1, batch.EventCount())
	case <-time.After(2 * time.Second):
		t.Fatal("age timer did not fire")
	}
	assert.Equal(t, 0, acc.Pending())
}

func TestSizeFlushDisarmsAgeTimer(t *testing.T) {
	readyCh := make(chan *types.Batch, 4)
	acc := New(Config{
		MaxBatchSize: 2,
		MaxBatchAge:  40 * time.Millisecond,
	}, func(b *types.Batch) { readyCh <- b }, nil)

	for i := 0; i < 2; i++ {
		id, hash := eventPair(i)
		_, err := acc.Add(id, hash)
		require.NoError(t, err)
	}
	<-readyCh

	// No stray timer flush after the size flush reset the state.
	select {
	case b := <-readyCh:
		t.Fatalf("unexpected extra batch %s", b.BatchID)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestAddDuringReadyCallbackDoesNotBlock(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	acc := New(Config{MaxBatchSize: 2}, func(*types.Batch) {
		close(entered)
		<-release
	}, nil)

	filled := make(chan struct{})
	go func() {
		defer close(filled)
		for i := 0; i < 2; i++ {
			id, hash := eventPair(i)
			_, err := acc.Add(id, hash)
			assert.NoError(t, err)
		}
	}()

	<-entered

	// The queue must accept new arrivals while the callback is in flight.
	id, hash := eventPair(2)
	batch, err := acc.Add(id, hash)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Equal(t, 1, acc.Pending())

	close(release)
	<-filled
}

func TestBatchIDIsContentDerived(t *testing.T) {
	ids := []string{"ev-0", "ev-1"}
	hashes := []string{digest.SHA256Hex([]byte("ev-0")), digest.SHA256Hex([]byte("ev-1"))}

	a, err := BuildBatch(ids, hashes)
	require.NoError(t, err)
	b, err := BuildBatch(ids, hashes)
	require.NoError(t, err)

	assert.Equal(t, a.BatchID, b.BatchID)
	assert.Equal(t, a.MerkleRoot, b.MerkleRoot)
	assert.Regexp(t, `^b-[0-9a-f]{24}$`, a.BatchID)

	// A different event order is a different batch identity.
	c, err := BuildBatch([]string{"ev-1", "ev-0"}, []string{hashes[1], hashes[0]})
	require.NoError(t, err)
	assert.NotEqual(t, a.BatchID, c.BatchID)
	assert.NotEqual(t, a.MerkleRoot, c.MerkleRoot)
}

func TestBuildBatchCopiesInputs(t *testing.T) {
	ids := []string{"ev-0"}
	hashes := []string{digest.SHA256Hex([]byte("ev-0"))}

	batch, err := BuildBatch(ids, hashes)
	require.NoError(t, err)

	ids[0] = "mutated"
	hashes[0] = "mutated"
	assert.Equal(t, "ev-0", batch.EventIDs[0])
	assert.NotEqual(t, "mutated", batch.EventHashes[0])
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	var mu sync.Mutex
	total := 0
	acc := New(Config{MaxBatchSize: 10}, func(b *types.Batch) {
		mu.Lock()
		total += b.EventCount()
		mu.Unlock()
	}, nil)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, hash := eventPair(i)
			_, err := acc.Add(id, hash)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err := acc.Flush()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, total+acc.Pending())
}
