package anchor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilchain/anvilchain/internal/accumulator"
	"github.com/anvilchain/anvilchain/internal/batch"
	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/journal"
	"github.com/anvilchain/anvilchain/pkg/types"
)

func TestPolicyAccepts(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.Accepts(types.EventAlarm))
	assert.True(t, p.Accepts(types.EventCommand))
	assert.False(t, p.Accepts(types.EventTelemetry))

	// Types without a toggle are always anchored.
	assert.True(t, p.Accepts(types.EventAcknowledgement))
	assert.True(t, p.Accepts(types.EventMaintenance))
	assert.True(t, p.Accepts(types.EventBlueprintChange))

	p.AnchorTelemetry = true
	p.AnchorAlarms = false
	assert.True(t, p.Accepts(types.EventTelemetry))
	assert.False(t, p.Accepts(types.EventAlarm))
}

func newTestPipeline(t *testing.T, maxBatch int, submitter Submitter) (*Orchestrator, *batch.Manager) {
	t.Helper()
	dir := t.TempDir()

	store, err := batch.NewSQLiteStore(filepath.Join(dir, "batches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	jnl, err := journal.Open(filepath.Join(dir, "journal"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { jnl.Close() })

	m := batch.NewManager(accumulator.Config{MaxBatchSize: maxBatch}, store, nil)
	return NewOrchestrator(DefaultPolicy(), m, submitter, jnl, nil), m
}

func pipelineEvent(i int, typ types.EventType) *types.Event {
	id := fmt.Sprintf("ev-%d", i)
	return &types.Event{
		ID:               id,
		EventType:        typ,
		SiteID:           "plant-07",
		SourceTimestamp:  time.Unix(1700000000, 0).UTC(),
		ReceiptTimestamp: time.Unix(1700000001, 0).UTC(),
		OriginType:       types.OriginSystem,
		OriginID:         "alarm-detector",
		Hash:             digest.SHA256Hex([]byte(id)),
		AnchorStatus:     types.AnchorPending,
	}
}

func TestEnqueueFiltersByPolicy(t *testing.T) {
	o, m := newTestPipeline(t, 100, nil)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(1, types.EventTelemetry)))
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(2, types.EventCommand)))

	assert.Equal(t, 2, m.PendingEvents())
	assert.Equal(t, 1, o.Stats().EventsDropped)
}

func TestEnqueueJournalsAcceptedEvents(t *testing.T) {
	dir := t.TempDir()
	store, err := batch.NewSQLiteStore(filepath.Join(dir, "batches.db"))
	require.NoError(t, err)
	defer store.Close()

	jnl, err := journal.Open(filepath.Join(dir, "journal"), 1<<20)
	require.NoError(t, err)

	m := batch.NewManager(accumulator.Config{MaxBatchSize: 100}, store, nil)
	o := NewOrchestrator(DefaultPolicy(), m, nil, jnl, nil)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(1, types.EventTelemetry)))
	require.NoError(t, jnl.Close())

	// Only the accepted event reached the journal.
	var ids []string
	require.NoError(t, journal.Replay(filepath.Join(dir, "journal"), func(rec *journal.Record) error {
		ids = append(ids, rec.Event.ID)
		return nil
	}))
	assert.Equal(t, []string{"ev-0"}, ids)
}

func TestSuccessfulAnchorUpdatesStats(t *testing.T) {
	submitter := SubmitterFunc(func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
		return "0xtx", nil
	})
	o, _ := newTestPipeline(t, 2, submitter)
	ctx := context.Background()

	var results []Result
	o.Subscribe(ResultSinkFunc(func(r Result) { results = append(results, r) }))

	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(1, types.EventAlarm)))

	st := o.Stats()
	assert.Equal(t, 2, st.TotalEventsAnchored)
	assert.Equal(t, 1, st.TotalBatchesAnchored)
	assert.Zero(t, st.TotalFailures)
	require.NotNil(t, st.LastAnchorTime)
	assert.NotEmpty(t, st.LastBatchID)
	assert.NotEmpty(t, st.LastMerkleRoot)

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "0xtx", results[0].TxRef)
	assert.Equal(t, st.LastBatchID, results[0].Batch.BatchID)
}

func TestFailedAnchorCountsFailure(t *testing.T) {
	submitter := SubmitterFunc(func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
		return "", errors.New("gateway unreachable")
	})
	o, m := newTestPipeline(t, 2, submitter)
	ctx := context.Background()

	var results []Result
	o.Subscribe(ResultSinkFunc(func(r Result) { results = append(results, r) }))

	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(1, types.EventAlarm)))

	st := o.Stats()
	assert.Equal(t, 1, st.TotalFailures)
	assert.Zero(t, st.TotalBatchesAnchored)
	assert.Nil(t, st.LastAnchorTime)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)

	failed, err := m.ListBatches(ctx, types.BatchFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestRetryFailedAnchorsOldestFirst(t *testing.T) {
	fail := true
	var submitted []string
	submitter := SubmitterFunc(func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
		if fail {
			return "", errors.New("gateway unreachable")
		}
		submitted = append(submitted, batchID)
		return "0x" + batchID, nil
	})
	o, m := newTestPipeline(t, 1, submitter)
	ctx := context.Background()

	// Two single-event batches, both failing their first submission.
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, o.Enqueue(ctx, pipelineEvent(1, types.EventAlarm)))

	failed, err := m.ListBatches(ctx, types.BatchFailed)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	// ListBatches is newest first; the retry must run oldest first.
	oldest := failed[1].BatchID

	fail = false
	n, err := o.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, submitted, 2)
	assert.Equal(t, oldest, submitted[0])

	remaining, err := m.ListBatches(ctx, types.BatchFailed)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRetryFailedWithNothingToDo(t *testing.T) {
	o, _ := newTestPipeline(t, 2, nil)

	n, err := o.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStopDrainsPending(t *testing.T) {
	submitter := SubmitterFunc(func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
		return "0xtx", nil
	})
	o, m := newTestPipeline(t, 100, submitter)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, pipelineEvent(0, types.EventAlarm)))
	require.NoError(t, o.Stop())

	assert.Zero(t, m.PendingEvents())
	assert.Equal(t, 1, o.Stats().TotalBatchesAnchored)
}

func TestOnEventAdaptsSinkInterface(t *testing.T) {
	o, m := newTestPipeline(t, 100, nil)

	o.OnEvent(pipelineEvent(0, types.EventAlarm))
	assert.Equal(t, 1, m.PendingEvents())
}
