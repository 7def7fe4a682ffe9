package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/accumulator"
	"github.com/anvilchain/anvilchain/internal/bloom"
	anverr "github.com/anvilchain/anvilchain/internal/errors"
	"github.com/anvilchain/anvilchain/internal/merkle"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// AnchorFunc submits a batch to an external ledger and returns the
// transaction reference on success.
type AnchorFunc func(ctx context.Context, b *types.Batch) (string, error)

// Proof is the inclusion evidence for one event hash within a batch.
type Proof struct {
	BatchID    string   `json:"batch_id"`
	EventHash  string   `json:"event_hash"`
	Index      int      `json:"index"`
	Siblings   []string `json:"siblings"`
	MerkleRoot string   `json:"merkle_root"`
}

// Stats summarizes the manager's lifecycle counters.
type Stats struct {
	Pending        int `json:"pending_events"`
	BatchesPending int `json:"batches_pending"`
	BatchesOK      int `json:"batches_anchored"`
	BatchesFailed  int `json:"batches_failed"`
	EventsBatched  int `json:"events_batched"`
}

// Manager drives the batch lifecycle. Each ready batch is persisted, its
// events marked BATCHED, and the anchor callback invoked at most once per
// readiness; failed batches stay in the store for explicit retry via
// AnchorBatch.
type Manager struct {
	mu       sync.Mutex
	store    Store
	acc      *accumulator.Accumulator
	anchorFn AnchorFunc
	filters  map[string]*bloom.Filter
	logger   *zap.Logger
}

// NewManager creates a manager with its own accumulator configured by cfg.
func NewManager(cfg accumulator.Config, store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   store,
		filters: make(map[string]*bloom.Filter),
		logger:  logger,
	}
	m.acc = accumulator.New(cfg, m.onBatchReady, logger)
	return m
}

// SetAnchorFunc installs the ledger submission callback. Batches that become
// ready while no callback is installed stay PENDING in the store.
func (m *Manager) SetAnchorFunc(fn AnchorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchorFn = fn
}

// AddEvent persists the event and queues its hash for batching. A batch that
// fills on this call is processed synchronously before AddEvent returns.
func (m *Manager) AddEvent(ctx context.Context, ev *types.Event) error {
	if err := m.store.PutEvent(ctx, ev); err != nil {
		return anverr.NewStorageError(anverr.CodeStoreFailure, "failed to persist event", err)
	}
	if _, err := m.acc.Add(ev.ID, ev.Hash); err != nil {
		return err
	}
	return nil
}

// Flush forces the current pending events into a batch. Returns nil when
// nothing is pending.
func (m *Manager) Flush() (*types.Batch, error) {
	return m.acc.Flush()
}

// PendingEvents returns the number of events awaiting batching.
func (m *Manager) PendingEvents() int {
	return m.acc.Pending()
}

// onBatchReady is the accumulator's ready callback: persist, mark events,
// index the hashes, then attempt one anchor submission.
func (m *Manager) onBatchReady(b *types.Batch) {
	ctx := context.Background()

	if err := m.store.PutBatch(ctx, b); err != nil {
		m.logger.Error("failed to persist batch",
			zap.String("batch_id", b.BatchID),
			zap.Error(err))
		return
	}
	if err := m.store.MarkEventsBatched(ctx, b.BatchID, b.EventIDs); err != nil {
		m.logger.Error("failed to mark events batched",
			zap.String("batch_id", b.BatchID),
			zap.Error(err))
	}

	filter := bloom.NewWithEstimates(b.EventCount(), 0.001)
	for _, h := range b.EventHashes {
		filter.Add([]byte(h))
	}
	m.mu.Lock()
	m.filters[b.BatchID] = filter
	fn := m.anchorFn
	m.mu.Unlock()

	if fn == nil {
		m.logger.Warn("batch ready but no anchor callback registered",
			zap.String("batch_id", b.BatchID),
			zap.Int("event_count", b.EventCount()))
		return
	}
	m.attemptAnchor(ctx, b, fn)
}

// AnchorBatch retries anchoring a stored batch. The stored Merkle root is
// reused as-is; the tree is never rebuilt for a retry, so the root submitted
// on retry is identical to the original. Returns (false, nil) when the batch
// id is unknown.
func (m *Manager) AnchorBatch(ctx context.Context, batchID string) (bool, error) {
	b, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	if b.Status == types.BatchAnchored {
		return true, nil
	}

	m.mu.Lock()
	fn := m.anchorFn
	m.mu.Unlock()
	if fn == nil {
		return false, anverr.NewAnchorError(anverr.CodeNoAnchorFunc, "no anchor callback registered", nil)
	}

	return m.attemptAnchor(ctx, b, fn), nil
}

// attemptAnchor runs one submission and records the outcome. Returns whether
// the submission succeeded.
func (m *Manager) attemptAnchor(ctx context.Context, b *types.Batch, fn AnchorFunc) bool {
	txRef, err := fn(ctx, b)
	if err != nil {
		b.Status = types.BatchFailed
		b.RetryCount++
		b.LastError = err.Error()
		m.logger.Warn("anchor submission failed",
			zap.String("batch_id", b.BatchID),
			zap.Int("retry_count", b.RetryCount),
			zap.Error(err))
		if uerr := m.store.UpdateBatchOutcome(ctx, b.BatchID, types.BatchFailed, "", b.LastError, b.RetryCount, nil); uerr != nil {
			m.logger.Error("failed to record batch failure",
				zap.String("batch_id", b.BatchID),
				zap.Error(uerr))
		}
		return false
	}

	now := time.Now().UTC()
	b.Status = types.BatchAnchored
	b.TxRef = txRef
	b.LastError = ""
	b.AnchoredAt = &now
	if uerr := m.store.UpdateBatchOutcome(ctx, b.BatchID, types.BatchAnchored, txRef, "", b.RetryCount, &now); uerr != nil {
		m.logger.Error("failed to record batch anchor",
			zap.String("batch_id", b.BatchID),
			zap.Error(uerr))
	}
	if uerr := m.store.MarkEventsAnchored(ctx, b.BatchID, txRef, now); uerr != nil {
		m.logger.Error("failed to mark events anchored",
			zap.String("batch_id", b.BatchID),
			zap.Error(uerr))
	}
	m.logger.Info("batch anchored",
		zap.String("batch_id", b.BatchID),
		zap.String("tx_ref", txRef),
		zap.Int("event_count", b.EventCount()))
	return true
}

// EventProof returns the Merkle proof for an event hash within a batch, or
// nil when the batch is unknown or the hash is not a member. Lookup failures
// are logged, never surfaced: a missing proof and a failed lookup read the
// same to callers.
func (m *Manager) EventProof(ctx context.Context, batchID, eventHash string) *Proof {
	m.mu.Lock()
	filter, ok := m.filters[batchID]
	m.mu.Unlock()
	if ok && !filter.Contains([]byte(eventHash)) {
		return nil
	}

	b, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		m.logger.Error("proof lookup failed",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return nil
	}
	if b == nil {
		return nil
	}

	index := -1
	for i, h := range b.EventHashes {
		if h == eventHash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil
	}

	tree, err := merkle.Build(b.EventHashes, merkle.ModeOrdered)
	if err != nil {
		m.logger.Error("proof tree rebuild failed",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return nil
	}

	return &Proof{
		BatchID:    batchID,
		EventHash:  eventHash,
		Index:      index,
		Siblings:   tree.Proof(index),
		MerkleRoot: tree.Root,
	}
}

// GetBatch exposes stored batches to callers that layer verification on top.
func (m *Manager) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	return m.store.GetBatch(ctx, batchID)
}

// ListBatches exposes stored batches filtered by status.
func (m *Manager) ListBatches(ctx context.Context, status types.BatchStatus) ([]*types.Batch, error) {
	return m.store.ListBatches(ctx, status)
}

// GetEvent exposes stored events.
func (m *Manager) GetEvent(ctx context.Context, eventID string) (*types.Event, error) {
	return m.store.GetEvent(ctx, eventID)
}

// Stats aggregates lifecycle counters from the store plus the live pending
// count.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Pending: m.acc.Pending()}

	batches, err := m.store.ListBatches(ctx, "")
	if err != nil {
		return st, err
	}
	for _, b := range batches {
		switch b.Status {
		case types.BatchPending:
			st.BatchesPending++
		case types.BatchAnchored:
			st.BatchesOK++
		case types.BatchFailed:
			st.BatchesFailed++
		}
	}

	st.EventsBatched, err = m.store.CountBatchedEvents(ctx)
	if err != nil {
		return st, err
	}
	return st, nil
}
