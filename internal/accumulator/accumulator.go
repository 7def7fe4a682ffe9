// Package accumulator collects pending event hashes and decides when a batch
// is ready, either by count or by age. It is the single owner of batch
// readiness timing: downstream components only react to its ready callback.
package accumulator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/merkle"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// Config controls batch readiness.
type Config struct {
	// MaxBatchSize triggers a synchronous flush when reached.
	MaxBatchSize int

	// MinBatchSize is advisory: a timer-forced flush emits the batch even
	// below this floor, so no event waits longer than MaxBatchAge. Flushes
	// below the floor are logged for operators sizing ledger fees.
	MinBatchSize int

	// MaxBatchAge bounds how long the oldest pending event waits. The age
	// timer arms on the first addition after an empty state and re-arms
	// after every flush.
	MaxBatchAge time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 100,
		MinBatchSize: 1,
		MaxBatchAge:  5 * time.Minute,
	}
}

// ReadyFunc receives each ready batch. The callback runs after the
// accumulator has snapshot-and-cleared its pending state and released its
// lock, so producers keep adding while the callback (typically a ledger
// submission) executes, and the callback itself may add new events.
type ReadyFunc func(*types.Batch)

// pendingEvent is one queued (event id, hash) pair.
type pendingEvent struct {
	eventID string
	hash    string
}

// Accumulator is safe for concurrent use. All state mutates under one mutex
// and no operation yields mid-mutation; the insertion order of pending events
// is preserved byte-for-byte into the Merkle leaf order.
type Accumulator struct {
	mu      sync.Mutex
	cfg     Config
	pending []pendingEvent
	timer   *time.Timer
	onReady ReadyFunc
	logger  *zap.Logger
}

// New creates an accumulator. The ready callback may be nil for callers that
// drive flushes manually.
func New(cfg Config, onReady ReadyFunc, logger *zap.Logger) *Accumulator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{
		cfg:     cfg,
		onReady: onReady,
		logger:  logger,
	}
}

// Add appends a pending (event id, hash) pair. Reaching MaxBatchSize builds
// the batch synchronously before Add returns; the ready callback runs outside
// the lock, so other producers are not blocked while it executes.
func (a *Accumulator) Add(eventID, hash string) (*types.Batch, error) {
	a.mu.Lock()
	wasEmpty := len(a.pending) == 0
	a.pending = append(a.pending, pendingEvent{eventID: eventID, hash: hash})

	if wasEmpty && a.cfg.MaxBatchAge > 0 {
		a.armTimerLocked()
	}

	var batch *types.Batch
	var err error
	if len(a.pending) >= a.cfg.MaxBatchSize {
		batch, err = a.flushLocked("size")
	}
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	a.deliver(batch)
	return batch, nil
}

// Flush builds a batch from the current pending state, invoking the ready
// callback. Returns nil when nothing is pending.
func (a *Accumulator) Flush() (*types.Batch, error) {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil, nil
	}
	batch, err := a.flushLocked("manual")
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	a.deliver(batch)
	return batch, nil
}

// Clear discards pending state and cancels the age timer without emitting a
// batch.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	a.disarmTimerLocked()
}

// Pending returns the number of queued events.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// flushLocked builds the batch over pending hashes in insertion order, resets
// pending state, and disarms the timer. Must be called with the lock held;
// the caller delivers the returned batch after releasing it, so the pending
// queue is immediately available to new arrivals during submission.
func (a *Accumulator) flushLocked(reason string) (*types.Batch, error) {
	batch, err := BuildBatch(a.snapshotLocked())
	if err != nil {
		return nil, err
	}

	a.pending = nil
	a.disarmTimerLocked()

	a.logger.Debug("batch ready",
		zap.String("batch_id", batch.BatchID),
		zap.Int("event_count", batch.EventCount()),
		zap.String("reason", reason))
	return batch, nil
}

// deliver hands a flushed batch to the ready callback. Must be called without
// the lock held.
func (a *Accumulator) deliver(batch *types.Batch) {
	if batch != nil && a.onReady != nil {
		a.onReady(batch)
	}
}

// snapshotLocked returns the pending pairs as parallel id/hash slices.
func (a *Accumulator) snapshotLocked() ([]string, []string) {
	ids := make([]string, len(a.pending))
	hashes := make([]string, len(a.pending))
	for i, p := range a.pending {
		ids[i] = p.eventID
		hashes[i] = p.hash
	}
	return ids, hashes
}

// armTimerLocked starts the single-shot age timer.
func (a *Accumulator) armTimerLocked() {
	a.disarmTimerLocked()
	a.timer = time.AfterFunc(a.cfg.MaxBatchAge, a.onTimer)
}

// disarmTimerLocked stops any armed timer.
func (a *Accumulator) disarmTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// onTimer force-flushes on age expiry regardless of count. A batch below
// MinBatchSize is emitted rather than held back: the age bound wins over the
// size floor.
func (a *Accumulator) onTimer() {
	a.mu.Lock()
	a.timer = nil
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	if len(a.pending) < a.cfg.MinBatchSize {
		a.logger.Debug("age flush below min batch size",
			zap.Int("pending", len(a.pending)),
			zap.Int("min_batch_size", a.cfg.MinBatchSize))
	}
	batch, err := a.flushLocked("age")
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("age-triggered flush failed", zap.Error(err))
		return
	}
	a.deliver(batch)
}

// BuildBatch assembles a pending batch record: an ORDERED Merkle tree over
// the hashes in insertion order and a batch id derived from the content, so
// the same ordered event set always yields the same identity.
func BuildBatch(eventIDs, hashes []string) (*types.Batch, error) {
	tree, err := merkle.Build(hashes, merkle.ModeOrdered)
	if err != nil {
		return nil, err
	}

	id, err := digest.HashValue(map[string]interface{}{
		"merkleRoot": tree.Root,
		"eventIds":   eventIDs,
	})
	if err != nil {
		return nil, err
	}

	return &types.Batch{
		BatchID:     "b-" + id[:24],
		MerkleRoot:  tree.Root,
		EventIDs:    append([]string(nil), eventIDs...),
		EventHashes: append([]string(nil), hashes...),
		Status:      types.BatchPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
