package anchor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/batch"
	"github.com/anvilchain/anvilchain/internal/journal"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// Policy selects which event types are anchored. Telemetry defaults off:
// its volume would dominate every batch while carrying the least audit
// value per event.
type Policy struct {
	AnchorAlarms    bool `json:"anchor_alarms" yaml:"anchor_alarms"`
	AnchorTelemetry bool `json:"anchor_telemetry" yaml:"anchor_telemetry"`
	AnchorCommands  bool `json:"anchor_commands" yaml:"anchor_commands"`
}

// DefaultPolicy anchors alarms and commands but not telemetry.
func DefaultPolicy() Policy {
	return Policy{
		AnchorAlarms:   true,
		AnchorCommands: true,
	}
}

// Accepts reports whether an event type should be anchored. Types without a
// toggle (acknowledgements, maintenance, platform events) are always
// anchored; they are rare and always audit-relevant.
func (p Policy) Accepts(t types.EventType) bool {
	switch t {
	case types.EventAlarm:
		return p.AnchorAlarms
	case types.EventTelemetry:
		return p.AnchorTelemetry
	case types.EventCommand:
		return p.AnchorCommands
	default:
		return true
	}
}

// Stats are the orchestrator's cumulative anchoring counters.
type Stats struct {
	TotalEventsAnchored  int        `json:"total_events_anchored"`
	TotalBatchesAnchored int        `json:"total_batches_anchored"`
	TotalFailures        int        `json:"total_failures"`
	EventsDropped        int        `json:"events_dropped"`
	LastAnchorTime       *time.Time `json:"last_anchor_time,omitempty"`
	LastBatchID          string     `json:"last_batch_id,omitempty"`
	LastMerkleRoot       string     `json:"last_merkle_root,omitempty"`
}

// Result reports the outcome of one anchoring attempt to subscribers.
type Result struct {
	Batch *types.Batch
	TxRef string
	Err   error
}

// ResultSink receives anchoring outcomes synchronously, in completion order.
type ResultSink interface {
	OnAnchorResult(r Result)
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(r Result)

// OnAnchorResult calls f.
func (f ResultSinkFunc) OnAnchorResult(r Result) { f(r) }

// Orchestrator is the pipeline head: it filters incoming events by policy,
// journals accepted ones, feeds them to the batch manager, and submits ready
// batches to the ledger. Batch readiness timing belongs to the manager's
// accumulator; the orchestrator only reacts.
//
// A failed submission is retained durably as a FAILED batch and retried by
// RetryFailed oldest-first, ahead of newer work. The retry reuses the stored
// Merkle root, so the root a ledger eventually accepts is identical to the
// one first derived. At-least-once delivery: a submission that reached the
// ledger but failed to report back may be anchored twice.
type Orchestrator struct {
	mu        sync.Mutex
	policy    Policy
	manager   *batch.Manager
	submitter Submitter
	journal   *journal.Journal
	stats     Stats
	sinks     []ResultSink
	logger    *zap.Logger
}

// NewOrchestrator wires the pipeline and installs itself as the manager's
// anchor callback. The journal may be nil for callers that handle durability
// elsewhere; a nil submitter leaves batches PENDING in the store (the
// manager warns on each ready batch).
func NewOrchestrator(policy Policy, manager *batch.Manager, submitter Submitter, jnl *journal.Journal, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		policy:    policy,
		manager:   manager,
		submitter: submitter,
		journal:   jnl,
		logger:    logger,
	}
	if submitter != nil {
		manager.SetAnchorFunc(o.submit)
	}
	return o
}

// Subscribe registers a sink for anchoring outcomes.
func (o *Orchestrator) Subscribe(sink ResultSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, sink)
}

// OnEvent satisfies the alarm detector's sink interface.
func (o *Orchestrator) OnEvent(ev *types.Event) {
	if err := o.Enqueue(context.Background(), ev); err != nil {
		o.logger.Error("failed to enqueue event for anchoring",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

// Enqueue accepts one signed event into the anchoring pipeline. Rejected
// types are counted and dropped; accepted events are journaled before they
// reach the batch queue, so a crash between acceptance and batching is
// recoverable.
func (o *Orchestrator) Enqueue(ctx context.Context, ev *types.Event) error {
	if !o.policy.Accepts(ev.EventType) {
		o.mu.Lock()
		o.stats.EventsDropped++
		o.mu.Unlock()
		return nil
	}

	if o.journal != nil {
		if _, err := o.journal.Append(ev); err != nil {
			return err
		}
	}
	return o.manager.AddEvent(ctx, ev)
}

// Flush forces the pending queue into a batch immediately.
func (o *Orchestrator) Flush() error {
	_, err := o.manager.Flush()
	return err
}

// RetryFailed re-submits every FAILED batch, oldest first, so stalled work
// is anchored ahead of anything newer. Returns the number of batches that
// flipped to ANCHORED.
func (o *Orchestrator) RetryFailed(ctx context.Context) (int, error) {
	failed, err := o.manager.ListBatches(ctx, types.BatchFailed)
	if err != nil {
		return 0, err
	}

	anchored := 0
	for i := len(failed) - 1; i >= 0; i-- {
		ok, err := o.manager.AnchorBatch(ctx, failed[i].BatchID)
		if err != nil {
			return anchored, err
		}
		if ok {
			anchored++
		}
	}
	return anchored, nil
}

// Stats returns a snapshot of the cumulative counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Stop performs one final synchronous drain of the pending queue. Events
// that fail to anchor during the drain remain in the store as a FAILED
// batch for the next start.
func (o *Orchestrator) Stop() error {
	o.logger.Info("anchor orchestrator stopping, draining pending events",
		zap.Int("pending", o.manager.PendingEvents()))
	return o.Flush()
}

// submit is the manager's anchor callback: one ledger submission plus stats
// and subscriber notification.
func (o *Orchestrator) submit(ctx context.Context, b *types.Batch) (string, error) {
	txRef, err := o.submitter.Submit(ctx, b.BatchID, b.MerkleRoot, b.EventCount())

	o.mu.Lock()
	if err != nil {
		o.stats.TotalFailures++
	} else {
		now := time.Now().UTC()
		o.stats.TotalEventsAnchored += b.EventCount()
		o.stats.TotalBatchesAnchored++
		o.stats.LastAnchorTime = &now
		o.stats.LastBatchID = b.BatchID
		o.stats.LastMerkleRoot = b.MerkleRoot
	}
	sinks := make([]ResultSink, len(o.sinks))
	copy(sinks, o.sinks)
	o.mu.Unlock()

	for _, s := range sinks {
		s.OnAnchorResult(Result{Batch: b, TxRef: txRef, Err: err})
	}
	return txRef, err
}
