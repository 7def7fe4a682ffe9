package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/anchor"
	"github.com/anvilchain/anvilchain/internal/bloom"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// Manifest is the archived record of one anchored batch: everything a
// third party needs to verify membership proofs offline. The bloom filter
// is the serialized per-batch event-hash filter, base64-encoded.
type Manifest struct {
	Batch       *types.Batch `json:"batch"`
	TxRef       string       `json:"tx_ref"`
	BloomFilter string       `json:"bloom_filter,omitempty"`
	ArchivedAt  time.Time    `json:"archived_at"`
}

// Archiver writes a manifest to the object store for every successfully
// anchored batch. It subscribes to the orchestrator's result stream.
type Archiver struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewArchiver creates an archiver backed by store.
func NewArchiver(store ObjectStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, logger: logger}
}

// manifestPath returns the archive location for one batch.
func manifestPath(batchID string) string {
	return fmt.Sprintf("manifests/%s.json", batchID)
}

// OnAnchorResult archives anchored batches. Failed attempts are ignored;
// archive errors are logged, never propagated into the anchoring path.
func (a *Archiver) OnAnchorResult(r anchor.Result) {
	if r.Err != nil || r.Batch == nil {
		return
	}
	if err := a.Archive(context.Background(), r.Batch, r.TxRef); err != nil {
		a.logger.Error("failed to archive batch manifest",
			zap.String("batch_id", r.Batch.BatchID),
			zap.Error(err))
	}
}

// Archive writes the manifest for one anchored batch, rebuilding the bloom
// filter from the batch's event hashes.
func (a *Archiver) Archive(ctx context.Context, b *types.Batch, txRef string) error {
	filter := bloom.NewWithEstimates(b.EventCount(), 0.001)
	for _, h := range b.EventHashes {
		filter.Add([]byte(h))
	}

	m := Manifest{
		Batch:       b,
		TxRef:       txRef,
		BloomFilter: base64.StdEncoding.EncodeToString(filter.Serialize()),
		ArchivedAt:  time.Now().UTC(),
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := a.store.Put(ctx, manifestPath(b.BatchID), data); err != nil {
		return err
	}

	a.logger.Info("batch manifest archived",
		zap.String("batch_id", b.BatchID),
		zap.String("tx_ref", txRef))
	return nil
}

// Load reads an archived manifest. Returns (nil, nil) when none exists.
func (a *Archiver) Load(ctx context.Context, batchID string) (*Manifest, error) {
	data, err := a.store.Get(ctx, manifestPath(batchID))
	if err == ErrObjectNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// LoadFilter reconstructs the bloom filter from an archived manifest.
func (m *Manifest) LoadFilter() (*bloom.Filter, error) {
	if m.BloomFilter == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(m.BloomFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bloom filter: %w", err)
	}
	return bloom.Deserialize(raw)
}
