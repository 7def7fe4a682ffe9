package types

import "time"

// BatchStatus tracks a batch through its anchoring lifecycle.
type BatchStatus string

const (
	BatchPending  BatchStatus = "PENDING"
	BatchAnchored BatchStatus = "ANCHORED"
	BatchFailed   BatchStatus = "FAILED"
)

// Batch is a committed group of events sharing one Merkle root and one
// anchoring attempt. Batches are never deleted: a failed batch is retained
// with its error and retry count so an explicit retry can reuse the stored
// root without rebuilding the tree.
type Batch struct {
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`

	// EventIDs and EventHashes are parallel, in Merkle leaf order. The
	// order is exactly enqueue order and is the basis for both the proof
	// index and the batch identity.
	EventIDs    []string `json:"event_ids"`
	EventHashes []string `json:"event_hashes"`

	Status     BatchStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	TxRef      string      `json:"tx_ref,omitempty"`
	LastError  string      `json:"last_error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	AnchoredAt *time.Time `json:"anchored_at,omitempty"`
}

// EventCount returns the number of events in the batch.
func (b *Batch) EventCount() int {
	return len(b.EventHashes)
}
