// Package batch owns the batch lifecycle: durable batch and event records,
// anchoring attempts with retry, and Merkle proof service for any event in a
// stored batch.
package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anvilchain/anvilchain/pkg/types"
)

// Store persists batches and events. Implementations must treat absence as a
// non-error: Get* methods return (nil, nil) for unknown ids.
type Store interface {
	// PutBatch inserts a new batch record with its ordered event hashes.
	PutBatch(ctx context.Context, b *types.Batch) error

	// GetBatch retrieves a batch by id, with event ids and hashes in
	// Merkle leaf order. Returns (nil, nil) when the batch is unknown.
	GetBatch(ctx context.Context, batchID string) (*types.Batch, error)

	// ListBatches returns batches with the given status, or all batches
	// when status is empty, newest first.
	ListBatches(ctx context.Context, status types.BatchStatus) ([]*types.Batch, error)

	// UpdateBatchOutcome records the result of an anchoring attempt.
	UpdateBatchOutcome(ctx context.Context, batchID string, status types.BatchStatus, txRef, lastError string, retryCount int, anchoredAt *time.Time) error

	// PutEvent inserts an event record.
	PutEvent(ctx context.Context, ev *types.Event) error

	// GetEvent retrieves an event by id. Returns (nil, nil) when unknown.
	GetEvent(ctx context.Context, eventID string) (*types.Event, error)

	// HasEvent reports whether an event id is stored. Used by journal
	// recovery to skip already-processed events.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// MarkEventsBatched transitions events into BATCHED under the given
	// batch, recording each event's Merkle leaf index.
	MarkEventsBatched(ctx context.Context, batchID string, eventIDs []string) error

	// MarkEventsAnchored transitions a batch's events into ANCHORED with
	// the external transaction reference.
	MarkEventsAnchored(ctx context.Context, batchID, txRef string, anchoredAt time.Time) error

	// CountBatchedEvents counts events assigned to any batch.
	CountBatchedEvents(ctx context.Context) (int, error)

	// Close releases the underlying database handles.
	Close() error
}

// SQLiteStore implements Store using SQLite, with a single write connection
// in WAL mode and a read-only connection pool for concurrent lookups.
type SQLiteStore struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool
	mu     sync.Mutex

	insertBatchStmt *sql.Stmt
	insertLeafStmt  *sql.Stmt
	insertEventStmt *sql.Stmt
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id    TEXT PRIMARY KEY,
	merkle_root TEXT NOT NULL,
	status      TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	tx_ref      TEXT,
	last_error  TEXT,
	event_count INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	anchored_at INTEGER
);

CREATE TABLE IF NOT EXISTS batch_leaves (
	batch_id     TEXT NOT NULL,
	merkle_index INTEGER NOT NULL,
	event_id     TEXT NOT NULL,
	event_hash   TEXT NOT NULL,
	PRIMARY KEY (batch_id, merkle_index)
);

CREATE INDEX IF NOT EXISTS idx_batch_leaves_hash ON batch_leaves(event_hash);

CREATE TABLE IF NOT EXISTS events (
	event_id      TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	site_id       TEXT NOT NULL,
	event_hash    TEXT NOT NULL,
	anchor_status TEXT NOT NULL,
	batch_id      TEXT,
	merkle_index  INTEGER,
	tx_ref        TEXT,
	anchored_at   INTEGER,
	body          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_hash ON events(event_hash);
CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id);
`

// NewSQLiteStore opens (creating if necessary) the batch store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("batch: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("batch: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db, readDB: readDB}

	if _, err := db.Exec(schemaSQL); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("batch: failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.insertBatchStmt, err = s.db.Prepare(`
		INSERT INTO batches (batch_id, merkle_root, status, retry_count, tx_ref, last_error, event_count, created_at, anchored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("batch: failed to prepare batch insert: %w", err)
	}
	s.insertLeafStmt, err = s.db.Prepare(`
		INSERT INTO batch_leaves (batch_id, merkle_index, event_id, event_hash)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("batch: failed to prepare leaf insert: %w", err)
	}
	s.insertEventStmt, err = s.db.Prepare(`
		INSERT INTO events (event_id, event_type, site_id, event_hash, anchor_status, batch_id, merkle_index, tx_ref, anchored_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("batch: failed to prepare event insert: %w", err)
	}
	return nil
}

// PutBatch inserts a batch and its leaves in one transaction.
func (s *SQLiteStore) PutBatch(ctx context.Context, b *types.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.insertBatchStmt).ExecContext(ctx,
		b.BatchID, b.MerkleRoot, string(b.Status), b.RetryCount,
		nullable(b.TxRef), nullable(b.LastError),
		b.EventCount(), b.CreatedAt.Unix(), nullableTime(b.AnchoredAt),
	); err != nil {
		return fmt.Errorf("batch: failed to insert batch: %w", err)
	}

	leafStmt := tx.StmtContext(ctx, s.insertLeafStmt)
	for i := range b.EventHashes {
		if _, err := leafStmt.ExecContext(ctx, b.BatchID, i, b.EventIDs[i], b.EventHashes[i]); err != nil {
			return fmt.Errorf("batch: failed to insert leaf %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetBatch retrieves a batch with its leaves in Merkle order.
func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT batch_id, merkle_root, status, retry_count, tx_ref, last_error, created_at, anchored_at
		FROM batches WHERE batch_id = ?`, batchID)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batch: failed to query batch: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT event_id, event_hash FROM batch_leaves
		WHERE batch_id = ? ORDER BY merkle_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to query leaves: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("batch: failed to scan leaf: %w", err)
		}
		b.EventIDs = append(b.EventIDs, id)
		b.EventHashes = append(b.EventHashes, hash)
	}
	return b, rows.Err()
}

// ListBatches returns batches filtered by status, newest first.
func (s *SQLiteStore) ListBatches(ctx context.Context, status types.BatchStatus) ([]*types.Batch, error) {
	query := `SELECT batch_id, merkle_root, status, retry_count, tx_ref, last_error, created_at, anchored_at FROM batches`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*types.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("batch: failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatchOutcome records the result of one anchoring attempt.
func (s *SQLiteStore) UpdateBatchOutcome(ctx context.Context, batchID string, status types.BatchStatus, txRef, lastError string, retryCount int, anchoredAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, tx_ref = ?, last_error = ?, retry_count = ?, anchored_at = ?
		WHERE batch_id = ?`,
		string(status), nullable(txRef), nullable(lastError), retryCount, nullableTime(anchoredAt), batchID)
	if err != nil {
		return fmt.Errorf("batch: failed to update batch outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("batch: unknown batch %s", batchID)
	}
	return nil
}

// PutEvent inserts an event record with its full body as JSON.
func (s *SQLiteStore) PutEvent(ctx context.Context, ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("batch: failed to marshal event: %w", err)
	}

	_, err = s.insertEventStmt.ExecContext(ctx,
		ev.ID, string(ev.EventType), ev.SiteID, ev.Hash, string(ev.AnchorStatus),
		nullable(ev.BatchID), nullableInt(ev.MerkleIndex), nullable(ev.TxRef),
		nullableTime(ev.AnchoredAt), string(body))
	if err != nil {
		return fmt.Errorf("batch: failed to insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by id, reconstructed from its stored body with
// the current anchor columns applied.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*types.Event, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT body, anchor_status, batch_id, merkle_index, tx_ref, anchored_at
		FROM events WHERE event_id = ?`, eventID)

	var (
		body        string
		status      string
		batchID     sql.NullString
		merkleIndex sql.NullInt64
		txRef       sql.NullString
		anchoredAt  sql.NullInt64
	)
	err := row.Scan(&body, &status, &batchID, &merkleIndex, &txRef, &anchoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batch: failed to query event: %w", err)
	}

	var ev types.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, fmt.Errorf("batch: failed to unmarshal event body: %w", err)
	}

	ev.AnchorStatus = types.AnchorStatus(status)
	if batchID.Valid {
		ev.BatchID = batchID.String
	}
	if merkleIndex.Valid {
		idx := int(merkleIndex.Int64)
		ev.MerkleIndex = &idx
	}
	if txRef.Valid {
		ev.TxRef = txRef.String
	}
	if anchoredAt.Valid {
		t := time.Unix(anchoredAt.Int64, 0).UTC()
		ev.AnchoredAt = &t
	}
	return &ev, nil
}

// HasEvent reports whether an event id is stored.
func (s *SQLiteStore) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.readDB.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("batch: failed to check event: %w", err)
	}
	return true, nil
}

// MarkEventsBatched transitions events to BATCHED, recording batch id and
// leaf index.
func (s *SQLiteStore) MarkEventsBatched(ctx context.Context, batchID string, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("batch: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range eventIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET anchor_status = ?, batch_id = ?, merkle_index = ?
			WHERE event_id = ?`,
			string(types.AnchorBatched), batchID, i, id); err != nil {
			return fmt.Errorf("batch: failed to mark event %s batched: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkEventsAnchored transitions all of a batch's events to ANCHORED.
func (s *SQLiteStore) MarkEventsAnchored(ctx context.Context, batchID, txRef string, anchoredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET anchor_status = ?, tx_ref = ?, anchored_at = ?
		WHERE batch_id = ?`,
		string(types.AnchorAnchored), txRef, anchoredAt.Unix(), batchID)
	if err != nil {
		return fmt.Errorf("batch: failed to mark events anchored: %w", err)
	}
	return nil
}

// CountBatchedEvents counts events that have been assigned to a batch.
func (s *SQLiteStore) CountBatchedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE batch_id IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("batch: failed to count batched events: %w", err)
	}
	return n, nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertBatchStmt != nil {
		s.insertBatchStmt.Close()
	}
	if s.insertLeafStmt != nil {
		s.insertLeafStmt.Close()
	}
	if s.insertEventStmt != nil {
		s.insertEventStmt.Close()
	}
	if err := s.readDB.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanBatch.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row scanner) (*types.Batch, error) {
	var (
		b          types.Batch
		status     string
		txRef      sql.NullString
		lastError  sql.NullString
		createdAt  int64
		anchoredAt sql.NullInt64
	)
	if err := row.Scan(&b.BatchID, &b.MerkleRoot, &status, &b.RetryCount, &txRef, &lastError, &createdAt, &anchoredAt); err != nil {
		return nil, err
	}
	b.Status = types.BatchStatus(status)
	if txRef.Valid {
		b.TxRef = txRef.String
	}
	if lastError.Valid {
		b.LastError = lastError.String
	}
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	if anchoredAt.Valid {
		t := time.Unix(anchoredAt.Int64, 0).UTC()
		b.AnchoredAt = &t
	}
	return &b, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
