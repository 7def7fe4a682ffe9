package journal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	anverr "github.com/anvilchain/anvilchain/internal/errors"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// EventChecker answers whether an event id already reached durable batch
// storage. Satisfied by the batch store.
type EventChecker interface {
	HasEvent(ctx context.Context, eventID string) (bool, error)
}

// Replay walks every segment in order and invokes fn for each intact record.
// fn returning an error aborts the replay.
func Replay(dir string, fn func(*Record) error) error {
	paths, err := listSegments(dir)
	if err != nil {
		return err
	}

	for _, path := range paths {
		records, err := readSegment(path)
		if err != nil {
			return fmt.Errorf("failed to replay segment %s: %w", path, err)
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Recover replays the journal and hands events that never reached the batch
// store to enqueue, in journal order. Returns the number of re-enqueued
// events.
func Recover(ctx context.Context, dir string, checker EventChecker, enqueue func(*types.Event) error, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	recovered := 0
	err := Replay(dir, func(rec *Record) error {
		if rec.Event == nil || rec.Event.ID == "" {
			return nil
		}
		known, err := checker.HasEvent(ctx, rec.Event.ID)
		if err != nil {
			return anverr.NewJournalError(anverr.CodeRecoveryFailed, "failed to check event during recovery", err)
		}
		if known {
			return nil
		}
		if err := enqueue(rec.Event); err != nil {
			return anverr.NewJournalError(anverr.CodeRecoveryFailed, "failed to re-enqueue recovered event", err)
		}
		recovered++
		return nil
	})
	if err != nil {
		return recovered, err
	}

	if recovered > 0 {
		logger.Info("journal recovery complete",
			zap.String("dir", dir),
			zap.Int("recovered_events", recovered))
	}
	return recovered, nil
}
