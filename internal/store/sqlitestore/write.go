package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Store appends events in one transaction.
//
// The compare step is the stream row write itself: a new stream is inserted
// with ON CONFLICT DO NOTHING and an existing one is updated with
// WHERE version = <expected>. Zero affected rows mean the check failed, and
// the stream row is re-read only to report why.
func (s *Store) Store(ctx context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	if len(events) == 0 {
		return nil
	}
	threadID := events[0].EventPayload().ThreadID
	tail := events[len(events)-1].EventPayload().Version

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Internal(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	var res sql.Result
	if want, ok := expected.Version(); ok {
		res, err = tx.ExecContext(ctx, `
			UPDATE thread_event_streams SET version = ?
			WHERE id = ? AND version = ?
		`, tail, threadID.String(), want)
	} else {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO thread_event_streams (id, version) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING
		`, threadID.String(), tail)
	}
	if err != nil {
		return store.Internal(fmt.Errorf("write stream: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Internal(fmt.Errorf("write stream: %w", err))
	}
	if n == 0 {
		return conflict(ctx, tx, threadID, expected)
	}
	// The stream row matched, so the stored tail is the expected version.
	base, _ := expected.Version()
	if err := store.Contiguous(threadID, base, events); err != nil {
		return err
	}

	for _, e := range events {
		if err := insertEvent(ctx, tx, thread.RecordOf(e)); err != nil {
			return err
		}
	}

	if err := project(ctx, tx, threadID, expected, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return store.Internal(fmt.Errorf("commit: %w", err))
	}

	s.log.Debug("events stored",
		slog.String("thread_id", threadID.String()),
		slog.Int("num_events", len(events)),
		slog.Uint64("version", uint64(tail)),
	)
	return nil
}

// conflict explains a failed stream write.
func conflict(ctx context.Context, tx *sql.Tx, threadID id.ThreadID, expected store.ExpectedVersion) error {
	var actual uint32
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM thread_event_streams WHERE id = ?`, threadID.String(),
	).Scan(&actual)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return store.Internal(fmt.Errorf("read stream version: %w", err))
	}

	if err := store.Check(threadID, expected, thread.Version(actual), exists); err != nil {
		return err
	}
	// The conditional write failed yet the re-read agrees with the caller.
	return store.Internal(fmt.Errorf("stream %s changed during append", threadID))
}

func insertEvent(ctx context.Context, tx *sql.Tx, r thread.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO thread_events (id, thread_id, kind, message_id, content, version, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ThreadID, r.Kind, r.MessageID, r.Content, r.Version, r.AtMs)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return store.Internal(fmt.Errorf("write event %s: duplicate version %d: %w", r.ID, r.Version, err))
		}
		return store.Internal(fmt.Errorf("write event %s: %w", r.ID, err))
	}
	return nil
}

// project folds events into the threads and thread_messages rows.
func project(ctx context.Context, tx *sql.Tx, threadID id.ThreadID, expected store.ExpectedVersion, events []thread.Event) error {
	var base *readmodel.Summary
	if !expected.IsNoStream() {
		sum, ok, err := getSummary(ctx, tx, threadID)
		if err != nil {
			return err
		}
		if !ok {
			return store.Internal(fmt.Errorf("projection missing for thread %s", threadID))
		}
		base = &sum
	}

	sum, added := store.Fold(base, events)

	var err error
	if base == nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO threads
			(id, created_at, version, replies_count,
			 last_message_id, last_message_number, last_message_content, last_message_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sum.ID.String(), sum.CreatedAt.UnixMilli(), sum.Version, sum.RepliesCount,
			sum.LastMessage.ID.String(), sum.LastMessage.Number, sum.LastMessage.Content, sum.LastMessage.CreatedAt.UnixMilli())
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE threads SET
				version = ?, replies_count = ?,
				last_message_id = ?, last_message_number = ?, last_message_content = ?, last_message_at = ?
			WHERE id = ?
		`, sum.Version, sum.RepliesCount,
			sum.LastMessage.ID.String(), sum.LastMessage.Number, sum.LastMessage.Content, sum.LastMessage.CreatedAt.UnixMilli(),
			sum.ID.String())
	}
	if err != nil {
		return store.Internal(fmt.Errorf("write projection: %w", err))
	}

	for _, m := range added {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thread_messages (id, thread_id, number, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.ID.String(), threadID.String(), m.Number, m.Content, m.CreatedAt.UnixMilli())
		if err != nil {
			return store.Internal(fmt.Errorf("write message %s: %w", m.ID, err))
		}
	}
	return nil
}
