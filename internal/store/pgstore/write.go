package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

const uniqueViolation = "23505"

// Store appends events in one transaction using the same conditional stream
// write as sqlitestore.
func (s *Store) Store(ctx context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	if len(events) == 0 {
		return nil
	}
	threadID := events[0].EventPayload().ThreadID
	tail := int64(events[len(events)-1].EventPayload().Version)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Internal(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) // No-op if committed

	var tag pgconn.CommandTag
	if want, ok := expected.Version(); ok {
		tag, err = tx.Exec(ctx, `
			UPDATE thread_event_streams SET version = $1
			WHERE id = $2 AND version = $3
		`, tail, threadID.String(), int64(want))
	} else {
		tag, err = tx.Exec(ctx, `
			INSERT INTO thread_event_streams (id, version) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, threadID.String(), tail)
	}
	if err != nil {
		return store.Internal(fmt.Errorf("write stream: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return conflict(ctx, tx, threadID, expected)
	}
	// The stream row matched, so the stored tail is the expected version.
	base, _ := expected.Version()
	if err := store.Contiguous(threadID, base, events); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		r := thread.RecordOf(e)
		batch.Queue(`
			INSERT INTO thread_events (id, thread_id, kind, message_id, content, version, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ID, r.ThreadID, r.Kind, r.MessageID, r.Content, int64(r.Version), r.AtMs)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.Internal(fmt.Errorf("write events: duplicate version: %w", err))
		}
		return store.Internal(fmt.Errorf("write events: %w", err))
	}

	if err := project(ctx, tx, threadID, expected, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Internal(fmt.Errorf("commit: %w", err))
	}

	s.log.Debug("events stored",
		slog.String("thread_id", threadID.String()),
		slog.Int("num_events", len(events)),
		slog.Int64("version", tail),
	)
	return nil
}

func conflict(ctx context.Context, tx pgx.Tx, threadID id.ThreadID, expected store.ExpectedVersion) error {
	var actual int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM thread_event_streams WHERE id = $1`, threadID.String(),
	).Scan(&actual)
	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return store.Internal(fmt.Errorf("read stream version: %w", err))
	}

	if err := store.Check(threadID, expected, thread.Version(actual), exists); err != nil {
		return err
	}
	return store.Internal(fmt.Errorf("stream %s changed during append", threadID))
}

func project(ctx context.Context, tx pgx.Tx, threadID id.ThreadID, expected store.ExpectedVersion, events []thread.Event) error {
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
	last := sum.LastMessage

	batch := &pgx.Batch{}
	if base == nil {
		batch.Queue(`
			INSERT INTO threads
			(id, created_at, version, replies_count,
			 last_message_id, last_message_number, last_message_content, last_message_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sum.ID.String(), sum.CreatedAt.UnixMilli(), int64(sum.Version), sum.RepliesCount,
			last.ID.String(), last.Number, last.Content, last.CreatedAt.UnixMilli())
	} else {
		batch.Queue(`
			UPDATE threads SET
				version = $1, replies_count = $2,
				last_message_id = $3, last_message_number = $4, last_message_content = $5, last_message_at = $6
			WHERE id = $7
		`, int64(sum.Version), sum.RepliesCount,
			last.ID.String(), last.Number, last.Content, last.CreatedAt.UnixMilli(), sum.ID.String())
	}
	for _, m := range added {
		batch.Queue(`
			INSERT INTO thread_messages (id, thread_id, number, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ID.String(), threadID.String(), m.Number, m.Content, m.CreatedAt.UnixMilli())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return store.Internal(fmt.Errorf("write projection: %w", err))
	}
	return nil
}
