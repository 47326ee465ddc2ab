package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const summaryColumns = `id, created_at, version, replies_count,
	last_message_id, last_message_number, last_message_content, last_message_at`

// Find replays the stored stream of threadID.
func (s *Store) Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	events, err := s.Events(ctx, threadID)
	if err != nil {
		return thread.Thread{}, false, err
	}
	if len(events) == 0 {
		return thread.Thread{}, false, nil
	}
	return thread.Replay(events), true, nil
}

// Events returns the stream of threadID ordered by version.
func (s *Store) Events(ctx context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, id, thread_id, message_id, content, version, at
		FROM thread_events
		WHERE thread_id = $1
		ORDER BY version ASC
	`, threadID.String())
	if err != nil {
		return nil, store.Internal(fmt.Errorf("query events: %w", err))
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (thread.Record, error) {
		var (
			r       thread.Record
			version int64
		)
		err := row.Scan(&r.Kind, &r.ID, &r.ThreadID, &r.MessageID, &r.Content, &version, &r.AtMs)
		r.Version = uint32(version)
		return r, err
	})
	if err != nil {
		return nil, store.Internal(fmt.Errorf("scan events: %w", err))
	}

	events, err := thread.DecodeRecords(records)
	if err != nil {
		return nil, store.Internal(err)
	}
	return events, nil
}

// GetThread returns the stored projection including its messages. The
// summary and the messages are read from one snapshot.
func (s *Store) GetThread(ctx context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("begin read: %w", err))
	}
	defer tx.Rollback(ctx) // Read-only, nothing to commit

	sum, ok, err := getSummary(ctx, tx, threadID)
	if err != nil || !ok {
		return readmodel.Thread{}, false, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, number, content, created_at
		FROM thread_messages
		WHERE thread_id = $1
		ORDER BY number ASC
	`, threadID.String())
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("query messages: %w", err))
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (readmodel.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("scan messages: %w", err))
	}

	rt := readmodel.FromSummary(sum)
	rt.Messages = messages
	if rt.Messages == nil {
		rt.Messages = []readmodel.Message{}
	}
	return rt, true, nil
}

// ListThreads returns all summaries ordered by created_at, then id.
func (s *Store) ListThreads(ctx context.Context) ([]readmodel.Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+summaryColumns+`
		FROM threads
		ORDER BY created_at ASC, id COLLATE "C" ASC
	`)
	if err != nil {
		return nil, store.Internal(fmt.Errorf("query threads: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (readmodel.Summary, error) {
		return scanSummary(row)
	})
	if err != nil {
		return nil, store.Internal(fmt.Errorf("scan threads: %w", err))
	}
	if out == nil {
		out = []readmodel.Summary{}
	}
	return out, nil
}

// GetMessage looks up one message in the projection.
func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	var (
		rawThreadID, rawID string
		atMs               int64
		m                  readmodel.Message
	)
	err := s.pool.QueryRow(ctx, `
		SELECT thread_id, id, number, content, created_at
		FROM thread_messages
		WHERE id = $1
	`, messageID.String()).Scan(&rawThreadID, &rawID, &m.Number, &m.Content, &atMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return readmodel.ThreadMessage{}, false, nil
	}
	if err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(fmt.Errorf("query message: %w", err))
	}

	tid, err := id.ParseThreadID(rawThreadID)
	if err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(err)
	}
	if m.ID, err = id.ParseMessageID(rawID); err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(err)
	}
	m.CreatedAt = fromMillis(atMs)
	return readmodel.ThreadMessage{ThreadID: tid, Message: m}, true, nil
}

func getSummary(ctx context.Context, q querier, threadID id.ThreadID) (readmodel.Summary, bool, error) {
	sum, err := scanSummary(q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM threads WHERE id = $1`, threadID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return readmodel.Summary{}, false, nil
	}
	if err != nil {
		return readmodel.Summary{}, false, store.Internal(err)
	}
	return sum, true, nil
}

func scanSummary(row pgx.Row) (readmodel.Summary, error) {
	var (
		rawID, rawLastID string
		createdAt, atMs  int64
		version          int64
		sum              readmodel.Summary
	)
	err := row.Scan(&rawID, &createdAt, &version, &sum.RepliesCount,
		&rawLastID, &sum.LastMessage.Number, &sum.LastMessage.Content, &atMs)
	if err != nil {
		return readmodel.Summary{}, err
	}
	if sum.ID, err = id.ParseThreadID(rawID); err != nil {
		return readmodel.Summary{}, fmt.Errorf("decode thread: %w", err)
	}
	if sum.LastMessage.ID, err = id.ParseMessageID(rawLastID); err != nil {
		return readmodel.Summary{}, fmt.Errorf("decode thread %s: %w", rawID, err)
	}
	sum.CreatedAt = fromMillis(createdAt)
	sum.Version = thread.Version(version)
	sum.LastMessage.CreatedAt = fromMillis(atMs)
	return sum, nil
}

func scanMessage(row pgx.Row) (readmodel.Message, error) {
	var (
		rawID string
		atMs  int64
		m     readmodel.Message
	)
	if err := row.Scan(&rawID, &m.Number, &m.Content, &atMs); err != nil {
		return readmodel.Message{}, err
	}
	var err error
	if m.ID, err = id.ParseMessageID(rawID); err != nil {
		return readmodel.Message{}, fmt.Errorf("decode message: %w", err)
	}
	m.CreatedAt = fromMillis(atMs)
	return m, nil
}
