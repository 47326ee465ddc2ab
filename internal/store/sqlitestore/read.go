package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
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
// Returns an empty slice (not nil) for an unknown thread.
func (s *Store) Events(ctx context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, thread_id, message_id, content, version, at
		FROM thread_events
		WHERE thread_id = ?
		ORDER BY version ASC
	`, threadID.String())
	if err != nil {
		return nil, store.Internal(fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	records := []thread.Record{}
	for rows.Next() {
		var r thread.Record
		if err := rows.Scan(&r.Kind, &r.ID, &r.ThreadID, &r.MessageID, &r.Content, &r.Version, &r.AtMs); err != nil {
			return nil, store.Internal(fmt.Errorf("scan event: %w", err))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Internal(fmt.Errorf("iterate events: %w", err))
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
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("begin read: %w", err))
	}
	defer tx.Rollback() // Read-only, nothing to commit

	sum, ok, err := getSummary(ctx, tx, threadID)
	if err != nil || !ok {
		return readmodel.Thread{}, false, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, number, content, created_at
		FROM thread_messages
		WHERE thread_id = ?
		ORDER BY number ASC
	`, threadID.String())
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("query messages: %w", err))
	}
	defer rows.Close()

	rt := readmodel.FromSummary(sum)
	rt.Messages = []readmodel.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return readmodel.Thread{}, false, err
		}
		rt.Messages = append(rt.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("iterate messages: %w", err))
	}
	return rt, true, nil
}

// ListThreads returns all summaries ordered by created_at, then id.
func (s *Store) ListThreads(ctx context.Context) ([]readmodel.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM threads
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, store.Internal(fmt.Errorf("query threads: %w", err))
	}
	defer rows.Close()

	out := []readmodel.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Internal(fmt.Errorf("iterate threads: %w", err))
	}
	return out, nil
}

// GetMessage looks up one message in the projection.
func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, id, number, content, created_at
		FROM thread_messages
		WHERE id = ?
	`, messageID.String())

	var (
		rawThreadID string
		tm          readmodel.ThreadMessage
	)
	m, err := scanMessage(prefixScanner{row: row, prefix: []any{&rawThreadID}})
	if errors.Is(err, sql.ErrNoRows) {
		return readmodel.ThreadMessage{}, false, nil
	}
	if err != nil {
		return readmodel.ThreadMessage{}, false, err
	}
	tm.Message = m
	if tm.ThreadID, err = id.ParseThreadID(rawThreadID); err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(fmt.Errorf("decode message %s: %w", messageID, err))
	}
	return tm, true, nil
}

func getSummary(ctx context.Context, q queryer, threadID id.ThreadID) (readmodel.Summary, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM threads WHERE id = ?`, threadID.String())
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return readmodel.Summary{}, false, nil
	}
	if err != nil {
		return readmodel.Summary{}, false, err
	}
	return sum, true, nil
}

func scanSummary(sc scanner) (readmodel.Summary, error) {
	var (
		rawID, rawLastID string
		createdAt, atMs  int64
		version          uint32
		sum              readmodel.Summary
	)
	err := sc.Scan(&rawID, &createdAt, &version, &sum.RepliesCount,
		&rawLastID, &sum.LastMessage.Number, &sum.LastMessage.Content, &atMs)
	if errors.Is(err, sql.ErrNoRows) {
		return readmodel.Summary{}, err
	}
	if err != nil {
		return readmodel.Summary{}, store.Internal(fmt.Errorf("scan thread: %w", err))
	}

	if sum.ID, err = id.ParseThreadID(rawID); err != nil {
		return readmodel.Summary{}, store.Internal(fmt.Errorf("decode thread: %w", err))
	}
	if sum.LastMessage.ID, err = id.ParseMessageID(rawLastID); err != nil {
		return readmodel.Summary{}, store.Internal(fmt.Errorf("decode thread %s: %w", rawID, err))
	}
	sum.CreatedAt = fromMillis(createdAt)
	sum.Version = thread.Version(version)
	sum.LastMessage.CreatedAt = fromMillis(atMs)
	return sum, nil
}

func scanMessage(sc scanner) (readmodel.Message, error) {
	var (
		rawID string
		atMs  int64
		m     readmodel.Message
	)
	err := sc.Scan(&rawID, &m.Number, &m.Content, &atMs)
	if errors.Is(err, sql.ErrNoRows) {
		return readmodel.Message{}, err
	}
	if err != nil {
		return readmodel.Message{}, store.Internal(fmt.Errorf("scan message: %w", err))
	}
	if m.ID, err = id.ParseMessageID(rawID); err != nil {
		return readmodel.Message{}, store.Internal(fmt.Errorf("decode message: %w", err))
	}
	m.CreatedAt = fromMillis(atMs)
	return m, nil
}

// prefixScanner scans extra leading columns before handing the rest over.
type prefixScanner struct {
	row    scanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.row.Scan(append(p.prefix, dest...)...)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
