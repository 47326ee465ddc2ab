// Package badgerstore is a store.Store on the Badger embedded key-value store.
//
// Keys:
//
//	stream:{thread_id}                 tail version, decimal
//	event:{thread_id}:{version%010d}   JSON thread.Record
//	thread:{thread_id}                 JSON summary row
//	message:{thread_id}:{number%04d}   JSON message row
//	msgidx:{message_id}                message key
//
// Zero padding keeps prefix scans in stream and message order. Every append
// is one read-write transaction that reads the stream key; Badger's
// serializable conflict detection rejects the later of two transactions that
// read the same tail, which is reported as a version mismatch.
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Store is a Badger-backed store.Store.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens or creates a database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an open database. Close closes it.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "badger"))
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func streamKey(t id.ThreadID) []byte { return []byte("stream:" + t.String()) }
func threadKey(t id.ThreadID) []byte { return []byte("thread:" + t.String()) }
func msgIndexKey(m id.MessageID) []byte { return []byte("msgidx:" + m.String()) }

func eventPrefix(t id.ThreadID) []byte { return []byte("event:" + t.String() + ":") }
func eventKey(t id.ThreadID, v thread.Version) []byte {
	return fmt.Appendf(eventPrefix(t), "%010d", uint32(v))
}

func messagePrefix(t id.ThreadID) []byte { return []byte("message:" + t.String() + ":") }
func messageKey(t id.ThreadID, number int) []byte {
	return fmt.Appendf(messagePrefix(t), "%04d", number)
}

var threadPrefix = []byte("thread:")

type messageRow struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

type summaryRow struct {
	ID           string     `json:"id"`
	CreatedAt    int64      `json:"created_at"`
	Version      uint32     `json:"version"`
	RepliesCount int        `json:"replies_count"`
	LastMessage  messageRow `json:"last_message"`
}

func toMessageRow(m readmodel.Message) messageRow {
	return messageRow{ID: m.ID.String(), Number: m.Number, Content: m.Content, CreatedAt: m.CreatedAt.UnixMilli()}
}

func (r messageRow) message() (readmodel.Message, error) {
	mid, err := id.ParseMessageID(r.ID)
	if err != nil {
		return readmodel.Message{}, err
	}
	return readmodel.Message{ID: mid, Number: r.Number, Content: r.Content, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()}, nil
}

func toSummaryRow(s readmodel.Summary) summaryRow {
	return summaryRow{
		ID:           s.ID.String(),
		CreatedAt:    s.CreatedAt.UnixMilli(),
		Version:      s.Version.Uint32(),
		RepliesCount: s.RepliesCount,
		LastMessage:  toMessageRow(s.LastMessage),
	}
}

func (r summaryRow) summary() (readmodel.Summary, error) {
	tid, err := id.ParseThreadID(r.ID)
	if err != nil {
		return readmodel.Summary{}, err
	}
	last, err := r.LastMessage.message()
	if err != nil {
		return readmodel.Summary{}, err
	}
	return readmodel.Summary{
		ID:           tid,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		Version:      thread.Version(r.Version),
		RepliesCount: r.RepliesCount,
		LastMessage:  last,
	}, nil
}

// getJSON loads key into v. It reports false for a missing key.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return unmarshal(val, v)
	})
}
