// Package pgstore is a store.Store on PostgreSQL via pgx.
//
// The layout mirrors sqlitestore: a stream table whose version column is the
// optimistic lock, an append-only event table with UNIQUE(thread_id,
// version), and the projection tables, all written in one pgx.Tx.
// Under READ COMMITTED a concurrent append to the same stream blocks on the
// stream row and then finds its WHERE version = <expected> no longer true.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/threads/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return New(pool, opts...), nil
}

// New wraps an existing pool. Close closes it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "postgres"))
	return s
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate deletes every row. Used by tests sharing one database.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE thread_messages, threads, thread_events, thread_event_streams`)
	return err
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
