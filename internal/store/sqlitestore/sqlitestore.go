// Package sqlitestore is a store.Store on SQLite.
//
// Connections are opened with WAL journaling, synchronous=NORMAL, a five
// second busy timeout and foreign keys on, all set through the DSN so every
// pooled connection gets them.
//
// Each append runs in one transaction holding the conditional stream update,
// the event inserts and the projection writes. GetThread reads the summary
// and its messages in one read transaction. All listing queries order
// deterministically with a binary id tiebreak.
package sqlitestore

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/threads/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stamped into PRAGMA user_version by schema.sql. A
// database stamped with a later version was written by a newer build and
// is refused.
const schemaVersion = 1

// Store is a SQLite-backed store.Store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// dsn adds the connection settings to path.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "1")
	return "file:" + path + "?" + params.Encode()
}

// Open creates or opens the database at path and brings its schema up to
// date. Opening the same path again is safe.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema %s: %w", path, err)
	}

	s := &Store{db: db, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "sqlite"))
	return s, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
