// Package memstore is an in-process store.Store for tests and development.
//
// The whole store is guarded by a single RWMutex. Appends to different
// threads therefore serialize against each other; that is acceptable for a
// process-local store. A deployment that needs concurrent writers should use
// a SQL backend, whose row-level version check serializes per thread only.
package memstore

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

type messageRef struct {
	threadID id.ThreadID
	index    int
}

// Store keeps streams and projections in maps.
type Store struct {
	mu       sync.RWMutex
	log      *slog.Logger
	streams  map[id.ThreadID][]thread.Event
	threads  map[id.ThreadID]*readmodel.Thread
	messages map[id.MessageID]messageRef
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		log:      slog.Default(),
		streams:  map[id.ThreadID][]thread.Event{},
		threads:  map[id.ThreadID]*readmodel.Thread{},
		messages: map[id.MessageID]messageRef{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("store", "memory"))
	return s
}

// Find replays the stream of threadID.
func (s *Store) Find(_ context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.streams[threadID]
	if !ok {
		return thread.Thread{}, false, nil
	}
	return thread.Replay(events), true, nil
}

// Store appends events. The check and both writes happen under the
// exclusive lock, and the maps are only assigned once the fold succeeded.
func (s *Store) Store(_ context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	if len(events) == 0 {
		return nil
	}
	threadID := events[0].EventPayload().ThreadID

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, exists := s.streams[threadID]
	var actual thread.Version
	if exists {
		actual = stream[len(stream)-1].EventPayload().Version
	}
	if err := store.Check(threadID, expected, actual, exists); err != nil {
		return err
	}

	if err := store.Contiguous(threadID, actual, events); err != nil {
		return err
	}

	// Fold into a copy so a bad stream leaves both maps untouched.
	var rt readmodel.Thread
	rest := events
	if cur, ok := s.threads[threadID]; ok {
		rt = cur.Clone()
	} else {
		rt = readmodel.Replay(events[:1])
		rest = events[1:]
	}
	for _, e := range rest {
		rt.Apply(e)
	}

	s.streams[threadID] = append(slices.Clip(stream), events...)
	s.threads[threadID] = &rt
	for i := len(rt.Messages) - len(events); i < len(rt.Messages); i++ {
		s.messages[rt.Messages[i].ID] = messageRef{threadID: threadID, index: i}
	}

	s.log.Debug("events stored",
		slog.String("thread_id", threadID.String()),
		slog.Int("num_events", len(events)),
		slog.Uint64("version", uint64(rt.Version)),
	)
	return nil
}

// GetThread returns a copy of the projection.
func (s *Store) GetThread(_ context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.threads[threadID]
	if !ok {
		return readmodel.Thread{}, false, nil
	}
	return rt.Clone(), true, nil
}

// ListThreads returns all summaries, oldest first.
func (s *Store) ListThreads(_ context.Context) ([]readmodel.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.MapToSlice(s.threads, func(_ id.ThreadID, rt *readmodel.Thread) readmodel.Summary {
		return rt.Summary()
	})
	slices.SortFunc(out, readmodel.Compare)
	return out, nil
}

// GetMessage looks a message up through the message index.
func (s *Store) GetMessage(_ context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.messages[messageID]
	if !ok {
		return readmodel.ThreadMessage{}, false, nil
	}
	return readmodel.ThreadMessage{
		ThreadID: ref.threadID,
		Message:  s.threads[ref.threadID].Messages[ref.index],
	}, true, nil
}

// Events returns a copy of the stream.
func (s *Store) Events(_ context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[threadID]
	out := make([]thread.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
