// Package service holds the thread use cases shared by the HTTP API and the
// CLI. It validates raw input, runs the aggregate and stores the result
// under the caller's expected version.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// ErrInvalidAttempts is returned by ReplyLatest for attempts < 1.
var ErrInvalidAttempts = errors.New("attempts must be at least 1")

// Service runs thread commands and queries against a store.
type Service struct {
	store store.Store
	clock Clock
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, clock: SystemClock, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateThread starts a thread with raw as its root message.
func (s *Service) CreateThread(ctx context.Context, raw string) (thread.Thread, []thread.Event, error) {
	content, err := thread.NewMessageContent(raw)
	if err != nil {
		return thread.Thread{}, nil, err
	}

	th, events := thread.CreateAt(content, s.clock.Now())
	if err := s.store.Store(ctx, store.NoStream(), events); err != nil {
		return thread.Thread{}, nil, fmt.Errorf("create thread: %w", err)
	}

	s.log.Info("thread created", slog.String("thread_id", th.ID().String()))
	return th, events, nil
}

// Reply appends raw to threadID on the condition that the thread is still at
// expected, the version the caller last observed.
func (s *Service) Reply(ctx context.Context, threadID id.ThreadID, expected thread.Version, raw string) (thread.Thread, []thread.Event, error) {
	content, err := thread.NewMessageContent(raw)
	if err != nil {
		return thread.Thread{}, nil, err
	}

	current, ok, err := s.store.Find(ctx, threadID)
	if err != nil {
		return thread.Thread{}, nil, fmt.Errorf("reply: %w", err)
	}
	if !ok {
		return thread.Thread{}, nil, &store.NotFoundError{ThreadID: threadID}
	}

	next, events, err := current.ReplyAt(content, s.clock.Now())
	if err != nil {
		return thread.Thread{}, nil, err
	}
	// The events were built on current, so they may only be appended at
	// current's version, whatever the caller expects.
	if err := store.Check(threadID, store.AtVersion(expected), current.Version(), true); err != nil {
		return thread.Thread{}, nil, fmt.Errorf("reply: %w", err)
	}
	if err := s.store.Store(ctx, store.AtVersion(expected), events); err != nil {
		return thread.Thread{}, nil, fmt.Errorf("reply: %w", err)
	}

	s.log.Info("thread replied",
		slog.String("thread_id", threadID.String()),
		slog.Uint64("version", uint64(next.Version())),
	)
	return next, events, nil
}

// ReplyLatest replies against the current version, re-reading and retrying
// on a version mismatch up to attempts times in total.
func (s *Service) ReplyLatest(ctx context.Context, threadID id.ThreadID, raw string, attempts int) (thread.Thread, []thread.Event, error) {
	if attempts < 1 {
		return thread.Thread{}, nil, ErrInvalidAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		current, ok, err := s.store.Find(ctx, threadID)
		if err != nil {
			return thread.Thread{}, nil, fmt.Errorf("reply: %w", err)
		}
		if !ok {
			return thread.Thread{}, nil, &store.NotFoundError{ThreadID: threadID}
		}

		next, events, err := s.Reply(ctx, threadID, current.Version(), raw)
		if err == nil {
			return next, events, nil
		}
		if !store.IsVersionMismatch(err) {
			return thread.Thread{}, nil, err
		}
		lastErr = err
		s.log.Debug("reply conflicted, retrying",
			slog.String("thread_id", threadID.String()),
			slog.Int("attempt", i+1),
		)
	}
	return thread.Thread{}, nil, lastErr
}

// Find rebuilds the write model of threadID from its stream.
func (s *Service) Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	return s.store.Find(ctx, threadID)
}

// GetThread returns the read projection of threadID.
func (s *Service) GetThread(ctx context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error) {
	return s.store.GetThread(ctx, threadID)
}

// ListThreads returns every thread summary, oldest first.
func (s *Service) ListThreads(ctx context.Context) ([]readmodel.Summary, error) {
	return s.store.ListThreads(ctx)
}

// GetMessage returns one message and the thread it belongs to.
func (s *Service) GetMessage(ctx context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	return s.store.GetMessage(ctx, messageID)
}

// Events returns the raw stream of threadID.
func (s *Service) Events(ctx context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	return s.store.Events(ctx, threadID)
}
