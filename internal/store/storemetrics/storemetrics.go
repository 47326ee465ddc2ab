// Package storemetrics instruments a store.Store with Prometheus metrics.
package storemetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Append outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeVersionMismatch = "version_mismatch"
	OutcomeNotFound        = "not_found"
	OutcomeInternal        = "internal"
)

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

type metrics struct {
	appends        *prometheus.CounterVec
	eventsAppended prometheus.Counter
	duration       *prometheus.HistogramVec
}

// Store wraps another store and records every call.
type Store struct {
	next store.Store
	m    *metrics
}

var _ store.Store = (*Store)(nil)

// Wrap instruments next and registers its collectors with reg.
func Wrap(next store.Store, reg prometheus.Registerer) *Store {
	m := &metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "threads_store_appends_total",
			Help: "Total number of append attempts by outcome",
		}, []string{"outcome"}),

		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "threads_store_events_appended_total",
			Help: "Total number of events committed",
		}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threads_store_operation_duration_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.appends, m.eventsAppended, m.duration)
	return &Store{next: next, m: m}
}

func (s *Store) observe(op string) func() {
	timer := prometheus.NewTimer(s.m.duration.WithLabelValues(op))
	return func() { timer.ObserveDuration() }
}

// Outcome classifies an append result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case store.IsVersionMismatch(err):
		return OutcomeVersionMismatch
	case store.IsNotFound(err):
		return OutcomeNotFound
	default:
		return OutcomeInternal
	}
}

func (s *Store) Store(ctx context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	defer s.observe("store")()
	err := s.next.Store(ctx, expected, events)
	s.m.appends.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		s.m.eventsAppended.Add(float64(len(events)))
	}
	return err
}

func (s *Store) Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	defer s.observe("find")()
	return s.next.Find(ctx, threadID)
}

func (s *Store) GetThread(ctx context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error) {
	defer s.observe("get_thread")()
	return s.next.GetThread(ctx, threadID)
}

func (s *Store) ListThreads(ctx context.Context) ([]readmodel.Summary, error) {
	defer s.observe("list_threads")()
	return s.next.ListThreads(ctx)
}

func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	defer s.observe("get_message")()
	return s.next.GetMessage(ctx, messageID)
}

func (s *Store) Events(ctx context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	defer s.observe("events")()
	return s.next.Events(ctx, threadID)
}

func (s *Store) Close() error { return s.next.Close() }
