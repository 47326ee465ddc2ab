package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/store/memstore"
	"github.com/roach88/threads/internal/testutil"
	"github.com/roach88/threads/internal/thread"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close() })
	svc := New(st,
		WithClock(testutil.NewDeterministicClock()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return svc, st
}

func TestCreateThread(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	th, events, err := svc.CreateThread(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, thread.InitialVersion(), th.Version())
	require.Len(t, events, 1)
	assert.Equal(t, testutil.Epoch.Add(time.Second), events[0].EventPayload().At)

	rt, ok, err := svc.GetThread(ctx, th.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hello", rt.LastMessage.Content)
}

func TestCreateThreadRejectsInvalidContent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, _, err := svc.CreateThread(ctx, "   ")
	assert.True(t, thread.IsContentError(err))

	_, _, err = svc.CreateThread(ctx, strings.Repeat("x", 256))
	assert.True(t, thread.IsContentError(err))

	list, err := svc.ListThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReplyScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	th, _, err := svc.CreateThread(ctx, "Hello")
	require.NoError(t, err)

	th2, events, err := svc.Reply(ctx, th.ID(), 1, "World")
	require.NoError(t, err)
	assert.Equal(t, thread.Version(2), th2.Version())
	require.Len(t, events, 1)

	_, _, err = svc.Reply(ctx, th.ID(), 1, "Stale")
	vm, ok := store.AsVersionMismatch(err)
	require.True(t, ok, "expected mismatch, got %v", err)
	assert.Equal(t, thread.Version(2), vm.Actual)
	assert.Equal(t, store.AtVersion(1), vm.Expected)
}

func TestReplyToMissingThread(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Reply(context.Background(), id.NewThreadID(), 1, "hi")
	assert.True(t, store.IsNotFound(err))
}

func TestReplyValidatesBeforeLookup(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Reply(context.Background(), id.NewThreadID(), 1, "")
	assert.True(t, thread.IsContentError(err))
}

func TestReplyLatestUsesCurrentVersion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	th, _, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = svc.ReplyLatest(ctx, th.ID(), "more", 1)
		require.NoError(t, err)
	}

	rt, _, err := svc.GetThread(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, thread.Version(4), rt.Version)
}

func TestReplyLatestRejectsZeroAttempts(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.ReplyLatest(context.Background(), id.NewThreadID(), "x", 0)
	assert.ErrorIs(t, err, ErrInvalidAttempts)
}

type backend = store.Store

// racingStore lets another writer win the next races appends.
type racingStore struct {
	backend
	races int
}

func (r *racingStore) Store(ctx context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	if r.races > 0 && !expected.IsNoStream() {
		r.races--
		tid := events[0].EventPayload().ThreadID
		current, _, err := r.backend.Find(ctx, tid)
		if err != nil {
			return err
		}
		c, _ := thread.NewMessageContent("interloper")
		_, more, err := current.ReplyAt(c, time.Now())
		if err != nil {
			return err
		}
		if err := r.backend.Store(ctx, store.AtVersion(current.Version()), more); err != nil {
			return err
		}
	}
	return r.backend.Store(ctx, expected, events)
}

func TestReplyLatestRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	racing := &racingStore{backend: memstore.New(), races: 2}
	svc := New(racing, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	th, _, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	next, _, err := svc.ReplyLatest(ctx, th.ID(), "mine", 3)
	require.NoError(t, err)
	assert.Equal(t, thread.Version(4), next.Version())

	rt, _, err := svc.GetThread(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, "mine", rt.LastMessage.Content)
	assert.Equal(t, 3, rt.RepliesCount)
}

func TestReplyLatestGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	racing := &racingStore{backend: memstore.New(), races: 5}
	svc := New(racing, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	th, _, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	_, _, err = svc.ReplyLatest(ctx, th.ID(), "mine", 2)
	assert.True(t, store.IsVersionMismatch(err))
}

// lateReadStore commits a competing reply right after the next Find, so
// the caller holds a thread that is already one version behind.
type lateReadStore struct {
	backend
	pending bool
}

func (l *lateReadStore) Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	th, ok, err := l.backend.Find(ctx, threadID)
	if err != nil || !ok || !l.pending {
		return th, ok, err
	}
	l.pending = false
	c, _ := thread.NewMessageContent("other")
	_, more, err := th.ReplyAt(c, time.Now())
	if err != nil {
		return th, ok, err
	}
	return th, ok, l.backend.Store(ctx, store.AtVersion(th.Version()), more)
}

func TestReplyAheadOfLoadedThreadIsMismatch(t *testing.T) {
	ctx := context.Background()
	late := &lateReadStore{backend: memstore.New()}
	svc := New(late, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	th, _, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	// The caller names the version the other writer is about to produce.
	late.pending = true
	_, _, err = svc.Reply(ctx, th.ID(), 2, "mine")
	vm, ok := store.AsVersionMismatch(err)
	require.True(t, ok, "expected mismatch, got %v", err)
	assert.Equal(t, thread.Version(1), vm.Actual)
	assert.Equal(t, store.AtVersion(2), vm.Expected)

	events, err := svc.Events(ctx, th.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, e := range events {
		assert.Equal(t, thread.Version(i+1), e.EventPayload().Version)
	}

	rt, _, err := svc.GetThread(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, thread.Version(2), rt.Version)
	assert.Equal(t, 1, rt.RepliesCount)
	assert.Equal(t, "other", rt.LastMessage.Content)

	// Retrying at the version now stored succeeds.
	next, _, err := svc.Reply(ctx, th.ID(), 2, "mine")
	require.NoError(t, err)
	assert.Equal(t, thread.Version(3), next.Version())
}

func TestReplyAtMessageLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	th, _, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	for th.MessageCount() < thread.MaxMessages {
		th, _, err = svc.Reply(ctx, th.ID(), th.Version(), "r")
		require.NoError(t, err)
	}

	_, _, err = svc.Reply(ctx, th.ID(), th.Version(), "one too many")
	assert.True(t, thread.IsMessageLimit(err))
	var te *thread.ThreadError
	assert.True(t, errors.As(err, &te))
}

func TestGetMessage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, events, err := svc.CreateThread(ctx, "root")
	require.NoError(t, err)

	tm, ok, err := svc.GetMessage(ctx, events[0].EventPayload().MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, tm.Message.Number)

	stream, err := svc.Events(ctx, tm.ThreadID)
	require.NoError(t, err)
	assert.Len(t, stream, 1)
}
