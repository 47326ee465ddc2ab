// Package storetest is the conformance suite for store.Store backends.
//
// A backend test calls Run with a factory returning a fresh, empty store:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
//	}
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Factory returns a new empty store. It should register its own cleanup.
type Factory func(t *testing.T) store.Store

// T0 is the base timestamp used by the suite.
var T0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"CreateThenFind", testCreateThenFind},
		{"FindMissing", testFindMissing},
		{"GetThreadProjection", testGetThreadProjection},
		{"ReplyAdvancesVersion", testReplyAdvancesVersion},
		{"StaleVersionMismatch", testStaleVersionMismatch},
		{"NoStreamOnExistingMismatch", testNoStreamOnExisting},
		{"AtVersionOnMissingNotFound", testAtVersionOnMissing},
		{"EmptyAppendNoop", testEmptyAppend},
		{"MultiEventAppend", testMultiEventAppend},
		{"ExampleScenario", testExampleScenario},
		{"ListThreadsOrder", testListThreadsOrder},
		{"GetMessage", testGetMessage},
		{"EventsRoundTrip", testEventsRoundTrip},
		{"ReturnsCopies", testReturnsCopies},
		{"ConcurrentSameVersion", testConcurrentSameVersion},
		{"ConcurrentDifferentThreads", testConcurrentDifferentThreads},
		{"ReadsSeeWholeAppends", testReadsSeeWholeAppends},
		{"NonContiguousAppendRejected", testNonContiguousAppend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Content builds validated content or fails the test.
func Content(t *testing.T, raw string) thread.MessageContent {
	t.Helper()
	c, err := thread.NewMessageContent(raw)
	require.NoError(t, err)
	return c
}

// Seed creates a thread at T0 plus offset and stores it.
func Seed(t *testing.T, s store.Store, raw string, offset time.Duration) (thread.Thread, []thread.Event) {
	t.Helper()
	th, events := thread.CreateAt(Content(t, raw), T0.Add(offset))
	require.NoError(t, s.Store(context.Background(), store.NoStream(), events))
	return th, events
}

// Reply replies to th at the given offset, stores under th's version and
// returns the new aggregate.
func Reply(t *testing.T, s store.Store, th thread.Thread, raw string, offset time.Duration) (thread.Thread, []thread.Event) {
	t.Helper()
	next, events, err := th.ReplyAt(Content(t, raw), T0.Add(offset))
	require.NoError(t, err)
	require.NoError(t, s.Store(context.Background(), store.AtVersion(th.Version()), events))
	return next, events
}

func records(events []thread.Event) []thread.Record {
	return lo.Map(events, func(e thread.Event, _ int) thread.Record { return thread.RecordOf(e) })
}

func requireProjection(t *testing.T, s store.Store, stream []thread.Event) {
	t.Helper()
	ctx := context.Background()
	tid := stream[0].EventPayload().ThreadID

	got, ok, err := s.GetThread(ctx, tid)
	require.NoError(t, err)
	require.True(t, ok, "projection missing for %s", tid)
	if diff := cmp.Diff(readmodel.Replay(stream), got); diff != "" {
		t.Fatalf("projection differs from replay (-want +got):\n%s", diff)
	}

	agg, ok, err := s.Find(ctx, tid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agg.Version(), got.Version)
	assert.Equal(t, agg.MessageCount(), got.MessageCount())
}

func testCreateThenFind(t *testing.T, s store.Store) {
	th, events := Seed(t, s, "Hello", 0)

	found, ok, err := s.Find(context.Background(), th.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, th, found)
	assert.Equal(t, thread.InitialVersion(), found.Version())
	assert.Equal(t, 1, found.MessageCount())
	requireProjection(t, s, events)
}

func testFindMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.Find(ctx, id.NewThreadID())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetThread(ctx, id.NewThreadID())
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListThreads(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func testGetThreadProjection(t *testing.T, s store.Store) {
	th, events := Seed(t, s, "  padded root  ", 0)
	_, more := Reply(t, s, th, "first", time.Second)

	got, ok, err := s.GetThread(context.Background(), th.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, T0, got.CreatedAt)
	assert.Equal(t, 1, got.RepliesCount)
	assert.Equal(t, "  padded root  ", got.Messages[0].Content)
	assert.Equal(t, 2, got.LastMessage.Number)
	assert.Equal(t, T0.Add(time.Second), got.LastMessage.CreatedAt)
	requireProjection(t, s, append(events, more...))
}

func testReplyAdvancesVersion(t *testing.T, s store.Store) {
	th, stream := Seed(t, s, "root", 0)
	for i := 1; i <= 5; i++ {
		var more []thread.Event
		th, more = Reply(t, s, th, fmt.Sprintf("reply %d", i), time.Duration(i)*time.Second)
		stream = append(stream, more...)
	}

	found, ok, err := s.Find(context.Background(), th.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, thread.Version(6), found.Version())
	assert.Equal(t, th, found)
	requireProjection(t, s, stream)
}

func testStaleVersionMismatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	base, stream := Seed(t, s, "root", 0)
	_, more := Reply(t, s, base, "winner", time.Second)
	stream = append(stream, more...)

	_, stale, err := base.ReplyAt(Content(t, "loser"), T0.Add(2*time.Second))
	require.NoError(t, err)

	err = s.Store(ctx, store.AtVersion(base.Version()), stale)
	vm, ok := store.AsVersionMismatch(err)
	require.True(t, ok, "expected version mismatch, got %v", err)
	assert.Equal(t, thread.Version(2), vm.Actual)
	assert.Equal(t, store.AtVersion(1), vm.Expected)

	got, err := s.Events(ctx, base.ID())
	require.NoError(t, err)
	assert.Equal(t, records(stream), records(got))
	requireProjection(t, s, stream)

	_, found, err := s.GetMessage(ctx, stale[0].EventPayload().MessageID)
	require.NoError(t, err)
	assert.False(t, found)
}

func testNoStreamOnExisting(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, stream := Seed(t, s, "root", 0)
	_, more := Reply(t, s, th, "reply", time.Second)
	stream = append(stream, more...)

	// Any events at all, even a second Created for the same id, are refused.
	dup := thread.Created{Payload: stream[0].EventPayload()}
	dup.ID = id.NewEventID()
	dup.Content = Content(t, "impostor")

	err := s.Store(ctx, store.NoStream(), []thread.Event{dup})
	vm, ok := store.AsVersionMismatch(err)
	require.True(t, ok, "expected version mismatch, got %v", err)
	assert.Equal(t, thread.Version(2), vm.Actual)
	assert.True(t, vm.Expected.IsNoStream())

	got, err := s.Events(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, records(stream), records(got))
	requireProjection(t, s, stream)
}

func testAtVersionOnMissing(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, _ := thread.CreateAt(Content(t, "never stored"), T0)
	_, events, err := th.ReplyAt(Content(t, "reply"), T0)
	require.NoError(t, err)

	err = s.Store(ctx, store.AtVersion(1), events)
	require.True(t, store.IsNotFound(err), "expected not found, got %v", err)

	_, ok, err := s.Find(ctx, th.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEmptyAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, store.NoStream(), nil))
	require.NoError(t, s.Store(ctx, store.AtVersion(9), []thread.Event{}))

	list, err := s.ListThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testMultiEventAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, stream := thread.CreateAt(Content(t, "root"), T0)
	for i := 1; i <= 3; i++ {
		var more []thread.Event
		var err error
		th, more, err = th.ReplyAt(Content(t, fmt.Sprintf("batch %d", i)), T0.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		stream = append(stream, more...)
	}

	// A brand-new stream may arrive with its replies in one append.
	require.NoError(t, s.Store(ctx, store.NoStream(), stream[:2]))
	require.NoError(t, s.Store(ctx, store.AtVersion(2), stream[2:]))

	found, ok, err := s.Find(ctx, th.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, thread.Version(4), found.Version())
	requireProjection(t, s, stream)
}

func testExampleScenario(t *testing.T, s store.Store) {
	ctx := context.Background()

	th, created := thread.CreateAt(Content(t, "Hello"), T0)
	require.Equal(t, thread.InitialVersion(), th.Version())
	require.Len(t, created, 1)
	require.NoError(t, s.Store(ctx, store.NoStream(), created))

	th2, replied, err := th.ReplyAt(Content(t, "World"), T0.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, store.AtVersion(1), replied))
	assert.Equal(t, thread.Version(2), th2.Version())

	_, again, err := th.ReplyAt(Content(t, "Again"), T0.Add(2*time.Second))
	require.NoError(t, err)
	err = s.Store(ctx, store.AtVersion(1), again)
	vm, ok := store.AsVersionMismatch(err)
	require.True(t, ok, "expected version mismatch, got %v", err)
	assert.Equal(t, thread.Version(2), vm.Actual)
	assert.Equal(t, store.AtVersion(1), vm.Expected)
}

func testListThreadsOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	late, _ := Seed(t, s, "late", 2*time.Minute)
	var tied []thread.Thread
	for i := 0; i < 4; i++ {
		th, _ := Seed(t, s, fmt.Sprintf("tied %d", i), time.Minute)
		tied = append(tied, th)
	}
	early, _ := Seed(t, s, "early", 0)
	late, _ = Reply(t, s, late, "bump", 3*time.Minute)

	list, err := s.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, list, 6)

	want := []id.ThreadID{early.ID()}
	tiedIDs := lo.Map(tied, func(th thread.Thread, _ int) id.ThreadID { return th.ID() })
	want = append(want, sortIDs(tiedIDs)...)
	want = append(want, late.ID())

	got := lo.Map(list, func(sum readmodel.Summary, _ int) id.ThreadID { return sum.ID })
	assert.Equal(t, want, got)

	last := list[5]
	assert.Equal(t, 1, last.RepliesCount)
	assert.Equal(t, late.Version(), last.Version)
	assert.Equal(t, "bump", last.LastMessage.Content)
	assert.Equal(t, 2, last.LastMessage.Number)
}

func sortIDs(ids []id.ThreadID) []id.ThreadID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b id.ThreadID) int { return a.Compare(b) })
	return out
}

func testGetMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, created := Seed(t, s, "root", 0)
	_, replied := Reply(t, s, th, "reply", time.Second)

	root, ok, err := s.GetMessage(ctx, created[0].EventPayload().MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, th.ID(), root.ThreadID)
	assert.Equal(t, 1, root.Message.Number)
	assert.Equal(t, "root", root.Message.Content)

	reply, ok, err := s.GetMessage(ctx, replied[0].EventPayload().MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, reply.Message.Number)
	assert.Equal(t, T0.Add(time.Second), reply.Message.CreatedAt)

	_, ok, err = s.GetMessage(ctx, id.NewMessageID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEventsRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, stream := Seed(t, s, "root", 1234567*time.Microsecond)
	_, more := Reply(t, s, th, "ünïcödé ✓", 2*time.Second)
	stream = append(stream, more...)

	got, err := s.Events(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, records(stream), records(got))
	_, isCreated := got[0].(thread.Created)
	assert.True(t, isCreated)
	_, isReplied := got[1].(thread.Replied)
	assert.True(t, isReplied)

	none, err := s.Events(ctx, id.NewThreadID())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testReturnsCopies(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, _ := Seed(t, s, "root", 0)
	Reply(t, s, th, "reply", time.Second)

	first, _, err := s.GetThread(ctx, th.ID())
	require.NoError(t, err)
	first.Messages[0].Content = "tampered"
	first.Messages = first.Messages[:1]
	first.RepliesCount = 99

	second, _, err := s.GetThread(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, "root", second.Messages[0].Content)
	assert.Len(t, second.Messages, 2)
	assert.Equal(t, 1, second.RepliesCount)
}

func testConcurrentSameVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	base, _ := Seed(t, s, "root", 0)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		_, events, err := base.ReplyAt(Content(t, fmt.Sprintf("writer %d", i)), T0.Add(time.Second))
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, events []thread.Event) {
			defer wg.Done()
			<-start
			errs[i] = s.Store(ctx, store.AtVersion(base.Version()), events)
		}(i, events)
	}
	close(start)
	wg.Wait()

	var ok, mismatched int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case store.IsVersionMismatch(err):
			mismatched++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, mismatched)

	found, _, err := s.Find(ctx, base.ID())
	require.NoError(t, err)
	assert.Equal(t, thread.Version(2), found.Version())
	got, _, err := s.GetThread(ctx, base.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.RepliesCount)
}

func testConcurrentDifferentThreads(t *testing.T, s store.Store) {
	ctx := context.Background()
	const threads = 6
	const replies = 5

	var wg sync.WaitGroup
	errs := make(chan error, threads*(replies+1))
	ids := make([]id.ThreadID, threads)
	for i := 0; i < threads; i++ {
		th, events := thread.CreateAt(Content(t, fmt.Sprintf("thread %d", i)), T0.Add(time.Duration(i)*time.Second))
		ids[i] = th.ID()
		wg.Add(1)
		go func(th thread.Thread, events []thread.Event) {
			defer wg.Done()
			if err := s.Store(ctx, store.NoStream(), events); err != nil {
				errs <- err
				return
			}
			for j := 0; j < replies; j++ {
				c, _ := thread.NewMessageContent("reply")
				next, more, err := th.ReplyAt(c, T0)
				if err != nil {
					errs <- err
					return
				}
				if err := s.Store(ctx, store.AtVersion(th.Version()), more); err != nil {
					errs <- err
					return
				}
				th = next
			}
		}(th, events)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	for _, tid := range ids {
		found, ok, err := s.Find(ctx, tid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, thread.Version(replies+1), found.Version())
	}
}

// testReadsSeeWholeAppends reads a thread while another goroutine keeps
// replying. Every read must show the summary and messages of one version.
func testReadsSeeWholeAppends(t *testing.T, s store.Store) {
	ctx := context.Background()
	th, _ := Seed(t, s, "root", 0)
	content := Content(t, "reply")

	const replies = 100
	done := make(chan error, 1)
	go func() {
		cur := th
		for i := 1; i <= replies; i++ {
			next, events, err := cur.ReplyAt(content, T0.Add(time.Duration(i)*time.Second))
			if err == nil {
				err = s.Store(ctx, store.AtVersion(cur.Version()), events)
			}
			if err != nil {
				done <- err
				return
			}
			cur = next
		}
		done <- nil
	}()

	var (
		writeErr error
		reads    int
	)
	for writing := true; writing; reads++ {
		select {
		case writeErr = <-done:
			writing = false
		default:
		}

		rt, ok, err := s.GetThread(ctx, th.ID())
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, rt.Messages, rt.RepliesCount+1, "read %d at version %d", reads, rt.Version)
		require.Equal(t, int(rt.Version), len(rt.Messages), "read %d", reads)
		last := rt.Messages[len(rt.Messages)-1]
		require.True(t, last.ID == rt.LastMessage.ID, "read %d: last message %s, summary says %s", reads, last.ID, rt.LastMessage.ID)
	}
	require.NoError(t, writeErr)

	rt, _, err := s.GetThread(ctx, th.ID())
	require.NoError(t, err)
	assert.Equal(t, replies, rt.RepliesCount)
}

func testNonContiguousAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	base, _ := Seed(t, s, "root", 0)

	// Version 2 is skipped.
	skipped, _, err := base.ReplyAt(Content(t, "two"), T0.Add(time.Second))
	require.NoError(t, err)
	_, gap, err := skipped.ReplyAt(Content(t, "three"), T0.Add(2*time.Second))
	require.NoError(t, err)
	err = s.Store(ctx, store.AtVersion(base.Version()), gap)
	assert.True(t, store.IsInternal(err), "gap: got %v", err)

	// A new stream that starts with a reply.
	unsaved, _ := thread.CreateAt(Content(t, "unsaved"), T0)
	_, replied, err := unsaved.ReplyAt(Content(t, "reply"), T0.Add(time.Second))
	require.NoError(t, err)
	err = s.Store(ctx, store.NoStream(), replied)
	assert.True(t, store.IsInternal(err), "leading reply: got %v", err)

	// Neither append left anything behind.
	events, err := s.Events(ctx, base.ID())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	found, ok, err := s.Find(ctx, base.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, thread.InitialVersion(), found.Version())
	rt, ok, err := s.GetThread(ctx, base.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, rt.RepliesCount)
	assert.Len(t, rt.Messages, 1)
	_, ok, err = s.GetMessage(ctx, gap[0].EventPayload().MessageID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Find(ctx, unsaved.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetThread(ctx, unsaved.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}
