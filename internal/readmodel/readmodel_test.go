package readmodel

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/thread"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func content(t *testing.T, s string) thread.MessageContent {
	t.Helper()
	c, err := thread.NewMessageContent(s)
	require.NoError(t, err)
	return c
}

// stream builds a thread with n replies, one second apart.
func stream(t *testing.T, n int) []thread.Event {
	t.Helper()
	th, events := thread.CreateAt(content(t, "root"), t0)
	for i := 1; i <= n; i++ {
		var more []thread.Event
		var err error
		th, more, err = th.ReplyAt(content(t, fmt.Sprintf("reply %d", i)), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		events = append(events, more...)
	}
	return events
}

func TestReplayNumbersMessages(t *testing.T) {
	events := stream(t, 3)

	rt := Replay(events)

	assert.Equal(t, events[0].EventPayload().ThreadID, rt.ID)
	assert.Equal(t, t0, rt.CreatedAt)
	assert.Equal(t, thread.Version(4), rt.Version)
	assert.Equal(t, 3, rt.RepliesCount)
	require.Len(t, rt.Messages, 4)
	for i, m := range rt.Messages {
		assert.Equal(t, i+1, m.Number)
		assert.Equal(t, events[i].EventPayload().MessageID, m.ID)
	}
	assert.Equal(t, "reply 3", rt.LastMessage.Content)
	assert.Equal(t, 4, rt.LastMessage.Number)
	assert.Equal(t, t0.Add(3*time.Second), rt.LastMessage.CreatedAt)
}

func TestReplaySingleCreated(t *testing.T) {
	rt := Replay(stream(t, 0))

	assert.Equal(t, 0, rt.RepliesCount)
	assert.Equal(t, thread.InitialVersion(), rt.Version)
	assert.Equal(t, rt.Messages[0], rt.LastMessage)
	assert.Equal(t, "root", rt.LastMessage.Content)
}

func TestIncrementalApplyMatchesReplay(t *testing.T) {
	for _, n := range []int{0, 1, 5, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			events := stream(t, n)

			full := Replay(events)
			inc := Replay(events[:1])
			for _, e := range events[1:] {
				inc.Apply(e)
			}

			if diff := cmp.Diff(full, inc); diff != "" {
				t.Errorf("incremental fold differs (-replay +apply):\n%s", diff)
			}
		})
	}
}

func TestProjectionAgreesWithAggregate(t *testing.T) {
	events := stream(t, 7)

	agg := thread.Replay(events)
	rt := Replay(events)

	assert.Equal(t, agg.ID(), rt.ID)
	assert.Equal(t, agg.Version(), rt.Version)
	assert.Equal(t, agg.MessageCount(), rt.MessageCount())
}

func TestApplyCreatedPanics(t *testing.T) {
	events := stream(t, 0)
	rt := Replay(events)

	assert.Panics(t, func() { rt.Apply(events[0]) })
}

func TestReplayPanicsOnBadStream(t *testing.T) {
	events := stream(t, 1)

	assert.Panics(t, func() { Replay(nil) })
	assert.Panics(t, func() { Replay(events[1:]) })
	assert.Panics(t, func() { Replay([]thread.Event{events[0], events[0]}) })
}

func TestCloneIsDeep(t *testing.T) {
	rt := Replay(stream(t, 2))
	c := rt.Clone()

	c.Messages[0].Content = "tampered"
	c.Apply(stream(t, 1)[1])

	assert.Equal(t, "root", rt.Messages[0].Content)
	assert.Len(t, rt.Messages, 3)
}

func TestSummaryAndFromSummary(t *testing.T) {
	events := stream(t, 4)
	full := Replay(events[:3])

	s := full.Summary()
	assert.Equal(t, full.ID, s.ID)
	assert.Equal(t, full.Version, s.Version)
	assert.Equal(t, full.LastMessage, s.LastMessage)

	partial := FromSummary(s)
	assert.Nil(t, partial.Messages)
	partial.Apply(events[3])
	partial.Apply(events[4])
	assert.Nil(t, partial.Messages)

	full.Apply(events[3])
	full.Apply(events[4])
	if diff := cmp.Diff(full.Summary(), partial.Summary()); diff != "" {
		t.Errorf("summary fold differs:\n%s", diff)
	}
}

func TestCompareOrdersByCreatedAtThenID(t *testing.T) {
	a := id.MustThreadID("1b4e28ba-2fa1-41d2-883f-0016d3cca427")
	b := id.MustThreadID("9b4e28ba-2fa1-41d2-883f-0016d3cca427")

	sums := []Summary{
		{ID: a, CreatedAt: t0.Add(time.Second)},
		{ID: b, CreatedAt: t0},
		{ID: a, CreatedAt: t0},
	}
	slices.SortFunc(sums, Compare)

	assert.Equal(t, []Summary{
		{ID: a, CreatedAt: t0},
		{ID: b, CreatedAt: t0},
		{ID: a, CreatedAt: t0.Add(time.Second)},
	}, sums)
}
