package thread

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreate(t *testing.T) {
	th, events := CreateAt(mustContent(t, "Hello"), t0)

	assert.Equal(t, InitialVersion(), th.Version())
	assert.Equal(t, 1, th.MessageCount())
	assert.False(t, th.ID().IsZero())
	require.Len(t, events, 1)

	created, ok := events[0].(Created)
	require.True(t, ok, "expected Created, got %T", events[0])
	assert.Equal(t, KindCreated, created.Kind())
	assert.Equal(t, "Hello", created.Content.String())
	assert.Equal(t, th.ID(), created.ThreadID)
	assert.Equal(t, th.Message().ID, created.MessageID)
	assert.Equal(t, InitialVersion(), created.Version)
	assert.Equal(t, t0, created.At)
}

func TestCreateNormalizesTimestamp(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	at := time.Date(2024, 3, 1, 13, 0, 0, 123456789, loc)

	_, events := CreateAt(mustContent(t, "hi"), at)

	got := events[0].EventPayload().At
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, t0.Add(123*time.Millisecond), got)
}

func TestCreateThenReplay(t *testing.T) {
	th, events := Create(mustContent(t, "Hello"))

	replayed := Replay(events)
	assert.Equal(t, th, replayed)
	assert.Equal(t, InitialVersion(), replayed.Version())
	assert.Equal(t, 1, replayed.MessageCount())
}

func TestReplyChain(t *testing.T) {
	for _, n := range []int{0, 1, 2, 10, 998} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			th, stream := CreateAt(mustContent(t, "root"), t0)
			for i := 0; i < n; i++ {
				var events []Event
				var err error
				th, events, err = th.ReplyAt(mustContent(t, fmt.Sprintf("reply %d", i)), t0.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				require.Len(t, events, 1)
				stream = append(stream, events...)
			}

			replayed := Replay(stream)
			assert.Equal(t, Version(1+n), replayed.Version())
			assert.Equal(t, n+1, replayed.MessageCount())
			assert.Equal(t, th, replayed)
		})
	}
}

func TestReplyDoesNotModifyReceiver(t *testing.T) {
	th, _ := CreateAt(mustContent(t, "root"), t0)

	next, events, err := th.ReplyAt(mustContent(t, "World"), t0)
	require.NoError(t, err)

	assert.Equal(t, Version(1), th.Version())
	assert.Equal(t, 1, th.MessageCount())
	assert.Equal(t, Version(2), next.Version())
	assert.Equal(t, 2, next.MessageCount())

	replied, ok := events[0].(Replied)
	require.True(t, ok)
	assert.Equal(t, KindReplied, replied.Kind())
	assert.Equal(t, th.ID(), replied.ThreadID)
	assert.Equal(t, Version(2), replied.Version)

	// Sibling replies from the same base must not share backing storage.
	a, _, err := th.ReplyAt(mustContent(t, "a"), t0)
	require.NoError(t, err)
	b, _, err := th.ReplyAt(mustContent(t, "b"), t0)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Messages()[1].Content.String())
	assert.Equal(t, "b", b.Messages()[1].Content.String())
}

func TestReplyFailsAtMessageLimit(t *testing.T) {
	th, _ := CreateAt(mustContent(t, "root"), t0)
	c := mustContent(t, "again")
	for th.MessageCount() < MaxMessages {
		var err error
		th, _, err = th.ReplyAt(c, t0)
		require.NoError(t, err)
	}
	require.Equal(t, Version(MaxMessages), th.Version())

	_, events, err := th.ReplyAt(c, t0)
	require.Error(t, err)
	assert.Nil(t, events)
	assert.True(t, IsMessageLimit(err))

	var te *ThreadError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, th.ID().String(), te.ThreadID)
	assert.Equal(t, MaxMessages, th.MessageCount())
}

func TestMessagesReturnsCopy(t *testing.T) {
	th, _ := CreateAt(mustContent(t, "root"), t0)
	msgs := th.Messages()
	msgs[0].Content = mustContent(t, "tampered")

	assert.Equal(t, "root", th.Message().Content.String())
}

func TestReplayPanicsOnInvalidStreams(t *testing.T) {
	_, created := CreateAt(mustContent(t, "root"), t0)
	th := Replay(created)
	_, replied, err := th.ReplyAt(mustContent(t, "r"), t0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		events []Event
	}{
		{"empty", nil},
		{"starts with Replied", replied},
		{"second Created", append(append([]Event{}, created...), created...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { Replay(tt.events) })
		})
	}
}
