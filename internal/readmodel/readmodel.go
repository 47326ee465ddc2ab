// Package readmodel is the query side of a thread: a denormalized projection
// folded from the same events as the write aggregate.
//
// Stores keep one Thread per stream and update it with Apply as events are
// appended, so queries never replay history.
package readmodel

import (
	"fmt"
	"time"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/thread"
)

// Message is a message as shown to readers. Number is its 1-based position
// in the thread.
type Message struct {
	ID        id.MessageID `json:"id"`
	Number    int          `json:"number"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// Thread is the projection of one stream.
type Thread struct {
	ID           id.ThreadID    `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Version      thread.Version `json:"version"`
	RepliesCount int            `json:"replies_count"`
	LastMessage  Message        `json:"last_message"`
	Messages     []Message      `json:"messages"`
}

// Summary is a Thread without its message list, as returned by listings.
type Summary struct {
	ID           id.ThreadID    `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Version      thread.Version `json:"version"`
	RepliesCount int            `json:"replies_count"`
	LastMessage  Message        `json:"last_message"`
}

// ThreadMessage is a message located independently of its thread.
type ThreadMessage struct {
	ThreadID id.ThreadID `json:"thread_id"`
	Message  Message     `json:"message"`
}

// Replay folds a full stream. It panics on the same malformed streams as
// thread.Replay.
func Replay(events []thread.Event) Thread {
	if len(events) == 0 {
		panic("readmodel: replay of empty stream")
	}
	created, ok := events[0].(thread.Created)
	if !ok {
		panic(fmt.Sprintf("readmodel: stream starts with %T, want thread.Created", events[0]))
	}

	root := Message{
		ID:        created.MessageID,
		Number:    1,
		Content:   created.Content.String(),
		CreatedAt: created.At,
	}
	t := Thread{
		ID:          created.ThreadID,
		CreatedAt:   created.At,
		Version:     created.Version,
		LastMessage: root,
		Messages:    []Message{root},
	}
	for _, e := range events[1:] {
		t.Apply(e)
	}
	return t
}

// Apply folds one event that follows the current state.
//
// Only Replied is accepted; a Created panics. Apply trusts that e.Version
// is t.Version+1. A Thread whose Messages is nil is treated as a summary
// and only its counters are updated.
func (t *Thread) Apply(e thread.Event) {
	switch ev := e.(type) {
	case thread.Replied:
		m := Message{
			ID:        ev.MessageID,
			Number:    t.RepliesCount + 2,
			Content:   ev.Content.String(),
			CreatedAt: ev.At,
		}
		if t.Messages != nil {
			t.Messages = append(t.Messages, m)
		}
		t.RepliesCount++
		t.LastMessage = m
		t.Version = ev.Version
	case thread.Created:
		panic("readmodel: apply of Created to an existing thread")
	default:
		panic(fmt.Sprintf("readmodel: unknown event type %T", e))
	}
}

// MessageCount returns the number of messages, root included.
func (t Thread) MessageCount() int { return t.RepliesCount + 1 }

// Summary drops the message list.
func (t Thread) Summary() Summary {
	return Summary{
		ID:           t.ID,
		CreatedAt:    t.CreatedAt,
		Version:      t.Version,
		RepliesCount: t.RepliesCount,
		LastMessage:  t.LastMessage,
	}
}

// Clone returns a deep copy.
func (t Thread) Clone() Thread {
	c := t
	if t.Messages != nil {
		c.Messages = make([]Message, len(t.Messages))
		copy(c.Messages, t.Messages)
	}
	return c
}

// FromSummary returns a Thread with counters from s and no message list,
// ready for Apply.
func FromSummary(s Summary) Thread {
	return Thread{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Version:      s.Version,
		RepliesCount: s.RepliesCount,
		LastMessage:  s.LastMessage,
	}
}

// Compare orders summaries by creation time, then by id.
func Compare(a, b Summary) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}
