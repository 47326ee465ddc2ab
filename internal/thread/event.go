package thread

import (
	"fmt"
	"time"

	"github.com/roach88/threads/internal/id"
)

// Event kinds as persisted.
const (
	KindCreated = "created"
	KindReplied = "replied"
)

// Event is a fact in a thread's stream. The set of implementations is closed:
// only Created and Replied satisfy it, and every fold switches over exactly
// those two types.
type Event interface {
	Kind() string
	EventPayload() Payload
	sealed()
}

// Payload is the data shared by every event.
type Payload struct {
	At        time.Time
	Content   MessageContent
	ID        id.EventID
	MessageID id.MessageID
	ThreadID  id.ThreadID
	Version   Version
}

// Created starts a stream and carries the thread's root message.
type Created struct{ Payload }

// Replied appends one message to an existing stream.
type Replied struct{ Payload }

func (Created) Kind() string { return KindCreated }
func (Replied) Kind() string { return KindReplied }

func (e Created) EventPayload() Payload { return e.Payload }
func (e Replied) EventPayload() Payload { return e.Payload }

func (Created) sealed() {}
func (Replied) sealed() {}

// Timestamp normalizes t to the precision events are stored with.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func unknownEvent(e Event) string {
	return fmt.Sprintf("thread: unknown event type %T", e)
}
