package thread

import (
	"time"

	"github.com/roach88/threads/internal/id"
)

// MaxMessages is the message cap of a thread, root message included.
const MaxMessages = 1000

// Message is one message as the write side sees it.
type Message struct {
	ID      id.MessageID
	Content MessageContent
}

// Thread is the write aggregate. It is a value: operations return a new
// Thread and never modify the receiver.
type Thread struct {
	id       id.ThreadID
	version  Version
	messages []Message
}

// Create starts a new thread stamped with the current time.
func Create(content MessageContent) (Thread, []Event) {
	return CreateAt(content, time.Now())
}

// CreateAt starts a new thread whose Created event is stamped at.
func CreateAt(content MessageContent, at time.Time) (Thread, []Event) {
	e := Created{Payload{
		At:        Timestamp(at),
		Content:   content,
		ID:        id.NewEventID(),
		MessageID: id.NewMessageID(),
		ThreadID:  id.NewThreadID(),
		Version:   InitialVersion(),
	}}
	t := Thread{
		id:       e.ThreadID,
		version:  e.Version,
		messages: []Message{{ID: e.MessageID, Content: content}},
	}
	return t, []Event{e}
}

// Reply adds a message stamped with the current time.
func (t Thread) Reply(content MessageContent) (Thread, []Event, error) {
	return t.ReplyAt(content, time.Now())
}

// ReplyAt adds a message whose Replied event is stamped at. It fails with a
// *ThreadError once the thread holds MaxMessages messages.
func (t Thread) ReplyAt(content MessageContent, at time.Time) (Thread, []Event, error) {
	if len(t.messages) >= MaxMessages {
		return Thread{}, nil, &ThreadError{ThreadID: t.id.String(), Err: ErrMessageLimitReached}
	}

	e := Replied{Payload{
		At:        Timestamp(at),
		Content:   content,
		ID:        id.NewEventID(),
		MessageID: id.NewMessageID(),
		ThreadID:  t.id,
		Version:   t.version.Next(),
	}}

	messages := make([]Message, len(t.messages), len(t.messages)+1)
	copy(messages, t.messages)
	messages = append(messages, Message{ID: e.MessageID, Content: content})

	return Thread{id: t.id, version: e.Version, messages: messages}, []Event{e}, nil
}

// Replay folds a stored stream into a Thread.
//
// It panics if events is empty, does not start with Created, or contains a
// later Created. Those streams cannot be produced by this package and mean
// the caller handed over something that is not a thread's history.
func Replay(events []Event) Thread {
	if len(events) == 0 {
		panic("thread: replay of empty stream")
	}

	var t Thread
	for i, e := range events {
		switch ev := e.(type) {
		case Created:
			if i != 0 {
				panic("thread: Created event after start of stream")
			}
			t = Thread{
				id:       ev.ThreadID,
				version:  ev.Version,
				messages: []Message{{ID: ev.MessageID, Content: ev.Content}},
			}
		case Replied:
			if i == 0 {
				panic("thread: stream does not start with Created")
			}
			t.version = ev.Version
			t.messages = append(t.messages, Message{ID: ev.MessageID, Content: ev.Content})
		default:
			panic(unknownEvent(e))
		}
	}
	return t
}

// ID returns the thread id.
func (t Thread) ID() id.ThreadID { return t.id }

// Version returns the version of the latest event.
func (t Thread) Version() Version { return t.version }

// MessageCount returns the number of messages, root message included.
func (t Thread) MessageCount() int { return len(t.messages) }

// Message returns the root message.
func (t Thread) Message() Message {
	if len(t.messages) == 0 {
		return Message{}
	}
	return t.messages[0]
}

// Messages returns a copy of all messages in stream order.
func (t Thread) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
