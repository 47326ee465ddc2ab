// Package id defines the identifiers of the thread domain.
//
// ThreadID, MessageID and EventID are distinct types over a random (version 4)
// UUID. They are generated fresh on creation, immutable, and compared by value.
// Parsing accepts only canonical UUID text whose version nibble is 4; anything
// else fails with the type's own error so callers can tell which identifier
// was rejected.
package id

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotV4 is wrapped by every parse error caused by a UUID of another version.
var ErrNotV4 = errors.New("invalid UUID version")

// parseV4 validates s as a version 4 UUID.
func parseV4(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if u.Version() != 4 {
		return uuid.Nil, fmt.Errorf("%w: %d", ErrNotV4, u.Version())
	}
	return u, nil
}

// ThreadIDError reports text that is not a valid thread id.
type ThreadIDError struct {
	Input string
	Err   error
}

func (e *ThreadIDError) Error() string { return fmt.Sprintf("thread id error: %q", e.Input) }
func (e *ThreadIDError) Unwrap() error { return e.Err }

// ThreadID identifies a thread and its event stream.
type ThreadID struct{ u uuid.UUID }

// NewThreadID returns a fresh random thread id.
func NewThreadID() ThreadID { return ThreadID{u: uuid.New()} }

// ParseThreadID parses the canonical text form of a thread id.
func ParseThreadID(s string) (ThreadID, error) {
	u, err := parseV4(s)
	if err != nil {
		return ThreadID{}, &ThreadIDError{Input: s, Err: err}
	}
	return ThreadID{u: u}, nil
}

// MustThreadID is ParseThreadID for literals in tests. It panics on bad input.
func MustThreadID(s string) ThreadID {
	v, err := ParseThreadID(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical lowercase UUID text.
func (v ThreadID) String() string { return v.u.String() }

// IsZero reports whether v is the zero ThreadID, which no constructor returns.
func (v ThreadID) IsZero() bool { return v.u == uuid.Nil }

// Compare orders ids by their UUID bytes, returning -1, 0 or +1.
func (v ThreadID) Compare(o ThreadID) int { return compare(v.u, o.u) }

// Equal reports whether v and o are the same thread id.
func (v ThreadID) Equal(o ThreadID) bool { return v.u == o.u }

// MarshalText encodes v as its String form.
func (v ThreadID) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText parses b with ParseThreadID, rejecting anything but a v4 UUID.
func (v *ThreadID) UnmarshalText(b []byte) error {
	p, err := ParseThreadID(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MessageIDError reports text that is not a valid message id.
type MessageIDError struct {
	Input string
	Err   error
}

func (e *MessageIDError) Error() string { return fmt.Sprintf("message id error: %q", e.Input) }
func (e *MessageIDError) Unwrap() error { return e.Err }

// MessageID identifies a single message independently of its thread.
type MessageID struct{ u uuid.UUID }

// NewMessageID returns a fresh random message id.
func NewMessageID() MessageID { return MessageID{u: uuid.New()} }

// ParseMessageID parses the canonical text form of a message id.
func ParseMessageID(s string) (MessageID, error) {
	u, err := parseV4(s)
	if err != nil {
		return MessageID{}, &MessageIDError{Input: s, Err: err}
	}
	return MessageID{u: u}, nil
}

// MustMessageID is ParseMessageID for literals in tests. It panics on bad input.
func MustMessageID(s string) MessageID {
	v, err := ParseMessageID(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical lowercase UUID text.
func (v MessageID) String() string { return v.u.String() }

// IsZero reports whether v is the zero MessageID, which no constructor returns.
func (v MessageID) IsZero() bool { return v.u == uuid.Nil }

// Compare orders ids by their UUID bytes, returning -1, 0 or +1.
func (v MessageID) Compare(o MessageID) int { return compare(v.u, o.u) }

// Equal reports whether v and o are the same message id.
func (v MessageID) Equal(o MessageID) bool { return v.u == o.u }

// MarshalText encodes v as its String form.
func (v MessageID) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText parses b with ParseMessageID, rejecting anything but a v4 UUID.
func (v *MessageID) UnmarshalText(b []byte) error {
	p, err := ParseMessageID(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// EventIDError reports text that is not a valid event id.
type EventIDError struct {
	Input string
	Err   error
}

func (e *EventIDError) Error() string { return fmt.Sprintf("event id error: %q", e.Input) }
func (e *EventIDError) Unwrap() error { return e.Err }

// EventID identifies one persisted event.
type EventID struct{ u uuid.UUID }

// NewEventID returns a fresh random event id.
func NewEventID() EventID { return EventID{u: uuid.New()} }

// ParseEventID parses the canonical text form of an event id.
func ParseEventID(s string) (EventID, error) {
	u, err := parseV4(s)
	if err != nil {
		return EventID{}, &EventIDError{Input: s, Err: err}
	}
	return EventID{u: u}, nil
}

// MustEventID is ParseEventID for literals in tests. It panics on bad input.
func MustEventID(s string) EventID {
	v, err := ParseEventID(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the canonical lowercase UUID text.
func (v EventID) String() string { return v.u.String() }

// IsZero reports whether v is the zero EventID, which no constructor returns.
func (v EventID) IsZero() bool { return v.u == uuid.Nil }

// Compare orders ids by their UUID bytes, returning -1, 0 or +1.
func (v EventID) Compare(o EventID) int { return compare(v.u, o.u) }

// Equal reports whether v and o are the same event id.
func (v EventID) Equal(o EventID) bool { return v.u == o.u }

// MarshalText encodes v as its String form.
func (v EventID) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText parses b with ParseEventID, rejecting anything but a v4 UUID.
func (v *EventID) UnmarshalText(b []byte) error {
	p, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

func compare(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }
