package thread

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageLimitReached is wrapped by the ThreadError returned when a
	// thread already holds MaxMessages messages.
	ErrMessageLimitReached = errors.New("message limit reached")

	// ErrInvalidVersion is returned by NewVersion for 0.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrVersionOverflow is the panic value of Version.Next at the maximum.
	ErrVersionOverflow = errors.New("version overflow")

	// ErrUnknownEventKind is returned when decoding a record of unknown kind.
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// ThreadError is a domain rule violation on a specific thread.
type ThreadError struct {
	ThreadID string
	Err      error
}

func (e *ThreadError) Error() string {
	return fmt.Sprintf("thread %s: %v", e.ThreadID, e.Err)
}

func (e *ThreadError) Unwrap() error { return e.Err }

// IsMessageLimit reports whether err is the message limit rule.
func IsMessageLimit(err error) bool {
	return errors.Is(err, ErrMessageLimitReached)
}
