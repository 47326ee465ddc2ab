package store

import (
	"errors"
	"fmt"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/thread"
)

// NotFoundError is returned when appending to a stream that does not exist.
type NotFoundError struct {
	ThreadID id.ThreadID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("thread %s not found", e.ThreadID)
}

// VersionMismatchError is returned when the stored tail differs from the
// caller's expectation.
type VersionMismatchError struct {
	ThreadID id.ThreadID
	Actual   thread.Version
	Expected ExpectedVersion
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("thread %s: version mismatch: actual %d, expected %s", e.ThreadID, e.Actual, e.Expected)
}

// InternalError wraps a storage failure.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("store internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an *InternalError, leaving nil and errors that
// already belong to the taxonomy untouched.
func Internal(err error) error {
	if err == nil || IsNotFound(err) || IsVersionMismatch(err) || IsInternal(err) {
		return err
	}
	return &InternalError{Err: err}
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsVersionMismatch reports whether err is a *VersionMismatchError.
func IsVersionMismatch(err error) bool {
	var e *VersionMismatchError
	return errors.As(err, &e)
}

// IsInternal reports whether err is an *InternalError.
func IsInternal(err error) bool {
	var e *InternalError
	return errors.As(err, &e)
}

// AsVersionMismatch extracts a *VersionMismatchError from err's chain.
func AsVersionMismatch(err error) (*VersionMismatchError, bool) {
	var e *VersionMismatchError
	ok := errors.As(err, &e)
	return e, ok
}
