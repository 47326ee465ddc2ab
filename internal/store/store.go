package store

import (
	"context"
	"fmt"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/thread"
)

// ThreadReader serves the read projection. Lookups never replay events.
type ThreadReader interface {
	GetThread(ctx context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error)
	ListThreads(ctx context.Context) ([]readmodel.Summary, error)
}

// ThreadRepository loads and appends to event streams.
type ThreadRepository interface {
	// Find replays the stored stream of threadID.
	Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error)
	// Store appends events under the optimistic concurrency check described
	// in the package documentation.
	Store(ctx context.Context, expected ExpectedVersion, events []thread.Event) error
}

// MessageReader locates a single message by id.
type MessageReader interface {
	GetMessage(ctx context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error)
}

// EventReader exposes the raw event log. It returns an empty slice for an
// unknown thread.
type EventReader interface {
	Events(ctx context.Context, threadID id.ThreadID) ([]thread.Event, error)
}

// Store is a complete backend.
type Store interface {
	ThreadReader
	ThreadRepository
	MessageReader
	EventReader
	Close() error
}

// ExpectedVersion is the caller's belief about a stream's tail: either no
// stream at all, or a stream whose latest event has a given version.
type ExpectedVersion struct {
	version thread.Version
	exists  bool
}

// NoStream expects that the stream does not exist yet.
func NoStream() ExpectedVersion { return ExpectedVersion{} }

// AtVersion expects the stream's tail to be at v.
func AtVersion(v thread.Version) ExpectedVersion {
	return ExpectedVersion{version: v, exists: true}
}

// Version returns the expected tail and whether a stream is expected.
func (e ExpectedVersion) Version() (thread.Version, bool) { return e.version, e.exists }

// IsNoStream reports whether e is NoStream.
func (e ExpectedVersion) IsNoStream() bool { return !e.exists }

func (e ExpectedVersion) String() string {
	if !e.exists {
		return "none"
	}
	return fmt.Sprintf("%d", e.version)
}

// Check applies the compare half of compare-and-append. actual is the
// stored tail, with exists false when there is no stream.
func Check(threadID id.ThreadID, expected ExpectedVersion, actual thread.Version, exists bool) error {
	want, expectStream := expected.Version()
	switch {
	case !expectStream && exists:
		return &VersionMismatchError{ThreadID: threadID, Actual: actual, Expected: expected}
	case expectStream && !exists:
		return &NotFoundError{ThreadID: threadID}
	case expectStream && actual != want:
		return &VersionMismatchError{ThreadID: threadID, Actual: actual, Expected: expected}
	}
	return nil
}

// Contiguous checks that events continue a stream whose tail is actual
// (zero for a new stream): all for threadID, versions actual+1 onwards
// with no gaps, and a Created event exactly at the initial version.
// Violations are reported as an *InternalError and nothing is written.
func Contiguous(threadID id.ThreadID, actual thread.Version, events []thread.Event) error {
	for i, e := range events {
		p := e.EventPayload()
		if p.ThreadID != threadID {
			return Internal(fmt.Errorf("append to %s: event %d belongs to thread %s", threadID, i, p.ThreadID))
		}
		want := thread.Version(uint32(actual) + uint32(i) + 1)
		if p.Version != want {
			return Internal(fmt.Errorf("append to %s: event %d has version %d, want %d", threadID, i, p.Version, want))
		}
		if created := e.Kind() == thread.KindCreated; created != (want == thread.InitialVersion()) {
			return Internal(fmt.Errorf("append to %s: %s event at version %d", threadID, e.Kind(), want))
		}
	}
	return nil
}
