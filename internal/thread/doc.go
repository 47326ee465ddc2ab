// Package thread implements the write side of a discussion thread.
//
// A thread is event sourced: its state is the fold of an ordered stream of
// events that always starts with a Created event followed by zero or more
// Replied events, numbered 1, 2, 3, ... without gaps. The Thread aggregate is
// an immutable value. Create and Reply return a new value together with the
// events that justify it, and Replay rebuilds the value from a stored stream.
//
// The package also defines the two value objects the events carry:
// MessageContent (validated text) and Version (the per-stream sequence number
// doubling as the optimistic concurrency token).
package thread
