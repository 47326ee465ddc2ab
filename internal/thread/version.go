package thread

import (
	"fmt"
	"math"
)

// Version is the 1-based position of an event in its thread's stream.
// The version of a thread is that of its latest event.
type Version uint32

// InitialVersion is the version of a Created event.
func InitialVersion() Version { return 1 }

// NewVersion converts external input into a Version.
func NewVersion(n uint32) (Version, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: 0", ErrInvalidVersion)
	}
	return Version(n), nil
}

// Next returns v+1. It panics rather than wrap at math.MaxUint32.
func (v Version) Next() Version {
	if v == math.MaxUint32 {
		panic(ErrVersionOverflow)
	}
	return v + 1
}

// Uint32 returns the numeric value.
func (v Version) Uint32() uint32 { return uint32(v) }
