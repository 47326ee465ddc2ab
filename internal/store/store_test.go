package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/thread"
)

func TestExpectedVersion(t *testing.T) {
	none := NoStream()
	assert.True(t, none.IsNoStream())
	_, ok := none.Version()
	assert.False(t, ok)
	assert.Equal(t, "none", none.String())

	at := AtVersion(3)
	v, ok := at.Version()
	assert.True(t, ok)
	assert.Equal(t, thread.Version(3), v)
	assert.Equal(t, "3", at.String())
	assert.NotEqual(t, none, AtVersion(0))
}

func TestCheck(t *testing.T) {
	tid := id.NewThreadID()

	tests := []struct {
		name     string
		expected ExpectedVersion
		actual   thread.Version
		exists   bool
		want     func(error) bool
	}{
		{"new stream", NoStream(), 0, false, func(err error) bool { return err == nil }},
		{"stream exists", NoStream(), 4, true, IsVersionMismatch},
		{"missing stream", AtVersion(1), 0, false, IsNotFound},
		{"stale", AtVersion(1), 2, true, IsVersionMismatch},
		{"ahead", AtVersion(3), 2, true, IsVersionMismatch},
		{"match", AtVersion(2), 2, true, func(err error) bool { return err == nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tid, tt.expected, tt.actual, tt.exists)
			assert.True(t, tt.want(err), "unexpected result %v", err)
		})
	}
}

func TestVersionMismatchCarriesBothSides(t *testing.T) {
	tid := id.NewThreadID()
	err := fmt.Errorf("reply: %w", Check(tid, AtVersion(1), 2, true))

	vm, ok := AsVersionMismatch(err)
	require.True(t, ok)
	assert.Equal(t, thread.Version(2), vm.Actual)
	assert.Equal(t, AtVersion(1), vm.Expected)
	assert.Equal(t, tid, vm.ThreadID)
	assert.Contains(t, err.Error(), "actual 2, expected 1")
}

func TestInternal(t *testing.T) {
	assert.NoError(t, Internal(nil))

	base := errors.New("disk on fire")
	wrapped := Internal(base)
	assert.True(t, IsInternal(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Same(t, wrapped, Internal(wrapped))

	nf := &NotFoundError{ThreadID: id.NewThreadID()}
	assert.Same(t, error(nf), Internal(nf))
	assert.False(t, IsInternal(Internal(nf)))
}

func TestContiguous(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	content, err := thread.NewMessageContent("hi")
	require.NoError(t, err)

	root, created := thread.CreateAt(content, at)
	second, r2, err := root.ReplyAt(content, at)
	require.NoError(t, err)
	_, r3, err := second.ReplyAt(content, at)
	require.NoError(t, err)
	other, _ := thread.CreateAt(content, at)

	tests := []struct {
		name   string
		actual thread.Version
		events []thread.Event
		ok     bool
	}{
		{"new stream", 0, created, true},
		{"new stream with reply", 0, append(created[:1:1], r2...), true},
		{"next reply", 1, r2, true},
		{"two replies", 1, append(r2[:1:1], r3...), true},
		{"gap", 1, r3, false},
		{"repeat", 2, r2, false},
		{"leading reply", 0, r2, false},
		{"created twice", 1, created, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Contiguous(root.ID(), tt.actual, tt.events)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsInternal(err), "got %v", err)
			}
		})
	}

	err = Contiguous(other.ID(), 0, created)
	assert.True(t, IsInternal(err), "foreign thread: got %v", err)
}
