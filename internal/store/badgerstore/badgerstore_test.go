package badgerstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/store/storetest"
	"github.com/roach88/threads/internal/thread"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	s := New(db, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func Test_Store_Survives_Reopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir)
	req.NoError(err)
	th, _ := storetest.Seed(t, s1, "persisted", 0)
	th, _ = storetest.Reply(t, s1, th, "reply", time.Second)
	req.NoError(s1.Close())

	s2, err := Open(dir)
	req.NoError(err)
	defer s2.Close()

	found, ok, err := s2.Find(ctx, th.ID())
	req.NoError(err)
	req.True(ok)
	req.Equal(thread.Version(2), found.Version())

	rt, ok, err := s2.GetThread(ctx, th.ID())
	req.NoError(err)
	req.True(ok)
	req.Len(rt.Messages, 2)
	req.Equal("reply", rt.LastMessage.Content)
}

func Test_Keys_Are_Zero_Padded(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)

	th, _ := storetest.Seed(t, s, "root", 0)
	for i := 0; i < 10; i++ {
		th, _ = storetest.Reply(t, s, th, "r", time.Duration(i)*time.Second)
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := eventPrefix(th.ID())
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		return nil
	})
	req.NoError(err)
	req.Len(keys, 11)
	req.Equal("0000000001", keys[0])
	req.Equal("0000000011", keys[10])

	events, err := s.Events(context.Background(), th.ID())
	req.NoError(err)
	for i, e := range events {
		req.Equal(thread.Version(i+1), e.EventPayload().Version)
	}
}

func Test_Corrupt_Stream_Key_Is_Internal(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	th, _ := storetest.Seed(t, s, "root", 0)

	req.NoError(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(streamKey(th.ID()), []byte("not a number"))
	}))

	_, events, err := th.ReplyAt(storetest.Content(t, "r"), storetest.T0)
	req.NoError(err)
	err = s.Store(context.Background(), store.AtVersion(1), events)
	req.True(store.IsInternal(err), "got %v", err)
}
