package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Find replays the stored stream of threadID.
func (s *Store) Find(ctx context.Context, threadID id.ThreadID) (thread.Thread, bool, error) {
	events, err := s.Events(ctx, threadID)
	if err != nil {
		return thread.Thread{}, false, err
	}
	if len(events) == 0 {
		return thread.Thread{}, false, nil
	}
	return thread.Replay(events), true, nil
}

// Events returns the stream of threadID ordered by version.
func (s *Store) Events(_ context.Context, threadID id.ThreadID) ([]thread.Event, error) {
	records := []thread.Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, eventPrefix(threadID), func(val []byte) error {
			var r thread.Record
			if err := unmarshal(val, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, store.Internal(fmt.Errorf("read events: %w", err))
	}

	events, err := thread.DecodeRecords(records)
	if err != nil {
		return nil, store.Internal(err)
	}
	return events, nil
}

// GetThread returns the stored projection including its messages.
func (s *Store) GetThread(_ context.Context, threadID id.ThreadID) (readmodel.Thread, bool, error) {
	var (
		row  summaryRow
		rows []messageRow
		ok   bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, threadKey(threadID), &row)
		if err != nil || !ok {
			return err
		}
		return scanPrefix(txn, messagePrefix(threadID), func(val []byte) error {
			var m messageRow
			if err := unmarshal(val, &m); err != nil {
				return err
			}
			rows = append(rows, m)
			return nil
		})
	})
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("read thread: %w", err))
	}
	if !ok {
		return readmodel.Thread{}, false, nil
	}

	sum, err := row.summary()
	if err != nil {
		return readmodel.Thread{}, false, store.Internal(fmt.Errorf("decode thread: %w", err))
	}
	rt := readmodel.FromSummary(sum)
	rt.Messages = make([]readmodel.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.message()
		if err != nil {
			return readmodel.Thread{}, false, store.Internal(fmt.Errorf("decode message: %w", err))
		}
		rt.Messages = append(rt.Messages, m)
	}
	return rt, true, nil
}

// ListThreads returns all summaries ordered by creation time, then id.
func (s *Store) ListThreads(_ context.Context) ([]readmodel.Summary, error) {
	out := []readmodel.Summary{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, threadPrefix, func(val []byte) error {
			var row summaryRow
			if err := unmarshal(val, &row); err != nil {
				return err
			}
			sum, err := row.summary()
			if err != nil {
				return err
			}
			out = append(out, sum)
			return nil
		})
	})
	if err != nil {
		return nil, store.Internal(fmt.Errorf("list threads: %w", err))
	}

	slices.SortFunc(out, readmodel.Compare)
	return out, nil
}

// GetMessage resolves the message index and loads the message row.
func (s *Store) GetMessage(_ context.Context, messageID id.MessageID) (readmodel.ThreadMessage, bool, error) {
	var (
		key []byte
		row messageRow
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(msgIndexKey(messageID))
		if err != nil {
			return err
		}
		if key, err = item.ValueCopy(nil); err != nil {
			return err
		}
		ok, err := getJSON(txn, key, &row)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("message index points at missing key %s", key)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return readmodel.ThreadMessage{}, false, nil
	}
	if err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(fmt.Errorf("read message: %w", err))
	}

	// message:{thread_id}:{number}
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return readmodel.ThreadMessage{}, false, store.Internal(fmt.Errorf("malformed message key %q", key))
	}
	tid, err := id.ParseThreadID(parts[1])
	if err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(err)
	}
	m, err := row.message()
	if err != nil {
		return readmodel.ThreadMessage{}, false, store.Internal(err)
	}
	return readmodel.ThreadMessage{ThreadID: tid, Message: m}, true, nil
}

// scanPrefix calls fn with every value under prefix in key order.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
