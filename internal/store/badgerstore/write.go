package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Store appends events in one Badger transaction.
func (s *Store) Store(ctx context.Context, expected store.ExpectedVersion, events []thread.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return store.Internal(err)
	}
	threadID := events[0].EventPayload().ThreadID
	tail := events[len(events)-1].EventPayload().Version

	err := s.db.Update(func(txn *badger.Txn) error {
		actual, exists, err := readTail(txn, threadID)
		if err != nil {
			return err
		}
		if err := store.Check(threadID, expected, actual, exists); err != nil {
			return err
		}
		if err := store.Contiguous(threadID, actual, events); err != nil {
			return err
		}
		return appendEvents(txn, threadID, exists, tail, events)
	})
	if errors.Is(err, badger.ErrConflict) {
		return s.conflict(threadID, expected)
	}
	if err != nil {
		return store.Internal(err)
	}

	s.log.Debug("events stored",
		slog.String("thread_id", threadID.String()),
		slog.Int("num_events", len(events)),
		slog.Uint64("version", uint64(tail)),
	)
	return nil
}

// conflict re-reads the tail after Badger rejected a commit because another
// transaction changed the stream first.
func (s *Store) conflict(threadID id.ThreadID, expected store.ExpectedVersion) error {
	var checkErr error
	err := s.db.View(func(txn *badger.Txn) error {
		actual, exists, err := readTail(txn, threadID)
		if err != nil {
			return err
		}
		checkErr = store.Check(threadID, expected, actual, exists)
		return nil
	})
	if err != nil {
		return store.Internal(err)
	}
	if checkErr != nil {
		return checkErr
	}
	return store.Internal(fmt.Errorf("stream %s: %w", threadID, badger.ErrConflict))
}

func readTail(txn *badger.Txn, threadID id.ThreadID) (thread.Version, bool, error) {
	item, err := txn.Get(streamKey(threadID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read stream: %w", err)
	}
	var v uint32
	err = item.Value(func(val []byte) error {
		v, err = decodeVersion(val)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return thread.Version(v), true, nil
}

func appendEvents(txn *badger.Txn, threadID id.ThreadID, exists bool, tail thread.Version, events []thread.Event) error {
	if err := txn.Set(streamKey(threadID), encodeVersion(tail.Uint32())); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	for _, e := range events {
		data, err := marshal(thread.RecordOf(e))
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(threadID, e.EventPayload().Version), data); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}

	var base *readmodel.Summary
	if exists {
		var row summaryRow
		ok, err := getJSON(txn, threadKey(threadID), &row)
		if err != nil {
			return fmt.Errorf("read projection: %w", err)
		}
		if !ok {
			return fmt.Errorf("projection missing for thread %s", threadID)
		}
		sum, err := row.summary()
		if err != nil {
			return fmt.Errorf("read projection: %w", err)
		}
		base = &sum
	}

	sum, added := store.Fold(base, events)

	data, err := marshal(toSummaryRow(sum))
	if err != nil {
		return err
	}
	if err := txn.Set(threadKey(threadID), data); err != nil {
		return fmt.Errorf("write projection: %w", err)
	}
	for _, m := range added {
		data, err := marshal(toMessageRow(m))
		if err != nil {
			return err
		}
		key := messageKey(threadID, m.Number)
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
		if err := txn.Set(msgIndexKey(m.ID), key); err != nil {
			return fmt.Errorf("write message index: %w", err)
		}
	}
	return nil
}
