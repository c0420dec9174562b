package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const windowKeyPrefix = "rlwindow:"

// Badger transactions are optimistic; racing updates to the same actor key
// abort with ErrConflict instead of queueing. Retries are cheap (the txn is
// a single small key) but each committed competitor can cost one round, so
// the bound must exceed any plausible per-actor burst. Bounded so a
// livelock can't hide a real outage.
const maxSlideRetries = 64

// BadgerStore persists actor windows in a BadgerDB instance, kept apart
// from the chat database so the two failure domains stay independent.
// Entries carry a TTL of one window length and expire on their own.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a badger store at path. An empty path
// opens an in-memory instance, used by tests.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate limit store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Slide implements Store. The read-prune-write sequence runs in one
// transaction; conflicting transactions on the same actor abort and are
// retried here, so two racing calls are never both admitted past the cap.
func (s *BadgerStore) Slide(ctx context.Context, actorID string, now time.Time, window time.Duration, limit int) (bool, int, time.Time, error) {
	var admitted bool
	var count int
	var oldest time.Time

	var err error
	for attempt := 0; attempt < maxSlideRetries; attempt++ {
		if ctx.Err() != nil {
			return false, 0, time.Time{}, ctx.Err()
		}

		admitted, count, oldest, err = s.slideOnce(actorID, now, window, limit)
		if !errors.Is(err, badger.ErrConflict) {
			return admitted, count, oldest, err
		}
	}
	return false, 0, time.Time{}, fmt.Errorf("window update for %s kept conflicting: %w", actorID, err)
}

func (s *BadgerStore) slideOnce(actorID string, now time.Time, window time.Duration, limit int) (bool, int, time.Time, error) {
	key := []byte(windowKeyPrefix + actorID)

	var admitted bool
	var count int
	var oldest time.Time

	err := s.db.Update(func(txn *badger.Txn) error {
		var stamps []int64

		item, err := txn.Get(key)
		switch err {
		case nil:
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &stamps)
			}); err != nil {
				return fmt.Errorf("failed to decode window for %s: %w", actorID, err)
			}
		case badger.ErrKeyNotFound:
			// first action in this window
		default:
			return err
		}

		cutoff := now.Add(-window).UnixNano()
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		stamps = kept

		admitted = len(stamps) < limit
		if admitted {
			stamps = append(stamps, now.UnixNano())
		}

		count = len(stamps)
		if count > 0 {
			oldest = time.Unix(0, stamps[0])
		}

		data, err := json.Marshal(stamps)
		if err != nil {
			return err
		}

		entry := badger.NewEntry(key, data).WithTTL(window)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, 0, time.Time{}, err
	}

	return admitted, count, oldest, nil
}

// Close closes the underlying badger instance.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
