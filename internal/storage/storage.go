package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"mediaserve/pkg/types"
)

const (
	statsPrefix = "stats:"
	maxRetries  = 5
)

// StatsStore persists per-file delivery statistics
type StatsStore struct {
	db  *badger.DB
	now func() time.Time
}

func New(dataDir string) (*StatsStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &StatsStore{
		db:  db,
		now: time.Now,
	}, nil
}

func (s *StatsStore) Close() error {
	return s.db.Close()
}

// Record adds one delivery of path to its statistics. Concurrent updates
// of the same path conflict in badger, so the transaction is retried.
func (s *StatsStore) Record(path string, status int, written int64) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			stats, err := getStats(txn, path)
			if err != nil {
				return err
			}
			if stats == nil {
				stats = &types.AccessStats{Path: path}
			}

			stats.Requests++
			if status == http.StatusPartialContent {
				stats.PartialRequests++
			}
			stats.BytesServed += written
			stats.LastStatus = status
			stats.LastAccess = s.now().UTC()

			data, err := json.Marshal(stats)
			if err != nil {
				return fmt.Errorf("failed to marshal stats: %w", err)
			}
			return txn.Set([]byte(statsPrefix+path), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to record stats for %s: %w", path, err)
	}
	return nil
}

func getStats(txn *badger.Txn, path string) (*types.AccessStats, error) {
	item, err := txn.Get([]byte(statsPrefix + path))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats *types.AccessStats
	err = item.Value(func(val []byte) error {
		stats = &types.AccessStats{}
		return json.Unmarshal(val, stats)
	})
	return stats, err
}

// Get returns the statistics of path, or nil if it was never served
func (s *StatsStore) Get(path string) (*types.AccessStats, error) {
	var stats *types.AccessStats

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		stats, err = getStats(txn, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats, nil
}

// All returns the statistics of every served file ordered by path
func (s *StatsStore) All() ([]types.AccessStats, error) {
	var all []types.AccessStats

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(statsPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			err := item.Value(func(val []byte) error {
				var stats types.AccessStats
				if err := json.Unmarshal(val, &stats); err != nil {
					return err
				}
				all = append(all, stats)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get all stats: %w", err)
	}

	return all, nil
}

func (s *StatsStore) Count() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // We only need to count, not read values
		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(statsPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			count++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to count stats: %w", err)
	}

	return count, nil
}
