// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package perf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/trackrelay/internal/config"
)

// ErrNoSnapshot is returned when the store holds no snapshot yet.
var ErrNoSnapshot = errors.New("perf: no snapshot stored")

// Key prefixes for BadgerDB storage.
const (
	snapshotKeyPrefix = "perfsnap:"
	snapshotLatestKey = "perfsnap_latest"
)

// SnapshotStore persists performance snapshots so the companion display
// layer can read them across process restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
	Recent(ctx context.Context, limit int) ([]Snapshot, error)
}

// OpenStore opens the configured snapshot store. An empty path selects
// the in-memory store. The returned close func is a no-op for memory.
func OpenStore(cfg config.StoreConfig) (SnapshotStore, func() error, error) {
	if cfg.Path == "" {
		return NewMemorySnapshotStore(), func() error { return nil }, nil
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open badger db for snapshots: %w", err)
	}
	return NewBadgerSnapshotStore(db), db.Close, nil
}

// BadgerSnapshotStore implements SnapshotStore on a shared BadgerDB.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore creates a BadgerDB-backed snapshot store.
func NewBadgerSnapshotStore(db *badger.DB) *BadgerSnapshotStore {
	return &BadgerSnapshotStore{db: db}
}

// Save stores a snapshot under a time-ordered key and refreshes the
// latest pointer.
func (s *BadgerSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(snapshotKeyPrefix + snap.CapturedAt.UTC().Format(time.RFC3339Nano))
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		if err := txn.Set([]byte(snapshotLatestKey), data); err != nil {
			return fmt.Errorf("set latest pointer: %w", err)
		}
		return nil
	})
}

// Latest returns the most recently saved snapshot.
func (s *BadgerSnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotLatestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return fmt.Errorf("get latest snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Recent returns up to limit snapshots, newest first.
func (s *BadgerSnapshotStore) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	var snaps []Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		// Reverse iteration seeks past the prefix range end.
		seek := []byte(snapshotKeyPrefix + "\xff")
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(snaps) < limit; it.Next() {
			var snap Snapshot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				continue
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return snaps, nil
}

// memorySnapshotCap bounds the in-memory store so long ephemeral runs
// do not grow it without limit.
const memorySnapshotCap = 256

// MemorySnapshotStore implements SnapshotStore in process memory, for
// tests and ephemeral runs with no store path configured. It retains
// only the most recent memorySnapshotCap snapshots.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps []Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

// Save appends a snapshot, evicting the oldest once the cap is reached.
func (s *MemorySnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == memorySnapshotCap {
		copy(s.snaps, s.snaps[1:])
		s.snaps[len(s.snaps)-1] = snap
		return nil
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

// Latest returns the most recently saved snapshot.
func (s *MemorySnapshotStore) Latest(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return s.snaps[len(s.snaps)-1], nil
}

// Recent returns up to limit snapshots, newest first.
func (s *MemorySnapshotStore) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.snaps)
	if limit > n {
		limit = n
	}
	out := make([]Snapshot, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.snaps[i])
	}
	return out, nil
}
