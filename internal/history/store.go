// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package history persists a bounded log of backup runs in BadgerDB so the
// control surface can show what happened across restarts.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/logging"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history store closed")

const prefixRun = "run:"

// Transition is one state change within a run.
type Transition struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// RunRecord is the persisted outcome of one backup run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	FinalState string    `json:"final_state"`

	FailedIn   string `json:"failed_in,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ErrorPhase string `json:"error_phase,omitempty"`
	Error      string `json:"error,omitempty"`

	Slug          string `json:"slug,omitempty"`
	Strategy      string `json:"strategy,omitempty"`
	SourceVersion string `json:"source_version,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`

	BackupID    string `json:"backup_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	BytesSent   int64  `json:"bytes_sent"`
	ChunkCount  int    `json:"chunk_count"`

	SnapshotDeleted  bool     `json:"snapshot_deleted"`
	RetentionRemoved []string `json:"retention_removed,omitempty"`
	CleanupError     string   `json:"cleanup_error,omitempty"`
	SideSync         string   `json:"side_sync,omitempty"` // skipped, ok, failed, disabled
	SideSyncError    string   `json:"side_sync_error,omitempty"`

	Transitions []Transition `json:"transitions"`
}

// Store is a BadgerDB-backed run log.
type Store struct {
	db         *badger.DB
	maxRecords int

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg config.HistoryConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	keep := cfg.MaxRecords
	if keep <= 0 {
		keep = 100
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int("max_records", keep).
		Msg("Run history opened")
	return &Store{db: db, maxRecords: keep}, nil
}

// recordKey sorts chronologically: zero-padded start time, then run ID.
func recordKey(rec *RunRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixRun, rec.StartedAt.UnixNano(), rec.RunID))
}

// Save persists rec and trims the log to the configured size.
func (s *Store) Save(ctx context.Context, rec RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(&rec), data)
	}); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return s.trim(ctx)
}

// trim deletes the oldest records beyond maxRecords.
func (s *Store) trim(ctx context.Context) error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		seen := 0
		for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			seen++
			if seen > s.maxRecords {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan run records: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("trim run records: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns every record.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var records []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping unreadable run record")
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read run records: %w", err)
	}
	return records, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// seekLast is the position a reverse iterator seeks to for prefix: just past
// every key that starts with it.
func seekLast(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xFF)
}
