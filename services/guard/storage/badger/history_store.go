// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGuard/services/guard/history"
)

var historyPrefix = []byte("history/")

// HistoryStore persists validation records in BadgerDB.
//
// # Description
//
// Keys are the prefix, the record time in big-endian nanoseconds and a
// sequence number, so iteration order is chronological. Values are JSON.
// With a retention window set, entries carry that TTL and BadgerDB
// expires them on its own.
//
// # Thread Safety
//
// Safe for concurrent use.
type HistoryStore struct {
	db        *badger.DB
	ownsDB    bool
	retention time.Duration
	seq       atomic.Uint64
	logger    *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

// OpenHistoryStore opens a database with cfg and wraps it in a store.
func OpenHistoryStore(cfg Config) (*HistoryStore, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	s := NewHistoryStore(db, cfg.Retention, cfg.Logger)
	s.ownsDB = true
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval)
	}
	return s, nil
}

// NewHistoryStore wraps an already-open database. The caller keeps
// ownership of db.
func NewHistoryStore(db *badger.DB, retention time.Duration, logger *slog.Logger) *HistoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryStore{
		db:        db,
		retention: retention,
		logger:    logger.With(slog.String("component", "history_store")),
	}
}

func (s *HistoryStore) key(ts time.Time) []byte {
	if ts.IsZero() {
		ts = time.Now()
	}
	k := make([]byte, len(historyPrefix)+16)
	copy(k, historyPrefix)
	binary.BigEndian.PutUint64(k[len(historyPrefix):], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(k[len(historyPrefix)+8:], s.seq.Add(1))
	return k
}

// Append writes records in one batch. It implements history.Sink.
func (s *HistoryStore) Append(ctx context.Context, records []history.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		val, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record for %q: %w", r.Rule, err)
		}
		e := badger.NewEntry(s.key(r.Timestamp), val)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		if err := wb.SetEntry(e); err != nil {
			return fmt.Errorf("stage record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write history batch: %w", err)
	}
	return nil
}

// Load returns up to limit of the newest stored records, oldest first.
// limit <= 0 returns everything.
func (s *HistoryStore) Load(ctx context.Context, limit int) ([]history.Record, error) {
	var newestFirst []history.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte(nil), historyPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(historyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r history.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			newestFirst = append(newestFirst, r)
			if limit > 0 && len(newestFirst) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]history.Record, len(newestFirst))
	for i, r := range newestFirst {
		out[len(newestFirst)-1-i] = r
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *HistoryStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = historyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *HistoryStore) startGC(interval time.Duration) {
	s.gcStop = make(chan struct{})
	s.gcDone = make(chan struct{})
	go func() {
		defer close(s.gcDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				for {
					err := s.db.RunValueLogGC(0.5)
					if err == nil {
						continue
					}
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("value log GC failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}()
}

// Close stops GC and closes the database if the store opened it.
func (s *HistoryStore) Close() error {
	var err error
	s.once.Do(func() {
		if s.gcStop != nil {
			close(s.gcStop)
			<-s.gcDone
		}
		if s.ownsDB {
			err = s.db.Close()
		}
	})
	return err
}
