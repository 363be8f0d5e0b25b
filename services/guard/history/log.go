// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// Defaults for the validation history.
const (
	DefaultCapacity   = 10000
	DefaultFlushBatch = 256
)

// Record is one completed, uncached validation.
type Record struct {
	Rule      string         `json:"rule"`
	Category  rules.Category `json:"category"`
	Severity  rules.Severity `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives history records for durable retention.
type Sink interface {
	Append(ctx context.Context, records []Record) error
}

// Log is the bounded in-memory validation history.
//
// # Description
//
// The newest Capacity records are kept in memory. When a Sink is
// attached, every record is also queued and handed to the sink in batches
// of FlushBatch, so records displaced from memory are still retained. If
// the sink keeps failing, the queue is capped at Capacity and the oldest
// queued records are dropped and counted.
//
// # Thread Safety
//
// Safe for concurrent use. Sink writes happen outside the lock.
type Log struct {
	mu         sync.Mutex
	ring       *Ring[Record]
	sink       Sink
	flushBatch int
	pending    []Record
	dropped    int64
	seq        uint64 // records ever pushed into the ring
	flushMu    sync.Mutex
	logger     *slog.Logger
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithSink attaches durable storage. batch <= 0 uses DefaultFlushBatch.
func WithSink(s Sink, batch int) LogOption {
	return func(l *Log) {
		l.sink = s
		if batch > 0 {
			l.flushBatch = batch
		}
	}
}

// WithLogger sets the logger used for flush failures.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLog creates a history holding at most capacity records in memory.
func NewLog(capacity int, opts ...LogOption) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		ring:       NewRing[Record](capacity),
		flushBatch: DefaultFlushBatch,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds a record, flushing to the sink when a batch is full.
func (l *Log) Append(ctx context.Context, rec Record) {
	l.mu.Lock()
	l.ring.Push(rec)
	l.seq++
	flush := false
	if l.sink != nil {
		l.pending = append(l.pending, rec)
		if over := len(l.pending) - l.ring.Cap(); over > 0 {
			l.pending = append([]Record(nil), l.pending[over:]...)
			l.dropped += int64(over)
		}
		flush = len(l.pending) >= l.flushBatch
	}
	l.mu.Unlock()

	if flush {
		if err := l.Flush(ctx); err != nil {
			l.logger.Warn("history flush failed",
				slog.String("error", err.Error()),
				slog.Int("pending", l.Pending()),
			)
		}
	}
}

// Flush hands every queued record to the sink.
//
// On failure the records are queued again ahead of anything appended
// meanwhile.
func (l *Log) Flush(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := l.sink.Append(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		if over := len(l.pending) - l.ring.Cap(); over > 0 {
			l.pending = l.pending[over:]
			l.dropped += int64(over)
		}
		l.mu.Unlock()
		return fmt.Errorf("flush %d records: %w", len(batch), err)
	}
	return nil
}

// Records returns the in-memory records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Items()
}

// Recent returns up to n records, newest first.
func (l *Log) Recent(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Newest(n)
}

// ForRule returns the in-memory records for one rule, oldest first.
func (l *Log) ForRule(name string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Select(func(r Record) bool { return r.Rule == name })
}

// Len returns the number of in-memory records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Len()
}

// Cap returns the in-memory capacity.
func (l *Log) Cap() int {
	return l.ring.Cap()
}

// Pending returns the number of records waiting for the sink.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Dropped returns how many queued records were discarded because the
// sink fell behind.
func (l *Log) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Seed loads previously stored records into memory without queuing them
// for the sink.
func (l *Log) Seed(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		l.ring.Push(r)
		l.seq++
	}
}

// Seq returns the sequence number of the newest record, counting every
// record appended or seeded since the log was created.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Since returns the in-memory records with a sequence number above after,
// oldest first, and the sequence number of the newest record. Records
// displaced from memory before the call are not returned.
func (l *Log) Since(after uint64) ([]Record, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.ring.Len()
	oldest := l.seq - uint64(n)
	skip := 0
	if after > oldest {
		skip = int(min(after-oldest, uint64(n)))
	}
	if skip == n {
		return nil, l.seq
	}
	return l.ring.Items()[skip:], l.seq
}
