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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	assert.Equal(t, 3, r.Cap())
	assert.Nil(t, r.Items())

	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}
	assert.True(t, r.Full())

	old, evicted := r.Push(4)
	require.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, []int{4, 3}, r.Newest(2))
	assert.Equal(t, []int{4, 3, 2}, r.Newest(10))
	assert.Equal(t, []int{2, 4}, r.Select(func(v int) bool { return v%2 == 0 }))

	var seen []int
	r.Each(func(v int) bool {
		seen = append(seen, v)
		return v < 3
	})
	assert.Equal(t, []int{2, 3}, seen)

	r.Reset()
	assert.Equal(t, 0, r.Len())
}

func TestRing_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultRingCapacity, NewRing[string](0).Cap())
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]Record
	fail    bool
}

func (s *memorySink) Append(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.batches = append(s.batches, append([]Record(nil), records...))
	return nil
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func rec(i int) Record {
	return Record{Rule: fmt.Sprintf("r%d", i%2), Success: i%3 == 0}
}

func TestLog_Bounded(t *testing.T) {
	ctx := context.Background()
	l := NewLog(5)
	for i := 0; i < 12; i++ {
		l.Append(ctx, rec(i))
	}
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, 0, l.Pending(), "no sink, nothing queued")
	assert.Len(t, l.Recent(2), 2)
	assert.Len(t, l.ForRule("r0"), 2)
}

func TestLog_FlushesInBatches(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	l := NewLog(4, WithSink(sink, 3))

	for i := 0; i < 7; i++ {
		l.Append(ctx, rec(i))
	}
	assert.Equal(t, 6, sink.total())
	assert.Equal(t, 1, l.Pending())

	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 7, sink.total(), "records displaced from memory were retained")
	assert.Equal(t, 4, l.Len())
}

func TestLog_FlushFailureRequeues(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{fail: true}
	l := NewLog(4, WithSink(sink, 100))

	for i := 0; i < 3; i++ {
		l.Append(ctx, rec(i))
	}
	assert.Error(t, l.Flush(ctx))
	assert.Equal(t, 3, l.Pending())

	for i := 0; i < 3; i++ {
		l.Append(ctx, rec(i))
	}
	assert.Equal(t, 4, l.Pending(), "queue capped at capacity")
	assert.Equal(t, int64(2), l.Dropped())

	sink.fail = false
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 4, sink.total())
}

func TestLog_Seed(t *testing.T) {
	sink := &memorySink{}
	l := NewLog(10, WithSink(sink, 1))
	l.Seed([]Record{rec(1), rec(2)})
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 0, l.Pending())
}

func TestLog_Since(t *testing.T) {
	ctx := context.Background()
	l := NewLog(3)
	l.Seed([]Record{rec(0)})
	l.Append(ctx, rec(1))

	got, seq := l.Since(0)
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(2), seq)

	got, seq = l.Since(seq)
	assert.Empty(t, got)
	assert.Equal(t, uint64(2), seq)

	for i := 2; i < 6; i++ {
		l.Append(ctx, rec(i))
	}
	got, seq = l.Since(2)
	assert.Equal(t, uint64(6), seq)
	require.Len(t, got, 3, "records displaced from memory are gone")
	assert.Equal(t, rec(3), got[0])

	got, _ = l.Since(5)
	require.Len(t, got, 1)
	assert.Equal(t, rec(5), got[0])
	assert.Equal(t, uint64(6), l.Seq())
}
