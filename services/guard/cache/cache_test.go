// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := New[string]("code", Options{MaxEntries: 3, TTL: time.Hour})

	for i := 1; i <= 4; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok, "k1 should have been evicted")
	for _, k := range []string{"k2", "k3", "k4"} {
		_, ok := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	c := New[int]("code", Options{MaxEntries: 3, TTL: time.Hour})
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "c", 3)

	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	c.Set(ctx, "d", 4)

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()

	t.Run("fake clock", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string]("security", Options{MaxEntries: 10, TTL: time.Second}, WithClock(clock.Now))
		c.Set(ctx, "k", "v")

		v, ok := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, "v", v)

		clock.Advance(1100 * time.Millisecond)
		_, ok = c.Get(ctx, "k")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len(), "expired entry removed on access")

		s := c.Stats()
		assert.Equal(t, int64(1), s.Hits)
		assert.Equal(t, int64(1), s.Misses)
		assert.Equal(t, int64(1), s.Evictions)
	})

	t.Run("real clock", func(t *testing.T) {
		c := New[string]("security", Options{MaxEntries: 10, TTL: time.Second})
		c.Set(ctx, "k", "v")
		_, ok := c.Get(ctx, "k")
		require.True(t, ok)

		time.Sleep(1100 * time.Millisecond)
		_, ok = c.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("per entry ttl", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string]("code", Options{MaxEntries: 10, TTL: time.Hour}, WithClock(clock.Now))
		c.SetWithTTL(ctx, "short", "v", time.Minute)
		c.Set(ctx, "long", "v")

		clock.Advance(2 * time.Minute)
		_, ok := c.Get(ctx, "short")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "long")
		assert.True(t, ok)
	})
}

func TestCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New[int]("code", Options{MaxEntries: 10, TTL: time.Minute}, WithClock(clock.Now))
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	clock.Advance(30 * time.Second)
	c.Set(ctx, "c", 3)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, []string{"c"}, c.Keys())
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := New[int]("code", Options{MaxEntries: 10, TTL: time.Minute})
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_StatsAndEntries(t *testing.T) {
	ctx := context.Background()
	c := New[int]("code", Options{MaxEntries: 10, TTL: time.Minute})
	c.Set(ctx, "a", 1)
	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "missing")

	s := c.Stats()
	assert.InDelta(t, 0.75, s.HitRate, 1e-9)
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 10, s.Capacity)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Key)
	assert.Equal(t, int64(3), entries[0].Hits)
}

func TestCache_ResizeEvicts(t *testing.T) {
	ctx := context.Background()
	c := New[int]("code", Options{MaxEntries: 5, TTL: time.Minute})
	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), i)
	}
	c.Resize(2)
	assert.Equal(t, []string{"k3", "k4"}, c.Keys())
	assert.Equal(t, 2, c.Capacity())
	assert.Equal(t, 5, c.BaseCapacity())
}

func TestCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := New[int]("code", Options{MaxEntries: 50, TTL: time.Minute})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(ctx, key, i)
				c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestNextCapacity(t *testing.T) {
	tests := []struct {
		name    string
		stats   Stats
		base    int
		want    int
		changed bool
	}{
		{
			name:  "no requests",
			stats: Stats{Capacity: 1000},
			base:  1000, want: 1000,
		},
		{
			name:  "low hit rate grows 20%",
			stats: Stats{Capacity: 1000, Hits: 5, Misses: 5, HitRate: 0.5, Size: 900},
			base:  1000, want: 1200, changed: true,
		},
		{
			name:  "high eviction rate grows 50%",
			stats: Stats{Capacity: 1000, Hits: 90, Misses: 10, HitRate: 0.9, Evictions: 20, Size: 900},
			base:  1000, want: 1500, changed: true,
		},
		{
			name:  "low occupancy shrinks 20%",
			stats: Stats{Capacity: 1000, Hits: 90, Misses: 10, HitRate: 0.9, Size: 100},
			base:  1000, want: 800, changed: true,
		},
		{
			name:  "growth capped at double base",
			stats: Stats{Capacity: 1900, Hits: 1, Misses: 9, HitRate: 0.1, Size: 1900},
			base:  1000, want: 2000, changed: true,
		},
		{
			name:  "shrink floored at 100",
			stats: Stats{Capacity: 110, Hits: 9, Misses: 1, HitRate: 0.9, Size: 1},
			base:  200, want: 100, changed: true,
		},
		{
			name:  "small base floors at base",
			stats: Stats{Capacity: 50, Hits: 9, Misses: 1, HitRate: 0.9, Size: 1},
			base:  50, want: 50,
		},
		{
			name:  "healthy unchanged",
			stats: Stats{Capacity: 1000, Hits: 90, Misses: 10, HitRate: 0.9, Size: 600},
			base:  1000, want: 1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := NextCapacity(tt.stats, tt.base)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m := NewManager[string](DefaultCategoryOptions(), nil)

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, []string{"architecture", "code", "custom", "documentation", "performance", "security"}, m.Names())
		sec, err := m.Get("security")
		require.NoError(t, err)
		assert.Equal(t, 2000, sec.Capacity())
		assert.Equal(t, 30*time.Minute, sec.Stats().TTL)
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := m.Get("style")
		assert.ErrorIs(t, err, ErrUnknownCategory)
	})

	t.Run("optimize grows on misses", func(t *testing.T) {
		code, _ := m.Get("code")
		code.Get(ctx, "missing")
		n, err := m.Optimize("code")
		require.NoError(t, err)
		assert.Equal(t, 1200, n)
		assert.Equal(t, 1200, code.Capacity())
	})

	t.Run("clear all", func(t *testing.T) {
		doc, _ := m.Get("documentation")
		doc.Set(ctx, "k", "v")
		m.ClearAll()
		assert.Equal(t, 0, doc.Len())
	})
}

func TestManager_Sweeper(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewManager[int](map[string]Options{
		"code":     {MaxEntries: 10, TTL: time.Second},
		"security": {MaxEntries: 10, TTL: time.Second},
	}, nil, WithClock(clock.Now))

	code, _ := m.Get("code")
	sec, _ := m.Get("security")
	code.Set(ctx, "a", 1)
	sec.Set(ctx, "b", 2)
	clock.Advance(2 * time.Second)

	m.Start(ctx, 10*time.Millisecond, false)
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return code.Len() == 0 && sec.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
