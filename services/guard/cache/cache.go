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
	"container/list"
	"context"
	"sort"
	"sync"
	"time"
)

// Cache is a bounded LRU store with per-entry time-to-live.
//
// # Description
//
// Recency is updated on every successful Get and every Set. When the
// store is at capacity, Set evicts the single least-recently-used entry.
// Expired entries are removed lazily on Get and in bulk by Sweep.
//
// # Thread Safety
//
// Safe for concurrent use. Each Cache has its own lock, so caches for
// different categories never contend.
type Cache[V any] struct {
	name string
	now  func() time.Time

	mu         sync.Mutex
	maxEntries int
	baseSize   int
	defaultTTL time.Duration
	items      map[string]*list.Element
	lru        *list.List

	hits      int64
	misses    int64
	evictions int64
}

type entry[V any] struct {
	key          string
	value        V
	createdAt    time.Time
	ttl          time.Duration
	hits         int64
	lastAccessed time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// New creates a cache. name labels metrics and stats.
func New[V any](name string, o Options, opts ...Option) *Cache[V] {
	s := applyOptions(opts)
	if o.MaxEntries < 1 {
		o.MaxEntries = 1
	}
	return &Cache[V]{
		name:       name,
		now:        s.now,
		maxEntries: o.MaxEntries,
		baseSize:   o.MaxEntries,
		defaultTTL: o.TTL,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// Name returns the cache's label.
func (c *Cache[V]) Name() string { return c.name }

// Get returns the value for key if present and fresh.
//
// A hit moves the entry to most-recently-used. An expired entry is
// removed, counted as an eviction, and reported as a miss.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	start := time.Now()
	var zero V

	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		recordMiss(ctx, c.name)
		recordGetLatency(ctx, c.name, time.Since(start), false)
		return zero, false
	}

	e := elem.Value.(*entry[V])
	now := c.now()
	if e.expired(now) {
		c.removeElement(elem)
		c.evictions++
		c.misses++
		c.mu.Unlock()
		recordEviction(ctx, c.name, "expired", 1)
		recordMiss(ctx, c.name)
		recordGetLatency(ctx, c.name, time.Since(start), false)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	e.hits++
	e.lastAccessed = now
	c.hits++
	value := e.value
	c.mu.Unlock()

	recordHit(ctx, c.name)
	recordGetLatency(ctx, c.name, time.Since(start), true)
	return value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) {
	c.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL stores value under key. A ttl of zero uses the default TTL.
func (c *Cache[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) {
	c.mu.Lock()
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		e.lastAccessed = now
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		return
	}

	evicted := 0
	if c.lru.Len() >= c.maxEntries {
		evicted = c.evictOldest(1)
	}
	e := &entry[V]{key: key, value: value, createdAt: now, ttl: ttl, lastAccessed: now}
	c.items[key] = c.lru.PushFront(e)
	c.mu.Unlock()

	if evicted > 0 {
		recordEviction(ctx, c.name, "capacity", evicted)
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear drops every entry and counts one eviction.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.evictions++
	c.mu.Unlock()
	recordEviction(context.Background(), c.name, "clear", 1)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry[V]).expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	c.evictions += int64(removed)
	c.mu.Unlock()

	if removed > 0 {
		recordEviction(context.Background(), c.name, "expired", removed)
	}
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the current maximum number of entries.
func (c *Cache[V]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxEntries
}

// BaseCapacity returns the capacity the cache was created with.
func (c *Cache[V]) BaseCapacity() int {
	return c.baseSize
}

// Resize changes the capacity, evicting LRU entries if the store is
// now over capacity. n is raised to 1 if smaller.
func (c *Cache[V]) Resize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.maxEntries = n
	evicted := 0
	if over := c.lru.Len() - n; over > 0 {
		evicted = c.evictOldest(over)
	}
	c.mu.Unlock()

	if evicted > 0 {
		recordEviction(context.Background(), c.name, "resize", evicted)
	}
}

// Stats returns the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Name:      c.name,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.lru.Len(),
		Capacity:  c.maxEntries,
		TTL:       c.defaultTTL,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Entries lists the stored entries, most recently used first.
func (c *Cache[V]) Entries() []EntryInfo {
	c.mu.Lock()
	out := make([]EntryInfo, 0, c.lru.Len())
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[V])
		out = append(out, EntryInfo{
			Key:          e.key,
			CreatedAt:    e.createdAt,
			TTL:          e.ttl,
			Hits:         e.hits,
			LastAccessed: e.lastAccessed,
		})
	}
	c.mu.Unlock()
	return out
}

// Keys returns the stored keys in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// evictOldest removes up to n entries from the back. Caller holds mu.
func (c *Cache[V]) evictOldest(n int) int {
	removed := 0
	for removed < n {
		elem := c.lru.Back()
		if elem == nil {
			break
		}
		c.removeElement(elem)
		removed++
	}
	c.evictions += int64(removed)
	return removed
}

// removeElement unlinks elem. Caller holds mu.
func (c *Cache[V]) removeElement(elem *list.Element) {
	e := c.lru.Remove(elem).(*entry[V])
	delete(c.items, e.key)
}
