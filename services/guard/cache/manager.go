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
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the shared sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// Optimizer thresholds.
const (
	MinHitRate      = 0.7
	MaxEvictionRate = 0.1
	MinOccupancy    = 0.3

	growOnMisses    = 1.2
	growOnEvictions = 1.5
	shrinkFactor    = 0.8

	capacityFloor = 100
)

// Manager owns one Cache per category and a single sweeper for all of them.
//
// # Thread Safety
//
// Safe for concurrent use. The set of categories is fixed at construction.
type Manager[V any] struct {
	caches map[string]*Cache[V]
	names  []string
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewManager creates a cache for each named category.
func NewManager[V any](categories map[string]Options, logger *slog.Logger, opts ...Option) *Manager[V] {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager[V]{
		caches: make(map[string]*Cache[V], len(categories)),
		logger: logger.With(slog.String("component", "cache_manager")),
	}
	for name, o := range categories {
		m.caches[name] = New[V](name, o, opts...)
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m
}

// Get returns the cache for a category.
func (m *Manager[V]) Get(name string) (*Cache[V], error) {
	c, ok := m.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return c, nil
}

// Names returns the category names in sorted order.
func (m *Manager[V]) Names() []string {
	return append([]string(nil), m.names...)
}

// Stats returns the counters of every cache keyed by category.
func (m *Manager[V]) Stats() map[string]Stats {
	out := make(map[string]Stats, len(m.caches))
	for name, c := range m.caches {
		out[name] = c.Stats()
	}
	return out
}

// ClearAll clears every cache.
func (m *Manager[V]) ClearAll() {
	for _, c := range m.caches {
		c.Clear()
	}
}

// SweepAll removes expired entries from every cache.
func (m *Manager[V]) SweepAll() int {
	total := 0
	for _, name := range m.names {
		total += m.caches[name].Sweep()
	}
	return total
}

// NextCapacity computes the optimizer's recommended capacity.
//
// # Description
//
// Rules are checked in order and the first match wins:
//
//  1. Hit rate below MinHitRate grows capacity by 20%.
//  2. Eviction rate above MaxEvictionRate grows capacity by 50%.
//  3. Occupancy below MinOccupancy shrinks capacity by 20%.
//
// The result is bounded to [min(100, base), 2*base], where base is the
// configured capacity. With no recorded requests nothing changes.
//
// # Outputs
//
//   - int: The recommended capacity.
//   - bool: True if it differs from the current capacity.
func NextCapacity(s Stats, base int) (int, bool) {
	if s.Requests() == 0 {
		return s.Capacity, false
	}
	current := s.Capacity
	next := current
	switch {
	case s.HitRate < MinHitRate:
		next = int(float64(current) * growOnMisses)
	case s.EvictionRate() > MaxEvictionRate:
		next = int(float64(current) * growOnEvictions)
	case float64(s.Size) < float64(current)*MinOccupancy:
		next = int(float64(current) * shrinkFactor)
	}

	upper := 2 * base
	lower := capacityFloor
	if base < lower {
		lower = base
	}
	if next > upper {
		next = upper
	}
	if next < lower {
		next = lower
	}
	return next, next != current
}

// Optimize applies NextCapacity to one category.
func (m *Manager[V]) Optimize(name string) (int, error) {
	c, err := m.Get(name)
	if err != nil {
		return 0, err
	}
	stats := c.Stats()
	next, changed := NextCapacity(stats, c.BaseCapacity())
	if !changed {
		return stats.Capacity, nil
	}
	c.Resize(next)
	recordResize(context.Background(), name, next > stats.Capacity)
	m.logger.Info("cache resized",
		slog.String("category", name),
		slog.Int("from", stats.Capacity),
		slog.Int("to", next),
		slog.Float64("hit_rate", stats.HitRate),
		slog.Float64("eviction_rate", stats.EvictionRate()),
	)
	return next, nil
}

// OptimizeAll applies NextCapacity to every category and returns the
// resulting capacities.
func (m *Manager[V]) OptimizeAll() map[string]int {
	out := make(map[string]int, len(m.names))
	for _, name := range m.names {
		n, _ := m.Optimize(name)
		out[name] = n
	}
	return out
}

// Start launches the shared sweeper. With autoTune set, every sweep is
// followed by OptimizeAll. Calling Start twice is a no-op.
func (m *Manager[V]) Start(ctx context.Context, interval time.Duration, autoTune bool) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := m.SweepAll(); removed > 0 {
					m.logger.Debug("expired entries swept", slog.Int("removed", removed))
				}
				if autoTune {
					m.OptimizeAll()
				}
			}
		}
	}(m.stopped)
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager[V]) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.stopped
	m.cancel, m.stopped = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
