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
	"errors"
	"time"
)

// ErrUnknownCategory is returned when a manager has no cache for a name.
var ErrUnknownCategory = errors.New("unknown cache category")

// Options configures one category cache.
type Options struct {
	// MaxEntries is the capacity before LRU eviction.
	MaxEntries int `yaml:"max_entries" json:"max_entries" validate:"gte=1"`

	// TTL is the default freshness window for entries.
	TTL time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0"`
}

// DefaultCategoryOptions returns the per-category defaults, keyed by
// category name.
//
// Security content churns fast so it gets a short TTL and a large store;
// architecture content is stable so it gets a long TTL and a small store.
func DefaultCategoryOptions() map[string]Options {
	return map[string]Options{
		"code":          {MaxEntries: 1000, TTL: 15 * time.Minute},
		"architecture":  {MaxEntries: 200, TTL: 4 * time.Hour},
		"documentation": {MaxEntries: 500, TTL: time.Hour},
		"security":      {MaxEntries: 2000, TTL: 30 * time.Minute},
		"performance":   {MaxEntries: 500, TTL: time.Hour},
		"custom":        {MaxEntries: 500, TTL: 30 * time.Minute},
	}
}

// Stats is a point-in-time view of one cache's counters.
type Stats struct {
	Name      string        `json:"name"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	Size      int           `json:"size"`
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`

	// HitRate is hits / (hits + misses) in [0, 1], or 0 with no requests.
	HitRate float64 `json:"hit_rate"`
}

// Requests returns hits plus misses.
func (s Stats) Requests() int64 { return s.Hits + s.Misses }

// EvictionRate returns evictions per request, or 0 with no requests.
func (s Stats) EvictionRate() float64 {
	if s.Requests() == 0 {
		return 0
	}
	return float64(s.Evictions) / float64(s.Requests())
}

// EntryInfo describes one live entry, for introspection.
type EntryInfo struct {
	Key          string        `json:"key"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	Hits         int64         `json:"hits"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// Option configures a Cache or Manager.
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock replaces time.Now. Tests use it to step TTLs without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
