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

// DefaultRingCapacity is used when a non-positive capacity is requested.
const DefaultRingCapacity = 100

// Ring is a fixed-size circular buffer that overwrites its oldest item.
//
// # Description
//
// Push is O(1) and memory is bounded by the capacity. Push reports the
// item it overwrote so callers can hand it to longer-term storage.
//
// # Thread Safety
//
// NOT safe for concurrent use; caller must synchronize.
type Ring[T any] struct {
	buf   []T
	start int // index of the oldest item
	n     int // number of stored items
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends item.
//
// # Outputs
//
//   - T: The overwritten oldest item, when the ring was full.
//   - bool: True if an item was overwritten.
func (r *Ring[T]) Push(item T) (T, bool) {
	var evicted T
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = item
		r.n++
		return evicted, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = item
	r.start = (r.start + 1) % len(r.buf)
	return evicted, true
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether the next Push overwrites an item.
func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }

// at returns the i-th oldest item. 0 <= i < n.
func (r *Ring[T]) at(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Items returns a copy of the stored items, oldest first.
func (r *Ring[T]) Items() []T {
	if r.n == 0 {
		return nil
	}
	out := make([]T, r.n)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

// Newest returns up to k items, newest first.
func (r *Ring[T]) Newest(k int) []T {
	if k <= 0 || r.n == 0 {
		return nil
	}
	if k > r.n {
		k = r.n
	}
	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = r.at(r.n - 1 - i)
	}
	return out
}

// Each calls fn for every item, oldest first, until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.n; i++ {
		if !fn(r.at(i)) {
			return
		}
	}
}

// Select returns the items for which keep returns true, oldest first.
func (r *Ring[T]) Select(keep func(T) bool) []T {
	var out []T
	r.Each(func(item T) bool {
		if keep(item) {
			out = append(out, item)
		}
		return true
	})
	return out
}

// Reset drops every item.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.n = 0, 0
}
