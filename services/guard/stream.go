// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
)

// DefaultSubscriberBuffer is the alert backlog each subscriber may hold.
const DefaultSubscriberBuffer = 64

// AlertHub fans triggered alerts out to live subscribers.
//
// # Description
//
// Publish runs inside the alert manager's synchronous dispatch, so it
// never blocks: a subscriber whose buffer is full misses the alert and the
// miss is counted.
//
// # Thread Safety
//
// Safe for concurrent use.
type AlertHub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan monitoring.Alert
	next    uint64
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// NewAlertHub creates a hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewAlertHub(buffer int) *AlertHub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &AlertHub{subs: make(map[uint64]chan monitoring.Alert), buffer: buffer}
}

// Subscribe returns a channel of alerts and a function that ends the
// subscription and closes the channel. After Close the channel is closed
// immediately.
func (h *AlertHub) Subscribe() (<-chan monitoring.Alert, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan monitoring.Alert, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers a to every subscriber with room. It is a
// monitoring.Handler.
func (h *AlertHub) Publish(a monitoring.Alert) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- a:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *AlertHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for full buffers.
func (h *AlertHub) Dropped() int64 { return h.dropped.Load() }

// Close ends every subscription.
func (h *AlertHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
