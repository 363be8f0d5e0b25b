// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// AuditEvent is a security-relevant change made through the API.
//
// # Event Types
//
//   - "authz.denied": a caller was refused
//   - "rules.load": a rule document was loaded
//   - "alert.resolve": an alert was resolved
//   - "learning.run": a learning pass was triggered
//
// Example:
//
//	event := AuditEvent{
//	    EventType:  "rules.load",
//	    UserID:     info.Subject,
//	    Resource:   "rules",
//	    Outcome:    OutcomeSuccess,
//	    Metadata:   map[string]any{"count": 5},
//	}
type AuditEvent struct {
	// EventType is "category.action".
	EventType string `json:"event_type"`

	// Timestamp is when the event occurred. Loggers set it when zero.
	Timestamp time.Time `json:"timestamp"`

	// UserID identifies the caller, "system" for automated actions.
	UserID string `json:"user_id"`

	Resource   string `json:"resource,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`

	// Outcome is OutcomeSuccess, OutcomeFailure or OutcomeDenied.
	Outcome string `json:"outcome"`

	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects audit events. Zero fields do not filter.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	Since      time.Time

	// Limit caps the result count. Zero means no limit.
	Limit int
}

func (f AuditFilter) match(e AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuditLogger interface {
	// Log records one event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. A no-op for synchronous loggers.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// Query returns an empty slice.
func (l *NopAuditLogger) Query(context.Context, AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush does nothing.
func (l *NopAuditLogger) Flush(context.Context) error { return nil }

// MemoryAuditLogger keeps the most recent events in memory and mirrors each
// one to a slog logger.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// DefaultAuditCapacity is the number of events kept when none is given.
const DefaultAuditCapacity = 1000

// NewMemoryAuditLogger creates a logger keeping up to capacity events.
// A nil logger disables the slog mirror.
func NewMemoryAuditLogger(capacity int, logger *slog.Logger) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &MemoryAuditLogger{capacity: capacity, logger: logger, now: time.Now}
}

// Log stores the event, dropping the oldest once full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}

	l.mu.Lock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("event_type", event.EventType),
			slog.String("user_id", event.UserID),
			slog.String("resource", event.Resource),
			slog.String("resource_id", event.ResourceID),
			slog.String("outcome", event.Outcome),
			slog.String("request_id", event.RequestID),
		)
	}
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if !filter.match(l.events[i]) {
			continue
		}
		out = append(out, l.events[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush does nothing; events are stored synchronously.
func (l *MemoryAuditLogger) Flush(context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
