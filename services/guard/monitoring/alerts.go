// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler is called synchronously for every alert of the severity it was
// registered for. Handlers must return quickly.
type Handler func(Alert)

// AlertManager records alerts and dispatches them to handlers.
//
// # Description
//
// Trigger appends the alert and then calls each handler for its severity
// in registration order, on the caller's goroutine. A handler that panics
// is recovered and logged; the remaining handlers still run.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run without the manager's lock held,
// so a handler may call back into the manager.
type AlertManager struct {
	mu       sync.RWMutex
	alerts   []Alert
	index    map[string]int
	handlers map[AlertSeverity][]Handler
	now      func() time.Time
	logger   *slog.Logger
}

// NewAlertManager creates an alert manager with no handlers.
func NewAlertManager(logger *slog.Logger) *AlertManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertManager{
		index:    make(map[string]int),
		handlers: make(map[AlertSeverity][]Handler),
		now:      time.Now,
		logger:   logger,
	}
}

// AddHandler registers h for one severity.
func (m *AlertManager) AddHandler(severity AlertSeverity, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[severity] = append(m.handlers[severity], h)
}

// AddHandlerAll registers h for every severity.
func (m *AlertManager) AddHandlerAll(h Handler) {
	for _, s := range AlertSeverities {
		m.AddHandler(s, h)
	}
}

// Trigger raises an alert and returns it after every handler has run.
func (m *AlertManager) Trigger(severity AlertSeverity, message string, context map[string]any) Alert {
	alert := Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		Timestamp: m.now(),
		Context:   copyContext(context),
	}

	m.mu.Lock()
	m.index[alert.ID] = len(m.alerts)
	m.alerts = append(m.alerts, alert)
	handlers := append([]Handler(nil), m.handlers[severity]...)
	m.mu.Unlock()

	for _, h := range handlers {
		m.dispatch(h, alert)
	}
	return alert
}

func (m *AlertManager) dispatch(h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert handler failed",
				slog.String("alert_id", alert.ID),
				slog.String("severity", string(alert.Severity)),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	h(alert)
}

// Resolve marks an alert resolved. The resolution time is set the first
// time only; resolving again returns the alert unchanged.
func (m *AlertManager) Resolve(id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %q", ErrAlertNotFound, id)
	}
	if !m.alerts[i].Resolved {
		at := m.now()
		m.alerts[i].Resolved = true
		m.alerts[i].ResolvedAt = &at
	}
	return cloneAlert(m.alerts[i]), nil
}

// Get returns an alert by ID.
func (m *AlertManager) Get(id string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return Alert{}, false
	}
	return cloneAlert(m.alerts[i]), true
}

// Active returns unresolved alerts, oldest first. With severities given,
// only alerts of those severities are returned.
func (m *AlertManager) Active(severities ...AlertSeverity) []Alert {
	want := make(map[AlertSeverity]bool, len(severities))
	for _, s := range severities {
		want[s] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		if len(want) > 0 && !want[a.Severity] {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return out
}

// All returns every alert, oldest first.
func (m *AlertManager) All() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = cloneAlert(a)
	}
	return out
}

// Health derives the status from unresolved alerts: critical if any is
// CRITICAL, warning if any exists, healthy otherwise.
func (m *AlertManager) Health() (HealthStatus, int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active, critical := 0, 0
	for _, a := range m.alerts {
		if a.Resolved {
			continue
		}
		active++
		if a.Severity == SeverityCritical {
			critical++
		}
	}
	switch {
	case critical > 0:
		return StatusCritical, active, critical
	case active > 0:
		return StatusWarning, active, critical
	}
	return StatusHealthy, active, critical
}

func cloneAlert(a Alert) Alert {
	out := a
	out.Context = copyContext(a.Context)
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}

func copyContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
