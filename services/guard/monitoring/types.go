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
	"errors"
	"time"
)

var (
	// ErrUnknownMetric is returned when recording or querying a metric
	// that was never registered.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMetricTypeConflict is returned when a metric is registered again
	// with a different type.
	ErrMetricTypeConflict = errors.New("metric already registered with another type")

	// ErrAlertNotFound is returned when resolving an unknown alert ID.
	ErrAlertNotFound = errors.New("alert not found")
)

// MetricType is the kind of a metric series.
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// Point is one recorded value.
type Point struct {
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// AlertSeverity is the urgency of an alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// AlertSeverities lists every severity, least urgent first.
var AlertSeverities = []AlertSeverity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

// Valid reports whether s is a known severity.
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Alert is a raised condition. Only Resolved and ResolvedAt ever change,
// and only once.
type Alert struct {
	ID         string         `json:"id"`
	Severity   AlertSeverity  `json:"severity"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    map[string]any `json:"context,omitempty"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// HealthStatus summarises the unresolved alerts.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// Health is the monitoring health report.
type Health struct {
	Status           HealthStatus `json:"status"`
	ActiveAlerts     int          `json:"active_alerts"`
	CriticalAlerts   int          `json:"critical_alerts"`
	MetricsCollected int          `json:"metrics_collected"`
	LastUpdate       time.Time    `json:"last_update"`
}
