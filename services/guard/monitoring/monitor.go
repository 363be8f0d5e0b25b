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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Default metric names.
const (
	MetricValidationDuration = "validation_duration"
	MetricCacheHitRate       = "cache_hit_rate"
	MetricMemoryUsage        = "memory_usage"
	MetricValidationSuccess  = "validation_success"
	MetricValidationFailure  = "validation_failure"
	MetricPatternAccuracy    = "pattern_recognition_accuracy"
	MetricSecurityIssues     = "security_issues"
	MetricVulnerabilityScore = "vulnerability_score"
)

var defaultMetrics = []struct {
	name string
	typ  MetricType
}{
	{MetricValidationDuration, Histogram},
	{MetricCacheHitRate, Gauge},
	{MetricMemoryUsage, Gauge},
	{MetricValidationSuccess, Counter},
	{MetricValidationFailure, Counter},
	{MetricPatternAccuracy, Gauge},
	{MetricSecurityIssues, Counter},
	{MetricVulnerabilityScore, Gauge},
}

// Monitor bundles the metric collector and alert manager with the
// default metric set and a logging alert handler.
type Monitor struct {
	Metrics *Collector
	Alerts  *AlertManager
	logger  *slog.Logger
	now     func() time.Time
}

// NewMonitor creates a monitor with the default metrics registered and
// every alert logged at a level matching its severity.
func NewMonitor(logger *slog.Logger, opts ...CollectorOption) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		Metrics: NewCollector(logger, opts...),
		Alerts:  NewAlertManager(logger),
		logger:  logger,
		now:     time.Now,
	}
	for _, dm := range defaultMetrics {
		// Names are unique and the collector is empty, so this cannot fail.
		_ = m.Metrics.Register(dm.name, dm.typ)
	}
	m.Alerts.AddHandlerAll(m.logAlert)
	return m
}

func (m *Monitor) logAlert(a Alert) {
	attrs := []any{
		slog.String("alert_id", a.ID),
		slog.String("severity", string(a.Severity)),
	}
	for k, v := range a.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	msg := "alert: " + a.Message
	switch a.Severity {
	case SeverityCritical, SeverityError:
		m.logger.Error(msg, attrs...)
	case SeverityWarning:
		m.logger.Warn(msg, attrs...)
	default:
		m.logger.Info(msg, attrs...)
	}
}

// ValidationEvent describes one validate call for metrics.
type ValidationEvent struct {
	Rule     string
	Category string
	Duration time.Duration
	Success  bool
	Cached   bool
}

// RecordValidation records the duration and outcome of a validation.
func (m *Monitor) RecordValidation(ctx context.Context, ev ValidationEvent) {
	labels := map[string]string{
		"rule":     ev.Rule,
		"category": ev.Category,
		"cached":   strconv.FormatBool(ev.Cached),
	}
	m.record(ctx, MetricValidationDuration, ev.Duration.Seconds(), labels)
	outcome := MetricValidationFailure
	if ev.Success {
		outcome = MetricValidationSuccess
	}
	m.record(ctx, outcome, 1, labels)
}

// RecordCacheHitRate records a category's current hit rate in [0, 1].
func (m *Monitor) RecordCacheHitRate(ctx context.Context, category string, rate float64) {
	m.record(ctx, MetricCacheHitRate, rate, map[string]string{"category": category})
}

// RecordMemoryUsage records the heap bytes in use.
func (m *Monitor) RecordMemoryUsage(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.record(ctx, MetricMemoryUsage, float64(ms.HeapAlloc), nil)
}

// RecordSecurityIssue counts a security finding. Findings of "high" or
// "critical" severity also raise a CRITICAL alert, which is returned.
func (m *Monitor) RecordSecurityIssue(ctx context.Context, severity, issueType string, details map[string]any) (Alert, bool) {
	m.CountSecurityIssue(ctx, severity, issueType)
	if severity != "high" && severity != "critical" {
		return Alert{}, false
	}
	return m.Alerts.Trigger(SeverityCritical, "security issue detected: "+issueType, details), true
}

// CountSecurityIssue increments security_issues without raising an alert.
// Used when the caller raises its own alert for the same finding.
func (m *Monitor) CountSecurityIssue(ctx context.Context, severity, issueType string) {
	m.record(ctx, MetricSecurityIssues, 1, map[string]string{
		"severity": severity,
		"type":     issueType,
	})
}

func (m *Monitor) record(ctx context.Context, name string, v float64, labels map[string]string) {
	if err := m.Metrics.Record(ctx, name, v, labels); err != nil {
		m.logger.Warn("metric record failed", slog.String("metric", name), slog.String("error", err.Error()))
	}
}

// Health returns the health report.
func (m *Monitor) Health() Health {
	status, active, critical := m.Alerts.Health()
	return Health{
		Status:           status,
		ActiveAlerts:     active,
		CriticalAlerts:   critical,
		MetricsCollected: m.Metrics.Len(),
		LastUpdate:       m.now(),
	}
}

// AlertSummary is the exported alert section.
type AlertSummary struct {
	Total      int                   `json:"total"`
	Active     int                   `json:"active"`
	BySeverity map[AlertSeverity]int `json:"by_severity"`
	Alerts     []Alert               `json:"alerts"`
}

// Export is the document written by ExportFile.
type Export struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Health      Health                    `json:"health"`
	Metrics     map[string]SeriesSnapshot `json:"metrics"`
	Alerts      AlertSummary              `json:"alerts"`
}

// Snapshot builds the export document.
func (m *Monitor) Snapshot() Export {
	all := m.Alerts.All()
	summary := AlertSummary{
		Total:      len(all),
		BySeverity: make(map[AlertSeverity]int),
		Alerts:     all,
	}
	if summary.Alerts == nil {
		summary.Alerts = []Alert{}
	}
	for _, a := range all {
		summary.BySeverity[a.Severity]++
		if !a.Resolved {
			summary.Active++
		}
	}
	return Export{
		GeneratedAt: m.now(),
		Health:      m.Health(),
		Metrics:     m.Metrics.Snapshot(),
		Alerts:      summary,
	}
}

// WriteJSON writes the export document to w.
func (m *Monitor) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Snapshot()); err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return nil
}

// ExportFile writes the export document to path.
func (m *Monitor) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := m.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
