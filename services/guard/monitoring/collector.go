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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianGuard/services/guard/history"
)

// DefaultSeriesCapacity is the number of points kept per metric.
const DefaultSeriesCapacity = 10000

var meter = otel.Meter("aleutian.guard.monitoring")

// Sink receives every recorded point, for example a time-series database.
type Sink interface {
	Write(ctx context.Context, name string, typ MetricType, p Point) error
}

// Collector stores typed metric series.
//
// # Description
//
// A metric must be registered with a type before values are recorded.
// Each series keeps its newest points in a ring of SeriesCapacity, and
// every point is mirrored to an OpenTelemetry instrument of the same type
// and to any attached sinks.
//
// # Thread Safety
//
// Safe for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	series   map[string]*series
	capacity int
	sinks    []Sink
	now      func() time.Time
	logger   *slog.Logger
}

type series struct {
	typ    MetricType
	points *history.Ring[Point]
	record func(ctx context.Context, v float64, attrs []attribute.KeyValue)
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithSeriesCapacity bounds the points kept per metric.
func WithSeriesCapacity(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithMetricSink adds a sink that receives every point.
func WithMetricSink(s Sink) CollectorOption {
	return func(c *Collector) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithCollectorClock replaces time.Now for point timestamps.
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates an empty collector.
func NewCollector(logger *slog.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		series:   make(map[string]*series),
		capacity: DefaultSeriesCapacity,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register declares a metric. Registering the same name and type again
// is a no-op.
func (c *Collector) Register(name string, typ MetricType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[name]; ok {
		if s.typ != typ {
			return fmt.Errorf("%w: %q is %s", ErrMetricTypeConflict, name, s.typ)
		}
		return nil
	}
	c.series[name] = &series{
		typ:    typ,
		points: history.NewRing[Point](c.capacity),
		record: c.instrument(name, typ),
	}
	return nil
}

// instrument builds the OpenTelemetry mirror for a metric.
func (c *Collector) instrument(name string, typ MetricType) func(context.Context, float64, []attribute.KeyValue) {
	otelName := "guard_" + name
	var (
		fn  func(context.Context, float64, []attribute.KeyValue)
		err error
	)
	switch typ {
	case Counter:
		var inst metric.Float64Counter
		if inst, err = meter.Float64Counter(otelName); err == nil {
			fn = func(ctx context.Context, v float64, attrs []attribute.KeyValue) {
				inst.Add(ctx, v, metric.WithAttributes(attrs...))
			}
		}
	case Gauge:
		var inst metric.Float64Gauge
		if inst, err = meter.Float64Gauge(otelName); err == nil {
			fn = func(ctx context.Context, v float64, attrs []attribute.KeyValue) {
				inst.Record(ctx, v, metric.WithAttributes(attrs...))
			}
		}
	case Histogram:
		var inst metric.Float64Histogram
		if inst, err = meter.Float64Histogram(otelName); err == nil {
			fn = func(ctx context.Context, v float64, attrs []attribute.KeyValue) {
				inst.Record(ctx, v, metric.WithAttributes(attrs...))
			}
		}
	}
	if err != nil || fn == nil {
		c.logger.Warn("metric instrument unavailable",
			slog.String("metric", name),
			slog.String("type", string(typ)),
		)
		return func(context.Context, float64, []attribute.KeyValue) {}
	}
	return fn
}

// Record appends a value to a registered metric.
func (c *Collector) Record(ctx context.Context, name string, value float64, labels map[string]string) error {
	p := Point{Value: value, Timestamp: c.now(), Labels: copyLabels(labels)}

	c.mu.Lock()
	s, ok := c.series[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	s.points.Push(p)
	typ, record := s.typ, s.record
	sinks := c.sinks
	c.mu.Unlock()

	record(ctx, value, labelAttrs(p.Labels))
	for _, sink := range sinks {
		if err := sink.Write(ctx, name, typ, p); err != nil {
			c.logger.Warn("metric sink write failed",
				slog.String("metric", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Values returns the points of a metric recorded in [from, to], oldest
// first. A zero from or to leaves that side unbounded.
func (c *Collector) Values(name string, from, to time.Time) ([]Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return s.points.Select(func(p Point) bool {
		if !from.IsZero() && p.Timestamp.Before(from) {
			return false
		}
		if !to.IsZero() && p.Timestamp.After(to) {
			return false
		}
		return true
	}), nil
}

// Latest returns the newest point of a metric.
func (c *Collector) Latest(name string) (Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name]
	if !ok {
		return Point{}, false
	}
	newest := s.points.Newest(1)
	if len(newest) == 0 {
		return Point{}, false
	}
	return newest[0], true
}

// Type returns the registered type of a metric.
func (c *Collector) Type(name string) (MetricType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name]
	if !ok {
		return "", false
	}
	return s.typ, true
}

// Names returns the registered metric names, sorted.
func (c *Collector) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered metrics.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.series)
}

// SeriesSnapshot is the exported form of one series.
type SeriesSnapshot struct {
	Type   MetricType `json:"type"`
	Points []Point    `json:"points"`
}

// Snapshot returns every series keyed by metric name.
func (c *Collector) Snapshot() map[string]SeriesSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SeriesSnapshot, len(c.series))
	for name, s := range c.series {
		points := s.points.Items()
		if points == nil {
			points = []Point{}
		}
		out[name] = SeriesSnapshot{Type: s.typ, Points: points}
	}
	return out
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func labelAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}
	return attrs
}
