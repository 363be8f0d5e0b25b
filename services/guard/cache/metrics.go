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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.guard.cache")

var (
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	cacheGetLatency metric.Float64Histogram
	cacheResizes    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"guard_cache_hits_total",
			metric.WithDescription("Total number of validation cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"guard_cache_misses_total",
			metric.WithDescription("Total number of validation cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"guard_cache_evictions_total",
			metric.WithDescription("Total number of validation cache evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheGetLatency, err = meter.Float64Histogram(
			"guard_cache_get_duration_seconds",
			metric.WithDescription("Duration of cache get operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheResizes, err = meter.Int64Counter(
			"guard_cache_resizes_total",
			metric.WithDescription("Total number of capacity changes made by the optimizer"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context, category string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func recordMiss(ctx context.Context, category string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func recordEviction(ctx context.Context, category, reason string, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("reason", reason),
	))
}

func recordGetLatency(ctx context.Context, category string, d time.Duration, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheGetLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("hit", hit),
	))
}

func recordResize(ctx context.Context, category string, grew bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheResizes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("grew", grew),
	))
}
