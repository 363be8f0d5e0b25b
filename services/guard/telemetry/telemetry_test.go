// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("GUARD_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg := DefaultConfig()
	assert.Equal(t, "aleutian-guard", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GUARD_ENV", "production")
	t.Setenv("OTEL_METRICS_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ExporterStdout, cfg.MetricExporter)
}

func TestInit_NilContext(t *testing.T) {
	cfg := DefaultConfig()
	//nolint:staticcheck // exercising the nil guard
	_, err := Init(nil, cfg)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoopExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cases := []struct {
		name   string
		trace  string
		metric string
	}{
		{name: "trace", trace: "zipkin", metric: ExporterNone},
		{name: "metric", trace: ExporterNone, metric: "graphite"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tc.trace
			cfg.MetricExporter = tc.metric
			_, err := Init(context.Background(), cfg)
			assert.True(t, errors.Is(err, ErrUnknownExporter), "got %v", err)
		})
	}
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry_test").Int64Counter("guard_test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guard_test_events_total")
}

func TestStartSpan_RecordError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "guard_test", "Test.Span")
	defer span.End()
	assert.Equal(t, span, trace.SpanFromContext(ctx))

	// No-op spans accept both calls.
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}

func TestHTTPMetrics_GinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewHTTPMetrics(mp.Meter("telemetry_test"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "guard_http_requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("route")
				assert.Equal(t, "/items/:id", route.AsString())
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}
