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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, mutate func(*config.Config), opts ...Option) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Learning.Interval = 0
	cfg.Cache.SweepInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func longFunction(lines int) string {
	body := make([]string, 0, lines)
	body = append(body, "def handler(request):")
	for i := 1; i < lines; i++ {
		body = append(body, "    value = request.get('k')")
	}
	return strings.Join(body, "\n")
}

func branchy(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("if x:\n    pass\n")
	}
	return b.String()
}

const passwordContent = `db_password = "hunter2"`

func TestValidate_MethodLengthFails(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := svc.Validate(context.Background(), longFunction(25), "method_length", nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "method_length", res.Rule)
	assert.Equal(t, rules.CategoryCode, res.Category)
	assert.Equal(t, 3, res.Severity)
	assert.Equal(t, []string{"25 lines, limit 20"}, res.Findings)
	assert.False(t, res.Cached)
	assert.Empty(t, svc.Monitor().Alerts.All(), "severity 3 raises no alert")

	ok, err := svc.Validate(context.Background(), longFunction(10), "method_length", nil)
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Findings)
}

func TestValidate_HardcodedPassword(t *testing.T) {
	svc := newTestService(t, nil)

	res, err := svc.Validate(context.Background(), passwordContent, "security_patterns", nil)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.GreaterOrEqual(t, res.Severity, 4)
	assert.Contains(t, res.Findings, "matched pattern: hardcoded_secret")

	var severe int
	for _, a := range svc.Monitor().Alerts.All() {
		if a.Severity == monitoring.SeverityError || a.Severity == monitoring.SeverityCritical {
			severe++
		}
	}
	assert.Equal(t, 1, severe)

	issues, err := svc.Monitor().Metrics.Values(monitoring.MetricSecurityIssues, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "security_patterns", issues[0].Labels["type"])
}

func TestValidate_CachedResultIsIdentical(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	vctx := ValidationContext{"environment": "staging", "critical": true, "user": "ci"}

	first, err := svc.Validate(ctx, longFunction(25), "method_length", vctx)
	require.NoError(t, err)
	second, err := svc.Validate(ctx, longFunction(25), "method_length", vctx)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Zero(t, second.Duration)

	normalized := *second
	normalized.Cached = first.Cached
	normalized.Duration = first.Duration
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(&normalized)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	assert.Equal(t, 1, svc.History().Len(), "cache hits are not recorded in history")
	stats := svc.Caches().Stats()["code"]
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	second.Context["user"] = "changed"
	third, err := svc.Validate(ctx, longFunction(25), "method_length", vctx)
	require.NoError(t, err)
	assert.Equal(t, "ci", third.Context["user"], "callers cannot mutate the cached result")
}

func TestValidate_CacheKeyIncludesContext(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	content := longFunction(25)

	dev, err := svc.Validate(ctx, content, "method_length", nil)
	require.NoError(t, err)
	prod, err := svc.Validate(ctx, content, "method_length", ValidationContext{"environment": "production"})
	require.NoError(t, err)

	assert.False(t, prod.Cached)
	assert.Equal(t, "development", dev.Context["environment"])
	assert.Equal(t, 3, dev.Severity)
	assert.Equal(t, 4, prod.Severity)
}

func TestEffectiveSeverity(t *testing.T) {
	tests := []struct {
		name string
		base int
		vctx ValidationContext
		want int
	}{
		{"no context", 3, nil, 3},
		{"test environment", 3, ValidationContext{"environment": "test"}, 3},
		{"production", 3, ValidationContext{"environment": "production"}, 4},
		{"critical", 3, ValidationContext{"critical": true}, 4},
		{"production and critical", 3, ValidationContext{"environment": "production", "critical": true}, 5},
		{"clamped", 5, ValidationContext{"environment": "production", "critical": "true"}, 5},
		{"critical false", 2, ValidationContext{"critical": false}, 2},
		{"critical numeric", 2, ValidationContext{"critical": 1}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveSeverity(rules.NewSeverity(tt.base), tt.vctx)
			assert.Equal(t, tt.want, got.Level())
		})
	}

	for base := rules.MinSeverity; base <= rules.MaxSeverity; base++ {
		s := rules.NewSeverity(base)
		high := EffectiveSeverity(s, ValidationContext{"environment": "production", "critical": true})
		low := EffectiveSeverity(s, ValidationContext{"environment": "test", "critical": false})
		assert.GreaterOrEqual(t, high.Level(), low.Level())
	}
}

func TestValidate_AlertEscalation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		rule    string
		vctx    ValidationContext
		want    []monitoring.AlertSeverity
	}{
		{"severity 3 no alert", longFunction(25), "method_length", nil, nil},
		{"severity 4 error", branchy(8), "cyclomatic_complexity", nil, []monitoring.AlertSeverity{monitoring.SeverityError}},
		{
			"severity 5 critical", longFunction(25), "method_length",
			ValidationContext{"environment": "production", "critical": true},
			[]monitoring.AlertSeverity{monitoring.SeverityCritical},
		},
		{"passing check no alert", "x = 1", "cyclomatic_complexity", ValidationContext{"critical": true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, nil)
			_, err := svc.Validate(context.Background(), tt.content, tt.rule, tt.vctx)
			require.NoError(t, err)

			var got []monitoring.AlertSeverity
			for _, a := range svc.Monitor().Alerts.All() {
				got = append(got, a.Severity)
			}
			assert.Equal(t, tt.want, got)

			// A cache hit never raises the alert again.
			_, err = svc.Validate(context.Background(), tt.content, tt.rule, tt.vctx)
			require.NoError(t, err)
			assert.Len(t, svc.Monitor().Alerts.All(), len(tt.want))
		})
	}
}

func TestValidate_RuleNotFound(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Validate(context.Background(), "x", "no_such_rule", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestValidate_ValidatorFault(t *testing.T) {
	svc := newTestService(t, nil)
	require.NoError(t, svc.Registry().Register(rules.Rule{
		Name:        "broken_length",
		Category:    rules.CategoryCode,
		Description: "line count with a list threshold",
		Validator:   rules.LineCount{},
		Threshold:   rules.ListThreshold("not", "a", "number"),
		Severity:    rules.NewSeverity(2),
		Origin:      rules.OriginShared,
	}))

	for i := 1; i <= 2; i++ {
		_, err := svc.Validate(context.Background(), "x", "broken_length", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, rules.ErrThresholdMismatch)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "broken_length", verr.Rule)

		alerts := svc.Monitor().Alerts.All()
		require.Len(t, alerts, i, "faults are never cached")
		assert.Equal(t, monitoring.SeverityError, alerts[i-1].Severity)
	}
	assert.Zero(t, svc.History().Len())
}

func TestValidate_Concurrent(t *testing.T) {
	svc := newTestService(t, nil)
	content := longFunction(30)

	var wg sync.WaitGroup
	results := make([]*Result, 32)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Validate(context.Background(), content, "method_length", nil)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, errs[i])
		assert.False(t, r.Success)
		assert.Equal(t, 3, r.Severity)
	}
	assert.GreaterOrEqual(t, svc.History().Len(), 1)
}

func TestLearnFromHistory_EscalatesFrequentFailures(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	before, err := svc.Validate(ctx, longFunction(21), "method_length", nil)
	require.NoError(t, err)
	require.False(t, before.Success)
	require.Equal(t, 3, before.Severity)

	records := make([]history.Record, 0, 10)
	for i := 0; i < 10; i++ {
		records = append(records, history.Record{
			Rule: "method_length", Category: rules.CategoryCode, Success: i == 0, Timestamp: time.Now(),
		})
	}
	adjustments := svc.LearnFromHistory(records...)
	require.Len(t, adjustments, 1)

	rule, err := svc.Registry().Get("method_length")
	require.NoError(t, err)
	assert.Equal(t, 4, rule.Severity.Level())
	limit, ok := rule.Threshold.Number()
	require.True(t, ok)
	assert.Greater(t, limit, 20.0)

	after, err := svc.Validate(ctx, longFunction(21), "method_length", nil)
	require.NoError(t, err)
	assert.False(t, after.Cached, "learning clears the category cache")
	assert.True(t, after.Success, "21 lines pass the relaxed threshold")
	assert.Equal(t, 4, after.Severity)
}

func TestLearnFromHistory_UsesRecordedHistory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Validate(ctx, passwordContent+strings.Repeat(" ", i), "security_patterns", nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, svc.History().Len())

	adjustments := svc.LearnFromHistory()
	require.Len(t, adjustments, 1)
	assert.Equal(t, "security_patterns", adjustments[0].Rule)
	assert.False(t, adjustments[0].ThresholdChanged(), "pattern thresholds are never scaled")
}

func TestLearnFromHistory_EachRecordOnce(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Validate(context.Background(), longFunction(25), "method_length", nil)
	require.NoError(t, err)

	require.Len(t, svc.LearnFromHistory(), 1)
	for i := 0; i < 3; i++ {
		assert.Empty(t, svc.LearnFromHistory(), "pass %d saw no new records", i+2)
	}

	rule, err := svc.Registry().Get("method_length")
	require.NoError(t, err)
	assert.Equal(t, 4, rule.Severity.Level())
	limit, ok := rule.Threshold.Number()
	require.True(t, ok)
	assert.InDelta(t, 22.0, limit, 0.001)
}

func TestStart_PeriodicLearningClearsCaches(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) { c.Learning.Interval = 10 * time.Millisecond })
	ctx := context.Background()

	before, err := svc.Validate(ctx, longFunction(25), "method_length", nil)
	require.NoError(t, err)
	require.Equal(t, 3, before.Severity)
	require.Empty(t, svc.Monitor().Alerts.Active(), "severity 3 raises no alert")

	codeCache, err := svc.Caches().Get("code")
	require.NoError(t, err)
	require.Equal(t, 1, codeCache.Stats().Size)

	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool { return codeCache.Stats().Size == 0 },
		2*time.Second, 5*time.Millisecond, "periodic pass clears the retuned category")

	after, err := svc.Validate(ctx, longFunction(25), "method_length", nil)
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.Equal(t, 4, after.Severity)
	assert.Len(t, svc.Monitor().Alerts.Active(monitoring.SeverityError), 1)
}

// gatedSink blocks the first write after arm until release is closed.
type gatedSink struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) Write(context.Context, string, monitoring.MetricType, monitoring.Point) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return nil
}

func TestClose_WaitsForRunningValidations(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, nil, WithMetricSink(sink))
	sink.armed.Store(true)

	validated := make(chan error, 1)
	go func() {
		_, err := svc.Validate(context.Background(), longFunction(25), "method_length", nil)
		validated <- err
	}()
	<-sink.entered

	closed := make(chan error, 1)
	go func() { closed <- svc.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a validation was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	require.NoError(t, <-validated)
	require.NoError(t, <-closed)

	_, err := svc.Validate(context.Background(), "x", "method_length", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGetRecommendations(t *testing.T) {
	svc := newTestService(t, nil)
	content := longFunction(25) + "\n" + passwordContent

	recs, err := svc.GetRecommendations(context.Background(), content, "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 3)

	assert.Equal(t, "security_patterns", recs[0].Rule)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Severity, recs[i].Severity)
	}
	for _, r := range recs {
		assert.NotEmpty(t, r.Suggestion)
		assert.NotEqual(t, "cyclomatic_complexity", r.Rule, "passing rules are not recommended")
	}

	none, err := svc.GetRecommendations(context.Background(), content, rules.OriginExecution)
	require.NoError(t, err)
	assert.Len(t, none, len(recs), "built-in rules are shared with every origin")
}

func TestGetMetrics(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Validate(context.Background(), passwordContent, "security_patterns", nil)
	require.NoError(t, err)

	m := svc.GetMetrics(context.Background())
	assert.Equal(t, 4, m.Rules.Total)
	assert.Equal(t, 4, m.Rules.ByOrigin[rules.OriginShared])
	assert.Equal(t, 2, m.Rules.ByCategory[rules.CategoryCode])
	assert.Contains(t, m.Cache, "security")
	assert.Equal(t, 1, m.Cache["security"].Size)
	assert.Equal(t, monitoring.StatusCritical, m.Validation.Status)
	assert.Equal(t, 1, m.History.Size)
	assert.Equal(t, history.DefaultCapacity, m.History.Capacity)

	latest, ok := svc.Monitor().Metrics.Latest(monitoring.MetricMemoryUsage)
	require.True(t, ok)
	assert.Positive(t, latest.Value)
}

func TestExportMetricsDir(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Validate(context.Background(), longFunction(25), "method_length", nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "metrics")
	require.NoError(t, svc.ExportMetricsDir(dir))

	data, err := os.ReadFile(filepath.Join(dir, "cache_metrics.json"))
	require.NoError(t, err)
	var caches map[string]cacheExport
	require.NoError(t, json.Unmarshal(data, &caches))
	require.Contains(t, caches, "code")
	assert.Len(t, caches["code"].Entries, 1)

	data, err = os.ReadFile(filepath.Join(dir, "metrics_current.json"))
	require.NoError(t, err)
	var export monitoring.Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Contains(t, export.Metrics, monitoring.MetricValidationDuration)
}

func TestExportRules_RoundTrip(t *testing.T) {
	svc := newTestService(t, nil)
	require.NoError(t, svc.LoadRulesFromConfig([]byte(`
generation:
  validation_rules:
    security:
      - name: no_eval
        description: eval is not allowed
        validator: {type: regex, pattern: 'eval\(', match: false}
        severity: 4
        tags: [security]
shared:
  metrics:
    max_tokens: 4096
`), "extra"))
	require.NoError(t, svc.Registry().UpdateThreshold("method_length", rules.NumericThreshold(42)))
	require.NoError(t, svc.Registry().UpdateSeverity("security_patterns", rules.NewSeverity(2)))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, svc.ExportRules(path))

	restored := newTestService(t, nil)
	require.NoError(t, restored.LoadRules(path))

	want := svc.Registry().All()
	got := restored.Registry().All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Export(), got[i].Export())
	}
	assert.Equal(t, svc.Registry().SharedMetrics(), restored.Registry().SharedMetrics())

	rule, err := restored.Registry().Get("method_length")
	require.NoError(t, err)
	n, ok := rule.Threshold.Number()
	require.True(t, ok)
	assert.Equal(t, 42.0, n)

	res, err := restored.Validate(context.Background(), "x = eval(input())", "no_eval", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestSuggestion_NamesRegisteredRules(t *testing.T) {
	defaults, err := rules.DefaultRules()
	require.NoError(t, err)
	names := make(map[string]bool, len(defaults))
	for _, r := range defaults {
		names[r.Name] = true
	}
	for name := range ruleSuggestions {
		assert.True(t, names[name], "suggestion for %q has no built-in rule", name)
	}
}

func TestLoadRules_ClearsCaches(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Validate(ctx, longFunction(25), "method_length", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generation:
  validation_rules:
    code:
      - name: method_length
        description: Longer methods allowed
        validator: {type: length}
        threshold: 100000
        severity: 2
`), 0o644))
	require.NoError(t, svc.LoadRules(path))

	res, err := svc.Validate(ctx, longFunction(25), "method_length", nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Severity)

	err = svc.LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

type memorySink struct {
	mu      sync.Mutex
	records []history.Record
}

func (s *memorySink) Append(_ context.Context, records []history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func TestService_CloseFlushesHistory(t *testing.T) {
	sink := &memorySink{}
	cfg := config.DefaultConfig()
	cfg.Learning.Interval = 0
	svc, err := NewService(cfg, WithLogger(quietLogger()), WithHistorySink(sink))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.Validate(context.Background(), longFunction(20+i), "method_length", nil)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "close is idempotent")

	sink.mu.Lock()
	assert.Len(t, sink.records, 5)
	sink.mu.Unlock()

	_, err = svc.Validate(context.Background(), "x", "method_length", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, svc.Start(context.Background()), ErrClosed)
}

func TestService_DurableHistoryPreload(t *testing.T) {
	dir := t.TempDir()
	mutate := func(cfg *config.Config) {
		cfg.History.Store.Path = dir
		cfg.History.FlushBatch = 1
	}

	cfg := config.DefaultConfig()
	cfg.Learning.Interval = 0
	mutate(&cfg)
	first, err := NewService(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = first.Validate(context.Background(), passwordContent, "security_patterns", nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newTestService(t, mutate)
	recs := second.History().Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "security_patterns", recs[0].Rule)
	assert.False(t, recs[0].Success)
}

func TestService_StartStopsOnClose(t *testing.T) {
	svc := newTestService(t, func(cfg *config.Config) {
		cfg.Cache.SweepInterval = 10 * time.Millisecond
		cfg.Learning.Interval = 10 * time.Millisecond
	})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()), "second start is a no-op")
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, svc.Close())
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.History.Capacity = 0
	_, err := NewService(cfg, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = config.DefaultConfig()
	cfg.Rules.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewService(cfg, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrConfig)
}
