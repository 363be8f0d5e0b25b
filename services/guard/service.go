// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard provides the validation service: it checks content
// against named rules, caches outcomes per category, records metrics and
// alerts, keeps a bounded validation history and retunes rules from it.
//
// The service exposes:
//   - Validate, the single check entry point
//   - GetMetrics and GetRecommendations, the read models for dashboards
//     and assistants
//   - rule and metric export, rule loading and on-demand learning
//   - an HTTP API under /v1/guard (see RegisterRoutes)
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianGuard/services/guard/cache"
	"github.com/AleutianAI/AleutianGuard/services/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/learning"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
	historystore "github.com/AleutianAI/AleutianGuard/services/guard/storage/badger"
)

const tracerName = "aleutian.guard"

// Option configures a Service.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	now         func() time.Time
	historySink history.Sink
	metricSinks []monitoring.Sink
}

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for cache expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHistorySink sends history to sink instead of the configured store.
func WithHistorySink(sink history.Sink) Option {
	return func(o *options) { o.historySink = sink }
}

// WithMetricSink adds a metric sink next to the configured InfluxDB one.
func WithMetricSink(sink monitoring.Sink) Option {
	return func(o *options) { o.metricSinks = append(o.metricSinks, sink) }
}

// Service is the validation orchestrator.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Validate calls on different
//	categories never share a lock; identical concurrent misses run the
//	validator once.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	now      func() time.Time
	registry *rules.Registry
	caches   *cache.Manager[*Result]
	monitor  *monitoring.Monitor
	history  *history.Log
	learner  *learning.Learner
	alerts   *AlertHub
	flight   singleflight.Group

	store  *historystore.HistoryStore
	influx *monitoring.InfluxSink

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *rules.Watcher
	closed  atomic.Bool

	// inflight is read-held by every Validate; Close takes it to wait
	// for them before the sinks go away.
	inflight sync.RWMutex
}

// NewService builds a service from cfg.
//
// Description:
//
//	Loads the built-in rules, then cfg.Rules.Path if set. Opens the
//	durable history store if configured and preloads its newest records.
//	Background work does not run until Start.
//
// Inputs:
//
//	cfg - Validated service configuration.
//	opts - Optional overrides.
//
// Outputs:
//
//	*Service - Ready for Validate. Call Close when done.
//	error - ErrConfig or ErrUnsupportedOperation from the rule file,
//	        config.ErrInvalidConfig, or a store open failure.
func NewService(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With(slog.String("component", "guard"))

	registry, err := rules.NewDefaultRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("load built-in rules: %w", err)
	}
	if cfg.Rules.Path != "" {
		if err := registry.LoadFile(cfg.Rules.Path); err != nil {
			return nil, err
		}
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		now:      o.now,
		registry: registry,
		caches:   cache.NewManager[*Result](cfg.CacheCategories(), logger, cache.WithClock(o.now)),
		learner:  learning.New(registry, cfg.Learning.Policy, logger),
		alerts:   NewAlertHub(DefaultSubscriberBuffer),
	}

	collectorOpts := []monitoring.CollectorOption{
		monitoring.WithSeriesCapacity(cfg.Monitoring.SeriesCapacity),
		monitoring.WithCollectorClock(o.now),
	}
	if cfg.Monitoring.Influx.Enabled() {
		s.influx, err = monitoring.NewInfluxSink(cfg.Monitoring.Influx, logger)
		if err != nil {
			return nil, err
		}
		collectorOpts = append(collectorOpts, monitoring.WithMetricSink(s.influx))
	}
	for _, sink := range o.metricSinks {
		collectorOpts = append(collectorOpts, monitoring.WithMetricSink(sink))
	}
	s.monitor = monitoring.NewMonitor(logger, collectorOpts...)
	s.monitor.Alerts.AddHandlerAll(s.alerts.Publish)

	sink := o.historySink
	if sink == nil && cfg.History.StoreEnabled() {
		storeCfg := cfg.History.Store
		storeCfg.Logger = logger
		s.store, err = historystore.OpenHistoryStore(storeCfg)
		if err != nil {
			s.closeSinks()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		sink = s.store
	}
	logOpts := []history.LogOption{history.WithLogger(logger)}
	if sink != nil {
		logOpts = append(logOpts, history.WithSink(sink, cfg.History.FlushBatch))
	}
	s.history = history.NewLog(cfg.History.Capacity, logOpts...)

	if s.store != nil && cfg.History.Preload > 0 {
		recs, err := s.store.Load(context.Background(), cfg.History.Preload)
		if err != nil {
			logger.Warn("history preload failed", slog.String("error", err.Error()))
		} else {
			s.history.Seed(recs)
			logger.Info("history preloaded", slog.Int("records", len(recs)))
		}
	}

	logger.Info("guard service ready",
		slog.Int("rules", registry.Len()),
		slog.Int("cache_categories", len(s.caches.Names())),
		slog.Bool("durable_history", sink != nil),
	)
	return s, nil
}

// Start launches background work: the shared cache sweeper, the periodic
// learner and the rule file watcher, as configured. It returns once they
// are running; ctx cancellation or Close stops them.
func (s *Service) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)

	if s.cfg.Rules.Watch {
		w, err := rules.NewWatcher(s.cfg.Rules.Path, s.registry, s.logger,
			rules.WithReloadHook(func(err error) {
				if err == nil {
					s.caches.ClearAll()
				}
			}))
		if err != nil {
			cancel()
			return fmt.Errorf("create rule watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start rule watcher: %w", err)
		}
		s.watcher = w
	}

	s.cancel = cancel
	if s.cfg.Cache.SweepInterval > 0 {
		s.caches.Start(ctx, s.cfg.Cache.SweepInterval, s.cfg.Cache.AutoTune)
	}
	if s.cfg.Learning.Interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.learner.Run(ctx, s.cfg.Learning.Interval, s.history, s.clearRetuned)
		}()
	}
	s.logger.Info("background tasks started",
		slog.Duration("sweep_interval", s.cfg.Cache.SweepInterval),
		slog.Duration("learning_interval", s.cfg.Learning.Interval),
		slog.Bool("watch_rules", s.watcher != nil),
	)
	return nil
}

// Close stops background work, waits for running validations, flushes
// pending history and releases the store and sinks. Safe to call more
// than once.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.inflight.Lock()
	s.inflight.Unlock()

	s.mu.Lock()
	cancel, watcher := s.cancel, s.watcher
	s.cancel, s.watcher = nil, nil
	s.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.caches.Stop()
	s.wg.Wait()
	s.alerts.Close()

	var errs []error
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := s.history.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush history: %w", err))
	}
	if err := s.closeSinks(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeSinks() error {
	if s.influx != nil {
		s.influx.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close history store: %w", err)
		}
	}
	return nil
}

// Registry returns the rule registry.
func (s *Service) Registry() *rules.Registry { return s.registry }

// Monitor returns the metric collector and alert manager.
func (s *Service) Monitor() *monitoring.Monitor { return s.monitor }

// Caches returns the per-category result caches.
func (s *Service) Caches() *cache.Manager[*Result] { return s.caches }

// History returns the validation history.
func (s *Service) History() *history.Log { return s.history }

// AlertHub returns the live alert fan-out.
func (s *Service) AlertHub() *AlertHub { return s.alerts }

// Config returns the configuration the service was built with.
func (s *Service) Config() config.Config { return s.cfg }

// LoadRules loads a rule document on top of the current rules and clears
// the caches, whose results may no longer match the rules.
func (s *Service) LoadRules(path string) error {
	if err := s.registry.LoadFile(path); err != nil {
		return err
	}
	s.caches.ClearAll()
	return nil
}

// LoadRulesFromConfig loads a rule document held in memory. source names
// it in errors and logs.
func (s *Service) LoadRulesFromConfig(data []byte, source string) error {
	if err := s.registry.LoadFromConfig(data, source); err != nil {
		return err
	}
	s.caches.ClearAll()
	return nil
}

// ExportRules writes every rule to path as YAML.
func (s *Service) ExportRules(path string) error {
	return s.registry.ExportFile(path)
}

// ExportMetrics writes every metric series and the alert summary to path
// as JSON.
func (s *Service) ExportMetrics(path string) error {
	return s.monitor.ExportFile(path)
}

// LearnFromHistory retunes rules from records or, when none are given,
// from the history recorded since the previous pass, periodic passes
// included. Caches of retuned rules' categories are cleared so stale
// severities are not served.
func (s *Service) LearnFromHistory(records ...history.Record) []learning.Adjustment {
	var adjustments []learning.Adjustment
	if len(records) == 0 {
		adjustments = s.learner.LearnNew(s.history)
	} else {
		adjustments = s.learner.Learn(records)
	}
	s.clearRetuned(adjustments)
	return adjustments
}

// clearRetuned clears the cache of every category holding a retuned rule.
func (s *Service) clearRetuned(adjustments []learning.Adjustment) {
	cleared := make(map[rules.Category]bool)
	for _, adj := range adjustments {
		rule, err := s.registry.Get(adj.Rule)
		if err != nil || cleared[rule.Category] {
			continue
		}
		if c, err := s.caches.Get(string(rule.Category)); err == nil {
			c.Clear()
		}
		cleared[rule.Category] = true
	}
}

// GetMetrics returns the aggregate read model: cache statistics per
// category, validation health, rule counts and history occupancy.
func (s *Service) GetMetrics(ctx context.Context) Metrics {
	s.monitor.RecordMemoryUsage(ctx)
	return Metrics{
		Cache:      s.caches.Stats(),
		Validation: s.monitor.Health(),
		Rules: RuleCounts{
			Total:      s.registry.Len(),
			ByCategory: s.registry.CountByCategory(),
			ByOrigin:   s.registry.CountByOrigin(),
		},
		History: HistoryStats{
			Size:     s.history.Len(),
			Capacity: s.history.Cap(),
			Pending:  s.history.Pending(),
			Dropped:  s.history.Dropped(),
		},
	}
}
