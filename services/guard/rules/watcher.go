// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ruleReloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guard_rule_reloads_total",
	Help: "Rule file reloads triggered by the watcher, by result",
}, []string{"result"})

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a rule configuration file into a Registry when it changes.
//
// # Description
//
// The parent directory is watched rather than the file so that editors
// which save by rename are still seen. Bursts of events are collapsed by a
// debounce window. A reload that fails is logged and the previously loaded
// rules stay in effect.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Reloads run on a
// single goroutine.
type Watcher struct {
	path     string
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)

	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	started  bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook registers fn to be called after every reload attempt
// with its error, or nil on success.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, registry *Registry, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		path:     abs,
		registry: registry,
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logger.With(slog.String("component", "rule_watcher")),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It returns once the directory watch is in place.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.started = true
	go w.loop(ctx)
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	err := w.registry.LoadFile(w.path)
	if err != nil {
		ruleReloads.WithLabelValues("error").Inc()
		w.logger.Error("rule reload failed, keeping previous rules",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	} else {
		ruleReloads.WithLabelValues("ok").Inc()
		w.logger.Info("rules reloaded", slog.String("path", w.path))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
