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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianGuard/pkg/secrets"
)

var (
	// ErrSinkFull is returned when the sink's queue cannot take another point.
	ErrSinkFull = errors.New("metric sink queue full")

	// ErrSinkClosed is returned by writes after Close.
	ErrSinkClosed = errors.New("metric sink closed")
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string          `yaml:"url" json:"url"`
	Token  *secrets.Secret `yaml:"token" json:"-"`
	Org    string          `yaml:"org" json:"org"`
	Bucket string          `yaml:"bucket" json:"bucket"`

	// QueueSize bounds points waiting to be written. Default: 4096.
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// BatchSize is the most points sent per write. Default: 200.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FlushInterval is the longest a queued point waits. Default: 1s.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// Enabled reports whether enough is configured to connect.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && !c.Token.IsZero() && c.Org != "" && c.Bucket != ""
}

// InfluxSink writes metric points to InfluxDB from a background goroutine.
//
// # Description
//
// Write only enqueues, so the validation path never waits on the network.
// Points are written in batches through the blocking write API. Points
// that do not fit in the queue are dropped and counted.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *slog.Logger

	queue    chan *write.Point
	batch    int
	interval time.Duration

	dropped atomic.Int64

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	done   chan struct{}
}

// NewInfluxSink connects to InfluxDB and starts the writer goroutine.
//
// The token is unsealed only to hand it to the client, which keeps it for
// its Authorization header.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	token, err := cfg.Token.Reveal()
	if err != nil {
		return nil, fmt.Errorf("influx token: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, token)
	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg, logger)
	s.client = client
	return s, nil
}

// NewInfluxSinkWithWriter starts a sink over an existing write API.
func NewInfluxSinkWithWriter(w api.WriteAPIBlocking, cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	s := &InfluxSink{
		writer:   w,
		logger:   logger.With(slog.String("component", "influx_sink")),
		queue:    make(chan *write.Point, cfg.QueueSize),
		batch:    cfg.BatchSize,
		interval: cfg.FlushInterval,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Write enqueues one point. The measurement is the metric name; labels
// become tags alongside the metric type.
func (s *InfluxSink) Write(_ context.Context, name string, typ MetricType, p Point) error {
	tags := make(map[string]string, len(p.Labels)+1)
	for k, v := range p.Labels {
		tags[k] = v
	}
	tags["metric_type"] = string(typ)
	point := influxdb2.NewPoint(name, tags, map[string]interface{}{"value": p.Value}, p.Timestamp)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- point:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSinkFull
	}
}

// Dropped returns the number of points discarded because the queue was full.
func (s *InfluxSink) Dropped() int64 { return s.dropped.Load() }

func (s *InfluxSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	buf := make([]*write.Point, 0, s.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.writer.WritePoint(ctx, buf...); err != nil {
			s.logger.Error("influx write failed", slog.Int("points", len(buf)), slog.String("error", err.Error()))
		}
		cancel()
		buf = buf[:0]
	}

	for {
		select {
		case p, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			buf = append(buf, p)
			if len(buf) >= s.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close drains the queue, writes what remains and closes the client.
// Later writes return ErrSinkClosed. Safe to call more than once.
func (s *InfluxSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	if s.client != nil {
		s.client.Close()
	}
}
