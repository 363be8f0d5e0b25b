// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the guard service configuration.
//
// Values come from DefaultConfig, then an optional YAML file, then
// environment variables, and are validated last. Rule definitions are not
// part of this file; Rules.Path points at a separate rule document.
//
// Thread Safety:
//
//	Config values are plain data. Load and Validate are safe for
//	concurrent use.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/pkg/secrets"
	"github.com/AleutianAI/AleutianGuard/services/guard/cache"
	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/learning"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/storage/badger"
	"github.com/AleutianAI/AleutianGuard/services/guard/telemetry"
)

// MaxConfigFileSize is the largest configuration file Load accepts (1MB).
const MaxConfigFileSize = 1024 * 1024

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	secrets.RegisterValidation(v)
	return v
}

// Config is the root of the service configuration file.
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Log        logging.Config   `yaml:"log" json:"log"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	History    HistoryConfig    `yaml:"history" json:"history"`
	Learning   LearningConfig   `yaml:"learning" json:"learning"`
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`
	Telemetry  telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Rules      RulesConfig      `yaml:"rules" json:"rules"`
}

// ServiceConfig identifies the running instance.
type ServiceConfig struct {
	Name string `yaml:"name" json:"name" validate:"required"`

	// Environment is the default validation environment when a request
	// does not set one. "production" raises effective severity.
	Environment string `yaml:"environment" json:"environment"`
}

// CacheConfig configures the per-category result caches.
type CacheConfig struct {
	// SweepInterval is how often the shared sweeper purges expired entries.
	// Zero disables the sweeper; expiry is then lazy on access only.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"gte=0"`

	// AutoTune runs the size optimizer after each sweep.
	AutoTune bool `yaml:"auto_tune" json:"auto_tune"`

	// Categories overrides the per-category capacity and TTL. Categories
	// not listed keep their defaults; a listed one must set both fields.
	Categories map[string]cache.Options `yaml:"categories" json:"categories" validate:"dive"`
}

// HistoryConfig configures validation history retention.
type HistoryConfig struct {
	// Capacity is how many records stay in memory.
	Capacity int `yaml:"capacity" json:"capacity" validate:"gte=1"`

	// FlushBatch is how many records are written to the store at once.
	FlushBatch int `yaml:"flush_batch" json:"flush_batch" validate:"gte=1"`

	// Store configures the durable store. An empty Path with InMemory
	// unset disables durable history.
	Store badger.Config `yaml:"store" json:"store"`

	// Preload is how many stored records are loaded into memory at start.
	Preload int `yaml:"preload" json:"preload" validate:"gte=0"`
}

// StoreEnabled reports whether durable history is configured.
func (h HistoryConfig) StoreEnabled() bool {
	return h.Store.InMemory || h.Store.Path != ""
}

// LearningConfig configures the adaptive learner.
type LearningConfig struct {
	// Interval between automatic learning passes. Zero runs them only on
	// demand.
	Interval time.Duration `yaml:"interval" json:"interval" validate:"gte=0"`

	Policy learning.Policy `yaml:"policy" json:"policy"`
}

// MonitoringConfig configures metric retention and the optional InfluxDB sink.
type MonitoringConfig struct {
	// SeriesCapacity bounds points kept per metric.
	SeriesCapacity int `yaml:"series_capacity" json:"series_capacity" validate:"gte=1"`

	Influx monitoring.InfluxConfig `yaml:"influx" json:"influx"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" json:"port" validate:"gte=1,lte=65535"`

	// RateLimit is the sustained validate requests per second. Zero
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// Burst is the validate request burst size.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`

	// Tokens are the accepted API bearer tokens. Empty leaves the API
	// open with every caller treated as a local admin.
	Tokens []extensions.Token `yaml:"tokens" json:"tokens" validate:"dive"`

	// AuditCapacity is how many audit events the server keeps in memory.
	AuditCapacity int `yaml:"audit_capacity" json:"audit_capacity" validate:"gte=0"`
}

// RulesConfig points at an external rule document.
type RulesConfig struct {
	// Path is a rule document loaded after the built-in defaults.
	Path string `yaml:"path" json:"path"`

	// Watch reloads Path when it changes.
	Watch bool `yaml:"watch" json:"watch"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	store := badger.DefaultConfig()
	store.Path = ""
	return Config{
		Service: ServiceConfig{Name: "aleutian-guard", Environment: "development"},
		Log:     logging.Config{Level: logging.LevelInfo, Service: "guard"},
		Cache: CacheConfig{
			SweepInterval: cache.DefaultSweepInterval,
			Categories:    cache.DefaultCategoryOptions(),
		},
		History: HistoryConfig{
			Capacity:   history.DefaultCapacity,
			FlushBatch: history.DefaultFlushBatch,
			Store:      store,
			Preload:    history.DefaultCapacity,
		},
		Learning: LearningConfig{
			Interval: time.Hour,
			Policy:   learning.DefaultPolicy(),
		},
		Monitoring: MonitoringConfig{
			SeriesCapacity: monitoring.DefaultSeriesCapacity,
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Port:            8090,
			RateLimit:       200,
			Burst:           50,
			ShutdownTimeout: 10 * time.Second,
			AuditCapacity:   extensions.DefaultAuditCapacity,
		},
	}
}

// Load reads path over DefaultConfig, applies environment overrides and
// validates the result. An empty path skips the file.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: Wraps ErrInvalidConfig for oversized, unreadable, malformed or
//     invalid input.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if info.Size() > MaxConfigFileSize {
			return Config{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidConfig, path, info.Size(), MaxConfigFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over DefaultConfig without env overrides
// or validation.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment.
//
//   - GUARD_ENV: Service.Environment and Telemetry.Environment
//   - GUARD_RULES_PATH: Rules.Path
//   - GUARD_LOG_LEVEL: Log.Level
//   - GUARD_API_TOKEN: an extra admin token with subject "env"
//   - GUARD_INFLUX_TOKEN: Monitoring.Influx.Token
//   - OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("GUARD_ENV"); v != "" {
		cfg.Service.Environment = v
		cfg.Telemetry.Environment = v
	}
	if v := os.Getenv("GUARD_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("GUARD_LOG_LEVEL"); v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("%w: GUARD_LOG_LEVEL: %v", ErrInvalidConfig, err)
		}
		cfg.Log.Level = level
	}
	if v := os.Getenv("GUARD_API_TOKEN"); v != "" {
		cfg.Server.Tokens = append(cfg.Server.Tokens, extensions.Token{
			Token:   secrets.FromString(v),
			Subject: "env",
			Roles:   []string{extensions.RoleAdmin},
		})
	}
	if v := os.Getenv("GUARD_INFLUX_TOKEN"); v != "" {
		cfg.Monitoring.Influx.Token = secrets.FromString(v)
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		cfg.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return nil
}

// Validate checks struct constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p := c.Learning.Policy
	if p.LowerBelow > p.RaiseAbove {
		return fmt.Errorf("%w: learning.policy.lower_below %.2f exceeds raise_above %.2f",
			ErrInvalidConfig, p.LowerBelow, p.RaiseAbove)
	}
	for name := range c.Cache.Categories {
		if name == "" {
			return fmt.Errorf("%w: cache category with empty name", ErrInvalidConfig)
		}
	}
	if c.Rules.Watch && c.Rules.Path == "" {
		return fmt.Errorf("%w: rules.watch requires rules.path", ErrInvalidConfig)
	}
	return nil
}

// CacheCategories returns the defaults overlaid with the configured
// per-category options.
func (c Config) CacheCategories() map[string]cache.Options {
	out := cache.DefaultCategoryOptions()
	for name, o := range c.Cache.Categories {
		out[name] = o
	}
	return out
}
