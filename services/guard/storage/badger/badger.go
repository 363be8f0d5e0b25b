// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides the embedded BadgerDB store for validation history.
//
// The in-memory history keeps the newest records; this store receives
// every record in batches so the learner can be reseeded across restarts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// Retention is how long records are kept. Zero keeps everything.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns the production configuration.
//
// Description:
//
//	Sync writes on, 30 day retention, 10 minute GC interval.
//
// Outputs:
//
//	Config - Path must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		SyncWrites: true,
		Retention:  30 * 24 * time.Hour,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes BadgerDB's logger interface to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a BadgerDB instance.
//
// Description:
//
//	Creates the directory if needed. Path is required unless InMemory is set.
//
// Inputs:
//
//	cfg - Database configuration.
//
// Outputs:
//
//	*badger.DB - The opened database. Caller must Close it.
//	error - Non-nil if the path is missing or the database cannot be opened.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("path is required for persistent database")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}
