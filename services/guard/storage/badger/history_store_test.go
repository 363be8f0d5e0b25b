// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	store, err := OpenHistoryStore(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []history.Record{{Rule: "r", Timestamp: time.Now()}}))
	require.NoError(t, store.Close())

	reopened, err := OpenHistoryStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHistoryStore_AppendLoad(t *testing.T) {
	ctx := context.Background()
	store, err := OpenHistoryStore(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var batch []history.Record
	for i := 0; i < 5; i++ {
		batch = append(batch, history.Record{
			Rule:      fmt.Sprintf("rule_%d", i),
			Category:  rules.CategoryCode,
			Severity:  rules.NewSeverity(4),
			Context:   map[string]any{"environment": "production"},
			Success:   i%2 == 0,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, store.Append(ctx, batch))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	all, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "rule_0", all[0].Rule)
	assert.Equal(t, 4, all[0].Severity.Level())
	assert.Equal(t, "production", all[0].Context["environment"])

	newest, err := store.Load(ctx, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "rule_3", newest[0].Rule)
	assert.Equal(t, "rule_4", newest[1].Rule)
}

func TestHistoryStore_AsLogSink(t *testing.T) {
	ctx := context.Background()
	store, err := OpenHistoryStore(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	log := history.NewLog(2, history.WithSink(store, 2))
	for i := 0; i < 6; i++ {
		log.Append(ctx, history.Record{Rule: "r", Timestamp: time.Now()})
	}
	require.NoError(t, log.Flush(ctx))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 2, log.Len())
}

func TestHistoryStore_CanceledContext(t *testing.T) {
	store, err := OpenHistoryStore(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Append(ctx, []history.Record{{Rule: "r"}}), context.Canceled)
}
