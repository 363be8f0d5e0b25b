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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
)

func TestAlertHub_FanOut(t *testing.T) {
	hub := NewAlertHub(4)
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubB()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(monitoring.Alert{ID: "1", Severity: monitoring.SeverityError})
	assert.Equal(t, "1", (<-a).ID)
	assert.Equal(t, "1", (<-b).ID)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestAlertHub_FullBufferDrops(t *testing.T) {
	hub := NewAlertHub(1)
	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.Publish(monitoring.Alert{ID: "1"})
	hub.Publish(monitoring.Alert{ID: "2"})
	assert.Equal(t, int64(1), hub.Dropped())
	assert.Equal(t, "1", (<-ch).ID)
}

func TestAlertHub_Close(t *testing.T) {
	hub := NewAlertHub(0)
	ch, unsub := hub.Subscribe()
	hub.Close()
	hub.Close()

	_, open := <-ch
	assert.False(t, open)
	unsub()

	late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscriptions after close are already closed")
	assert.Zero(t, hub.Subscribers())
}

func TestService_AlertsReachHub(t *testing.T) {
	svc := newTestService(t, nil)
	ch, unsub := svc.AlertHub().Subscribe()
	defer unsub()

	_, err := svc.Validate(t.Context(), passwordContent, "security_patterns", nil)
	require.NoError(t, err)

	select {
	case a := <-ch:
		assert.Equal(t, monitoring.SeverityCritical, a.Severity)
		assert.Equal(t, "security_patterns", a.Context["rule"])
	default:
		t.Fatal("alert was not published to the hub")
	}
}
