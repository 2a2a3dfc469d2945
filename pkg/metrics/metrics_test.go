// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/subagent/pkg/events"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestAggregator(t *testing.T, windows ...time.Duration) (*Aggregator, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	a := NewAggregator(AggregatorConfig{
		Windows: windows,
		Logger:  zaptest.NewLogger(t),
		Now:     clock.Now,
	})
	return a, clock
}

func record(t *testing.T, a *Aggregator, eventType string, payload map[string]any) {
	t.Helper()
	ev, err := events.New(eventType, "session_1", payload)
	require.NoError(t, err)
	require.NoError(t, a.Handle(context.Background(), ev))
}

func TestCountsAndRates(t *testing.T) {
	a, _ := setupTestAggregator(t, time.Minute)

	for i := 0; i < 6; i++ {
		record(t, a, events.AgentInvoked, map[string]any{"agent": "builder"})
	}
	record(t, a, events.AgentCompleted, map[string]any{
		"agent":       "builder",
		"tokens_used": 600,
		"duration_ms": 100,
		"cost_usd":    0.06,
	})

	stats := a.Snapshot(time.Minute)
	assert.Equal(t, 7, stats.Events)
	assert.Equal(t, 6, stats.EventsByType[events.AgentInvoked])
	assert.InDelta(t, 7.0/60, stats.RatePerSec, 1e-9)
	assert.InDelta(t, 10.0, stats.TokensPerSec, 1e-9)
	assert.InDelta(t, 0.06, stats.CostPerMin, 1e-9)
}

func TestOldBucketsEvicted(t *testing.T) {
	a, clock := setupTestAggregator(t, time.Minute)

	record(t, a, events.AgentInvoked, map[string]any{"agent": "builder"})
	clock.advance(30 * time.Second)
	record(t, a, events.AgentInvoked, map[string]any{"agent": "builder"})
	assert.Equal(t, 2, a.Snapshot(time.Minute).Events)

	clock.advance(45 * time.Second) // first event now outside the window
	assert.Equal(t, 1, a.Snapshot(time.Minute).Events)

	clock.advance(2 * time.Minute)
	assert.Equal(t, 0, a.Snapshot(time.Minute).Events)
}

func TestWindowsAreIndependent(t *testing.T) {
	a, clock := setupTestAggregator(t, time.Minute, 5*time.Minute)

	record(t, a, events.AgentInvoked, map[string]any{"agent": "builder"})
	clock.advance(2 * time.Minute)
	record(t, a, events.AgentInvoked, map[string]any{"agent": "builder"})

	assert.Equal(t, 1, a.Snapshot(time.Minute).Events)
	assert.Equal(t, 2, a.Snapshot(5*time.Minute).Events)
}

func TestDurationPercentiles(t *testing.T) {
	a, _ := setupTestAggregator(t, time.Minute)

	for i := 1; i <= 100; i++ {
		record(t, a, events.AgentCompleted, map[string]any{
			"agent":       "builder",
			"duration_ms": i * 10, // 10..1000ms
		})
	}

	stats := a.Snapshot(time.Minute)
	assert.InDelta(t, 505.0, stats.AvgDurationMs, 1.0)
	assert.InDelta(t, 500.0, stats.P50DurationMs, 20.0)
	assert.InDelta(t, 950.0, stats.P95DurationMs, 30.0)
}

func TestReservoirStaysBounded(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	a := NewAggregator(AggregatorConfig{
		Windows:       []time.Duration{time.Minute},
		ReservoirSize: 16,
		Logger:        zaptest.NewLogger(t),
		Now:           clock.Now,
	})

	for i := 0; i < 10_000; i++ {
		record(t, a, events.AgentCompleted, map[string]any{
			"agent":       "builder",
			"duration_ms": 100,
		})
	}

	a.mu.Lock()
	size := len(a.state[time.Minute].reservoir)
	a.mu.Unlock()
	assert.LessOrEqual(t, size, 16)

	stats := a.Snapshot(time.Minute)
	assert.InDelta(t, 100.0, stats.P95DurationMs, 1e-9, "uniform sample keeps the value")
}

func TestFailureClassification(t *testing.T) {
	a, _ := setupTestAggregator(t, time.Minute)

	record(t, a, events.AgentFailed, map[string]any{"agent": "builder", "error": "boom"})
	record(t, a, events.ToolUsed, map[string]any{"tool": "write", "success": false})
	record(t, a, events.ToolUsed, map[string]any{"tool": "read", "success": true})
	record(t, a, events.AgentCompleted, map[string]any{"agent": "builder"})

	stats := a.Snapshot(time.Minute)
	assert.InDelta(t, 2.0, stats.FailuresPerMin, 1e-9)
}

func TestUnknownWindowIsEmpty(t *testing.T) {
	a, _ := setupTestAggregator(t, time.Minute)
	stats := a.Snapshot(42 * time.Second)
	assert.Zero(t, stats.Events)
}

func TestPercentilesForgetEvictedDurations(t *testing.T) {
	a, clock := setupTestAggregator(t, time.Minute)

	for i := 0; i < 100; i++ {
		record(t, a, events.AgentCompleted, map[string]any{
			"agent":       "builder",
			"duration_ms": 1000,
		})
	}
	assert.InDelta(t, 1000.0, a.Snapshot(time.Minute).P95DurationMs, 1e-9)

	clock.advance(2 * time.Minute) // the slow burst ages out
	record(t, a, events.AgentCompleted, map[string]any{
		"agent":       "builder",
		"duration_ms": 100,
	})

	stats := a.Snapshot(time.Minute)
	assert.InDelta(t, 100.0, stats.P50DurationMs, 1e-9)
	assert.InDelta(t, 100.0, stats.P95DurationMs, 1e-9, "only in-window samples survive")

	clock.advance(2 * time.Minute)
	assert.Zero(t, a.Snapshot(time.Minute).P95DurationMs, "empty window has no tail")
}
