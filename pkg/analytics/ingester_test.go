// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package analytics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/subagent/pkg/events"
)

func setupTestIngester(t *testing.T, batchSize int) (*Ingester, *Store) {
	t.Helper()
	store, err := NewStore(context.Background(),
		filepath.Join(t.TempDir(), "tracking.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	in := NewIngester(IngesterConfig{
		Store:     store,
		BatchSize: batchSize,
		Logger:    zaptest.NewLogger(t),
	})
	t.Cleanup(in.Close)
	return in, store
}

func handle(t *testing.T, in *Ingester, eventType, sessionID string, payload map[string]any) {
	t.Helper()
	ev, err := events.New(eventType, sessionID, payload)
	require.NoError(t, err)
	require.NoError(t, in.Handle(context.Background(), ev))
}

func TestAgentCompletionAggregation(t *testing.T) {
	in, store := setupTestIngester(t, 100)
	ctx := context.Background()

	handle(t, in, events.SessionStarted, "s1", nil)
	for i := 0; i < 3; i++ {
		handle(t, in, events.AgentCompleted, "s1", map[string]any{
			"agent":       "builder",
			"model":       "sonnet",
			"tokens_used": 1000,
			"duration_ms": 200.0,
		})
	}
	handle(t, in, events.AgentFailed, "s1", map[string]any{
		"agent":      "builder",
		"error":      "compile error",
		"error_type": "ToolExecutionError",
	})
	in.Flush(ctx)

	perf, err := store.QueryAgentPerformance(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, "builder", perf[0].Agent)
	assert.Equal(t, 4, perf[0].Invocations)
	assert.Equal(t, 1, perf[0].Failures)
	assert.Equal(t, 3000, perf[0].TotalTokens)
}

func TestToolErrorProducesBothRows(t *testing.T) {
	in, store := setupTestIngester(t, 100)
	ctx := context.Background()

	handle(t, in, events.ToolUsed, "s1", map[string]any{
		"tool": "write", "success": true, "duration_ms": 5.0,
	})
	handle(t, in, events.ToolUsed, "s1", map[string]any{
		"tool": "write", "success": false, "error_type": "PermissionDenied",
	})
	in.Flush(ctx)

	tools, err := store.QueryToolEffectiveness(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, 2, tools[0].Calls)
	assert.Equal(t, 1, tools[0].Successes)
	assert.InDelta(t, 0.5, tools[0].SuccessRate, 1e-9)

	errs, err := store.QueryErrorPatterns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "PermissionDenied", errs[0].ErrorType)
	assert.Equal(t, 1, errs[0].Count)
}

func TestSessionInsertOrIgnoreAndEndUpdate(t *testing.T) {
	in, store := setupTestIngester(t, 100)
	ctx := context.Background()

	handle(t, in, events.SessionStarted, "s1", nil)
	handle(t, in, events.SessionStarted, "s1", nil) // duplicate start ignored
	in.Flush(ctx)

	summary, err := store.QuerySessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "active", summary.Status)
	assert.Nil(t, summary.EndedAt)

	handle(t, in, events.SessionEnded, "s1", map[string]any{"status": "completed"})
	in.Flush(ctx)

	summary, err = store.QuerySessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", summary.Status)
	require.NotNil(t, summary.EndedAt)
}

func TestBatchFlushTriggersAtSize(t *testing.T) {
	in, store := setupTestIngester(t, 3)
	ctx := context.Background()

	handle(t, in, events.ToolUsed, "s1", map[string]any{"tool": "read", "success": true})
	handle(t, in, events.ToolUsed, "s1", map[string]any{"tool": "read", "success": true})

	// Below batch size, nothing committed yet.
	tools, err := store.QueryToolEffectiveness(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, tools)

	handle(t, in, events.ToolUsed, "s1", map[string]any{"tool": "read", "success": true})

	tools, err = store.QueryToolEffectiveness(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, 3, tools[0].Calls)
}

func TestSessionSummaryAggregatesAllTables(t *testing.T) {
	in, store := setupTestIngester(t, 100)
	ctx := context.Background()

	handle(t, in, events.SessionStarted, "s1", nil)
	handle(t, in, events.AgentCompleted, "s1", map[string]any{
		"agent": "planner", "tokens_used": 500, "cost_usd": 0.02,
	})
	handle(t, in, events.ToolUsed, "s1", map[string]any{"tool": "bash", "success": true})
	handle(t, in, events.AgentFailed, "s1", map[string]any{"agent": "builder", "error_type": "BudgetExceeded"})
	in.Flush(ctx)

	summary, err := store.QuerySessionSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AgentRuns)
	assert.Equal(t, 1, summary.ToolCalls)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 500, summary.TotalTokens)
	assert.InDelta(t, 0.02, summary.CostUSD, 1e-9)
}

func TestUnknownSessionSummaryErrors(t *testing.T) {
	_, store := setupTestIngester(t, 100)
	_, err := store.QuerySessionSummary(context.Background(), "nope")
	require.Error(t, err)
}
