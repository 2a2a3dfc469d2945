// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cost

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/subagent/pkg/events"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingBus) Publish(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingBus) byType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func completion(t *testing.T, session, agent, model string, input, output int) events.Event {
	t.Helper()
	ev, err := events.New(events.AgentCompleted, session, map[string]any{
		"agent":         agent,
		"model":         model,
		"input_tokens":  input,
		"output_tokens": output,
		"tokens_used":   input + output,
	})
	require.NoError(t, err)
	return ev
}

func setupTestTracker(t *testing.T, pricing *PricingTable) (*Tracker, *recordingBus) {
	t.Helper()
	rec := &recordingBus{}
	tr := NewTracker(TrackerConfig{
		Pricing: pricing,
		Bus:     rec,
		Logger:  zaptest.NewLogger(t),
	})
	return tr, rec
}

func TestCostFormula(t *testing.T) {
	table := DefaultPricing()

	cost, known := table.CostFor("claude-sonnet-4-6", 1_000_000, 1_000_000)
	require.True(t, known)
	assert.InDelta(t, 18.0, cost, 1e-9, "3 in + 15 out per mtok")

	cost, known = table.CostFor("made-up-model", 500, 500)
	assert.False(t, known)
	assert.Zero(t, cost)
}

func TestLoadPricingMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  in-house-7b:
    input_per_mtok: 0.10
    output_per_mtok: 0.20
    tier: weak
budgets:
  hourly_cap_usd: 2.5
`), 0o600))

	table, err := LoadPricing(path)
	require.NoError(t, err)

	_, known := table.CostFor("in-house-7b", 1, 1)
	assert.True(t, known)
	_, known = table.CostFor("claude-sonnet-4-6", 1, 1)
	assert.True(t, known, "defaults retained")
	assert.Equal(t, 2.5, table.Budgets.HourlyCapUSD)
	assert.Equal(t, 50.0, table.Budgets.DailyCapUSD, "unset cap keeps default")
}

func TestLoadPricingMissingFileUsesDefaults(t *testing.T) {
	table, err := LoadPricing(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPricing().Budgets, table.Budgets)
}

func TestTrackerAccumulatesTotals(t *testing.T) {
	tr, rec := setupTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-sonnet-4-6", 1000, 2000)))
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "scout", "claude-haiku-3-5", 1000, 1000)))

	sess := tr.SessionTotals("session_1")
	assert.Equal(t, 2000, sess.InputTokens)
	assert.Equal(t, 3000, sess.OutputTokens)
	assert.Equal(t, 2, sess.Completions)
	// 0.001*3 + 0.002*15 + 0.001*0.8 + 0.001*4
	assert.InDelta(t, 0.0378, sess.CostUSD, 1e-9)

	models := tr.ModelTotals()
	assert.InDelta(t, 0.033, models["claude-sonnet-4-6"].CostUSD, 1e-9)
	agents := tr.AgentTotals()
	assert.Equal(t, 1, agents["scout"].Completions)

	tracked := rec.byType(events.CostTracked)
	require.Len(t, tracked, 2)
	assert.InDelta(t, 0.033, tracked[0].Float("cost_usd"), 1e-9)
	assert.InDelta(t, 0.0378, tracked[1].Float("session_total"), 1e-9)
}

func TestUnknownModelCostsZero(t *testing.T) {
	tr, rec := setupTestTracker(t, nil)

	require.NoError(t, tr.Handle(context.Background(), completion(t, "session_1", "builder", "mystery-model", 5000, 5000)))

	assert.Zero(t, tr.SessionTotals("session_1").CostUSD)
	tracked := rec.byType(events.CostTracked)
	require.Len(t, tracked, 1)
	assert.Zero(t, tracked[0].Float("cost_usd"))
}

func TestBudgetWarningOncePerWindowThreshold(t *testing.T) {
	pricing := DefaultPricing()
	pricing.Budgets.HourlyCapUSD = 0.05
	pricing.Budgets.DailyCapUSD = 1000 // out of reach
	tr, rec := setupTestTracker(t, pricing)
	ctx := context.Background()

	// 1M in + 1M out on haiku = $4.80, blowing through every hourly threshold.
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-haiku-3-5", 1_000_000, 1_000_000)))

	warnings := rec.byType(events.CostBudgetWarning)
	require.Len(t, warnings, 3, "50/70/90 all crossed at once")
	for _, w := range warnings {
		assert.Equal(t, WindowHour, w.String("window"))
	}

	// Same window again: no repeats.
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-haiku-3-5", 1000, 1000)))
	assert.Len(t, rec.byType(events.CostBudgetWarning), 3)
}

func TestBudgetWarningResetsInNewWindow(t *testing.T) {
	pricing := DefaultPricing()
	pricing.Budgets.HourlyCapUSD = 0.05
	pricing.Budgets.DailyCapUSD = 0 // disabled
	pricing.Budgets.Thresholds = []float64{0.9}

	clock := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	rec := &recordingBus{}
	tr := NewTracker(TrackerConfig{
		Pricing: pricing,
		Bus:     rec,
		Logger:  zaptest.NewLogger(t),
		Now:     func() time.Time { return clock },
	})
	ctx := context.Background()

	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-haiku-3-5", 100_000, 0)))
	require.Len(t, rec.byType(events.CostBudgetWarning), 1)

	clock = clock.Add(time.Hour)
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-haiku-3-5", 100_000, 0)))
	assert.Len(t, rec.byType(events.CostBudgetWarning), 2, "fresh hour bucket warns again")
}

func TestWindowSpend(t *testing.T) {
	tr, _ := setupTestTracker(t, nil)
	require.NoError(t, tr.Handle(context.Background(), completion(t, "session_1", "builder", "claude-sonnet-4-6", 1_000_000, 0)))

	assert.InDelta(t, 3.0, tr.WindowSpend(WindowHour), 1e-9)
	assert.InDelta(t, 3.0, tr.WindowSpend(WindowDay), 1e-9)
	assert.InDelta(t, 3.0, tr.WindowSpend(WindowWeek), 1e-9)
	assert.Zero(t, tr.WindowSpend("fortnight"))
}

func TestOptimizeSuggestsCheaperTier(t *testing.T) {
	tr, rec := setupTestTracker(t, nil)
	ctx := context.Background()

	// Opus spend dwarfs everything else.
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-opus-4", 2_000_000, 1_000_000)))
	require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "scout", "claude-haiku-3-5", 10_000, 10_000)))

	ops := tr.Optimize("session_1", 1.0)
	require.Len(t, ops, 1)
	assert.Equal(t, "claude-opus-4", ops[0].Model)
	assert.Equal(t, "base", ops[0].SuggestedTier)
	assert.Equal(t, "gpt-4o", ops[0].SuggestedModel, "cheapest base-tier input price")

	emitted := rec.byType(events.CostOptimizationOpportunity)
	require.Len(t, emitted, 1)
	assert.Equal(t, "claude-opus-4", emitted[0].String("model"))
}

func TestRollingBucketsStayBounded(t *testing.T) {
	pricing := DefaultPricing()
	pricing.Budgets.HourlyCapUSD = 0.05
	pricing.Budgets.DailyCapUSD = 0 // disabled
	pricing.Budgets.Thresholds = []float64{0.9}

	clock := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	tr := NewTracker(TrackerConfig{
		Pricing: pricing,
		Logger:  zaptest.NewLogger(t),
		Now:     func() time.Time { return clock },
	})
	ctx := context.Background()

	// Two days of hourly traffic, each handle landing in a fresh hour bucket.
	for i := 0; i < 48; i++ {
		require.NoError(t, tr.Handle(ctx, completion(t, "session_1", "builder", "claude-haiku-3-5", 100_000, 0)))
		clock = clock.Add(time.Hour)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(t, tr.buckets[WindowHour], 1, "only the current hour bucket survives")
	assert.Len(t, tr.buckets[WindowDay], 1)
	assert.Len(t, tr.buckets[WindowWeek], 1)
	assert.Len(t, tr.warned, 1, "de-dup keys evicted with their buckets")
}
