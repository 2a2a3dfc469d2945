// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package router

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/subagent/pkg/events"
)

func TestComplexityFactors(t *testing.T) {
	cases := []struct {
		name string
		task Task
		want int
	}{
		{"trivial summary", Task{Type: "log_summary", ContextTokens: 5000}, 1},
		{"summary with mid context", Task{Type: "log_summary", ContextTokens: 50_000}, 3},
		{"implementation", Task{Type: "code_implementation", ContextTokens: 5000}, 3},
		{"implementation many files", Task{Type: "code_implementation", ContextTokens: 50_000, Files: make([]string, 12)}, 7},
		{"architecture full load", Task{Type: "architecture_design", ContextTokens: 200_000, Files: make([]string, 12), WeakTierFailed: true}, 10},
		{"unknown type defaults to 2", Task{Type: "mystery"}, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Complexity(tc.task), tc.name)
	}
}

func TestRouteLogSummaryGoesWeak(t *testing.T) {
	r := NewRouter(nil)

	sel := r.Route(Task{Type: "log_summary", ContextTokens: 5000})
	assert.Equal(t, TierWeak, sel.Tier)
	assert.LessOrEqual(t, sel.Complexity, 3)
	assert.Contains(t, []string{"claude-haiku-3-5", "gpt-4o-mini"}, sel.Model)
}

func TestRouteTierBoundaries(t *testing.T) {
	r := NewRouter(nil)

	base := r.Route(Task{Type: "code_implementation", ContextTokens: 20_000})
	assert.Equal(t, TierBase, base.Tier)

	strong := r.Route(Task{Type: "migration_planning", ContextTokens: 200_000, Files: make([]string, 12)})
	assert.Equal(t, TierStrong, strong.Tier)
}

func TestForceStrongOverride(t *testing.T) {
	r := NewRouter(nil)

	sel := r.Route(Task{Type: "security_review", ContextTokens: 100})
	assert.Equal(t, TierStrong, sel.Tier)
	assert.True(t, sel.Forced)
}

func TestPickPrefersFreeThenPriority(t *testing.T) {
	tiers := &Tiers{
		Weak: []ModelEntry{
			{Name: "paid-high", Priority: 5},
			{Name: "free-model", Free: true},
		},
		PreferFree: true,
	}
	sel := NewRouter(tiers).Route(Task{Type: "log_summary"})
	assert.Equal(t, "free-model", sel.Model)

	tiers.PreferFree = false
	sel = NewRouter(tiers).Route(Task{Type: "log_summary"})
	assert.Equal(t, "paid-high", sel.Model)
}

func TestEmptyTierFallsBack(t *testing.T) {
	tiers := &Tiers{
		Base: []ModelEntry{{Name: "only-base"}},
	}
	sel := NewRouter(tiers).Route(Task{Type: "log_summary"})
	assert.Equal(t, "only-base", sel.Model, "weak tier empty, base serves")
}

func TestUpgradeDowngradeSaturate(t *testing.T) {
	assert.Equal(t, TierBase, UpgradeTier(TierWeak))
	assert.Equal(t, TierStrong, UpgradeTier(TierBase))
	assert.Equal(t, TierStrong, UpgradeTier(TierStrong))
	assert.Equal(t, TierBase, DowngradeTier(TierStrong))
	assert.Equal(t, TierWeak, DowngradeTier(TierBase))
	assert.Equal(t, TierWeak, DowngradeTier(TierWeak))
}

func TestLoadTiersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weak:
  - name: tiny-model
    free: true
base:
  - name: mid-model
strong:
  - name: big-model
force_strong_for: [legal_review]
prefer_free: true
`), 0o600))

	tiers, err := LoadTiers(path)
	require.NoError(t, err)
	sel := NewRouter(tiers).Route(Task{Type: "legal_review"})
	assert.Equal(t, TierStrong, sel.Tier)
	assert.Equal(t, "big-model", sel.Model)
}

func TestLoadTiersMissingFileUsesDefaults(t *testing.T) {
	tiers, err := LoadTiers(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, tiers.Base)
}

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

func setupTestSubscriber(t *testing.T) (*Subscriber, *recordingBus) {
	t.Helper()
	rec := &recordingBus{}
	sub := NewSubscriber(SubscriberConfig{
		Bus:    rec,
		Logger: zaptest.NewLogger(t),
	})
	return sub, rec
}

func mustEvent(t *testing.T, eventType, sessionID string, payload map[string]any) events.Event {
	t.Helper()
	ev, err := events.New(eventType, sessionID, payload)
	require.NoError(t, err)
	return ev
}

func TestSubscriberEmitsModelSelected(t *testing.T) {
	sub, rec := setupTestSubscriber(t)

	require.NoError(t, sub.Handle(context.Background(), mustEvent(t, events.AgentInvoked, "session_1", map[string]any{
		"agent":          "summarizer",
		"task_type":      "log_summary",
		"context_tokens": 5000,
	})))

	selected := rec.byType(events.ModelSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, TierWeak, selected[0].String("tier"))
	assert.LessOrEqual(t, selected[0].Int("complexity"), 3)
	assert.Equal(t, "summarizer", selected[0].String("agent"))
}

func TestSubscriberTierUpgradeOnQualityFailure(t *testing.T) {
	sub, rec := setupTestSubscriber(t)
	ctx := context.Background()

	fail := mustEvent(t, events.AgentFailed, "session_1", map[string]any{
		"agent": "summarizer",
		"tier":  TierWeak,
		"error": "output was incorrect and incomplete",
	})
	require.NoError(t, sub.Handle(ctx, fail))

	upgrades := rec.byType(events.ModelTierUpgrade)
	require.Len(t, upgrades, 1)
	assert.Equal(t, TierWeak, upgrades[0].String("from_tier"))
	assert.Equal(t, TierBase, upgrades[0].String("to_tier"))

	// Idempotent per agent per session.
	require.NoError(t, sub.Handle(ctx, fail))
	assert.Len(t, rec.byType(events.ModelTierUpgrade), 1)

	// A different session upgrades independently.
	other := mustEvent(t, events.AgentFailed, "session_2", map[string]any{
		"agent": "summarizer",
		"tier":  TierWeak,
		"error": "hallucinated citations",
	})
	require.NoError(t, sub.Handle(ctx, other))
	assert.Len(t, rec.byType(events.ModelTierUpgrade), 2)
}

func TestSubscriberIgnoresInfrastructureFailures(t *testing.T) {
	sub, rec := setupTestSubscriber(t)

	require.NoError(t, sub.Handle(context.Background(), mustEvent(t, events.AgentFailed, "session_1", map[string]any{
		"agent": "summarizer",
		"error": "connection refused",
	})))
	assert.Empty(t, rec.byType(events.ModelTierUpgrade))
}

func TestWeakFailureHistoryRaisesComplexity(t *testing.T) {
	sub, rec := setupTestSubscriber(t)
	ctx := context.Background()

	invoke := mustEvent(t, events.AgentInvoked, "session_1", map[string]any{
		"agent":          "summarizer",
		"task_type":      "log_summary",
		"context_tokens": 1000,
	})
	require.NoError(t, sub.Handle(ctx, invoke))

	require.NoError(t, sub.Handle(ctx, mustEvent(t, events.AgentFailed, "session_1", map[string]any{
		"agent":     "summarizer",
		"task_type": "log_summary",
		"tier":      TierWeak,
		"error":     "low quality summary",
	})))

	require.NoError(t, sub.Handle(ctx, invoke))
	selected := rec.byType(events.ModelSelected)
	require.Len(t, selected, 2)
	assert.Greater(t, selected[1].Int("complexity"), selected[0].Int("complexity"))
}
