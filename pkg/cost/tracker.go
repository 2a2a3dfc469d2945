// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// Publisher is the slice of the bus the tracker emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// Window names for rolling spend buckets.
const (
	WindowHour = "hourly"
	WindowDay  = "daily"
	WindowWeek = "weekly"
)

var windowSizes = map[string]time.Duration{
	WindowHour: time.Hour,
	WindowDay:  24 * time.Hour,
	WindowWeek: 7 * 24 * time.Hour,
}

// Totals accumulates token and dollar spend for one key.
type Totals struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Completions  int     `json:"completions"`
}

// Tracker subscribes to agent.completed, prices usage, and raises budget
// warnings once per (window, threshold) pair.
type Tracker struct {
	pricing *PricingTable
	bus     Publisher
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Totals
	models   map[string]*Totals
	agents   map[string]*Totals
	// buckets[window][bucket start unix] = spend
	buckets map[string]map[int64]float64
	warned  map[string]struct{}
}

// TrackerConfig configures the cost tracker.
type TrackerConfig struct {
	Pricing *PricingTable
	Bus     Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// NewTracker creates the cost tracker subscriber.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		pricing:  cfg.Pricing,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		now:      cfg.Now,
		sessions: make(map[string]*Totals),
		models:   make(map[string]*Totals),
		agents:   make(map[string]*Totals),
		buckets: map[string]map[int64]float64{
			WindowHour: {},
			WindowDay:  {},
			WindowWeek: {},
		},
		warned: make(map[string]struct{}),
	}
}

// Register subscribes the tracker. Pure in-memory accounting, so it stays on
// the dispatch fan-out.
func (t *Tracker) Register(b *bus.Bus) {
	b.Subscribe(events.AgentCompleted, t.Handle)
}

// Handle prices one completion and updates all aggregates.
func (t *Tracker) Handle(_ context.Context, ev events.Event) error {
	model := ev.String("model")
	agent := ev.String("agent")
	input := ev.Int("input_tokens")
	output := ev.Int("output_tokens")

	cost, known := t.pricing.CostFor(model, input, output)
	if !known {
		t.logger.Warn("no pricing for model, costing zero",
			zap.String("model", model),
			zap.String("session_id", ev.SessionID))
	}

	now := t.now().UTC()
	t.mu.Lock()
	add(t.sessions, ev.SessionID, input, output, cost)
	add(t.models, model, input, output, cost)
	add(t.agents, agent, input, output, cost)
	for window, size := range windowSizes {
		t.buckets[window][now.Truncate(size).Unix()] += cost
	}
	t.pruneLocked(now)
	sessionTotal := t.sessions[ev.SessionID].CostUSD
	warnings := t.pendingWarningsLocked(now)
	t.mu.Unlock()

	t.publish(events.CostTracked, ev.SessionID, map[string]any{
		"agent":         agent,
		"model":         model,
		"input_tokens":  input,
		"output_tokens": output,
		"cost_usd":      cost,
		"session_total": sessionTotal,
	})
	for _, w := range warnings {
		t.publish(events.CostBudgetWarning, ev.SessionID, map[string]any{
			"window":        w.window,
			"threshold_pct": w.threshold * 100,
			"spend_usd":     w.spend,
			"cap_usd":       w.cap,
		})
	}
	return nil
}

type budgetWarning struct {
	window    string
	threshold float64
	spend     float64
	cap       float64
}

// pendingWarningsLocked finds newly crossed (window, threshold) pairs for
// the current hour and day buckets.
func (t *Tracker) pendingWarningsLocked(now time.Time) []budgetWarning {
	caps := map[string]float64{
		WindowHour: t.pricing.Budgets.HourlyCapUSD,
		WindowDay:  t.pricing.Budgets.DailyCapUSD,
	}
	var out []budgetWarning
	for _, window := range []string{WindowHour, WindowDay} {
		capUSD := caps[window]
		if capUSD <= 0 {
			continue
		}
		bucket := now.Truncate(windowSizes[window]).Unix()
		spend := t.buckets[window][bucket]
		for _, threshold := range t.pricing.Budgets.Thresholds {
			if spend < capUSD*threshold {
				continue
			}
			key := fmt.Sprintf("%s:%d:%g", window, bucket, threshold)
			if _, seen := t.warned[key]; seen {
				continue
			}
			t.warned[key] = struct{}{}
			out = append(out, budgetWarning{window: window, threshold: threshold, spend: spend, cap: capUSD})
		}
	}
	return out
}

// pruneLocked drops bucket keys and warning de-dup entries that rolled out of
// their window. Only the current bucket of each window is ever read, so older
// keys would otherwise accumulate for the life of the process.
func (t *Tracker) pruneLocked(now time.Time) {
	for window, size := range windowSizes {
		current := now.Truncate(size).Unix()
		for bucket := range t.buckets[window] {
			if bucket == current {
				continue
			}
			delete(t.buckets[window], bucket)
			for _, threshold := range t.pricing.Budgets.Thresholds {
				delete(t.warned, fmt.Sprintf("%s:%d:%g", window, bucket, threshold))
			}
		}
	}
}

// SessionTotals returns the accumulated spend for a session.
func (t *Tracker) SessionTotals(sessionID string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tot, ok := t.sessions[sessionID]; ok {
		return *tot
	}
	return Totals{}
}

// ModelTotals returns accumulated spend keyed by model.
func (t *Tracker) ModelTotals() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Totals, len(t.models))
	for k, v := range t.models {
		out[k] = *v
	}
	return out
}

// AgentTotals returns accumulated spend keyed by agent.
func (t *Tracker) AgentTotals() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Totals, len(t.agents))
	for k, v := range t.agents {
		out[k] = *v
	}
	return out
}

// WindowSpend returns the spend of the current bucket of the named window.
func (t *Tracker) WindowSpend(window string) float64 {
	size, ok := windowSizes[window]
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buckets[window][t.now().UTC().Truncate(size).Unix()]
}

// CostForAgent prices usage directly, for callers outside the event flow.
func (t *Tracker) CostForAgent(model string, inputTokens, outputTokens int) float64 {
	cost, _ := t.pricing.CostFor(model, inputTokens, outputTokens)
	return cost
}

// Opportunity flags a model whose spend justifies routing to a cheaper tier.
type Opportunity struct {
	Model          string  `json:"model"`
	Tier           string  `json:"tier"`
	SpendUSD       float64 `json:"spend_usd"`
	SuggestedTier  string  `json:"suggested_tier"`
	SuggestedModel string  `json:"suggested_model"`
}

var cheaperTier = map[string]string{
	"strong": "base",
	"base":   "weak",
}

// Optimize flags models with spend above minSpendUSD that have a cheaper
// tier available, publishing cost.optimization_opportunity for each.
func (t *Tracker) Optimize(sessionID string, minSpendUSD float64) []Opportunity {
	t.mu.Lock()
	spend := make(map[string]float64, len(t.models))
	for model, tot := range t.models {
		spend[model] = tot.CostUSD
	}
	t.mu.Unlock()

	var out []Opportunity
	for model, usd := range spend {
		if usd < minSpendUSD {
			continue
		}
		tier := t.pricing.TierOf(model)
		lower, ok := cheaperTier[tier]
		if !ok {
			continue
		}
		suggested := t.pricing.CheapestInTier(lower)
		if suggested == "" {
			continue
		}
		out = append(out, Opportunity{
			Model:          model,
			Tier:           tier,
			SpendUSD:       usd,
			SuggestedTier:  lower,
			SuggestedModel: suggested,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpendUSD > out[j].SpendUSD })

	for _, op := range out {
		t.publish(events.CostOptimizationOpportunity, sessionID, map[string]any{
			"model":           op.Model,
			"spend_usd":       op.SpendUSD,
			"suggested_tier":  op.SuggestedTier,
			"suggested_model": op.SuggestedModel,
		})
	}
	return out
}

func add(m map[string]*Totals, key string, input, output int, cost float64) {
	tot, ok := m[key]
	if !ok {
		tot = &Totals{}
		m[key] = tot
	}
	tot.InputTokens += input
	tot.OutputTokens += output
	tot.CostUSD += cost
	tot.Completions++
}

func (t *Tracker) publish(eventType, sessionID string, payload map[string]any) {
	if t.bus == nil {
		return
	}
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		t.logger.Warn("failed to build cost event", zap.Error(err))
		return
	}
	if err := t.bus.Publish(ev); err != nil {
		t.logger.Warn("failed to publish cost event", zap.Error(err))
	}
}
