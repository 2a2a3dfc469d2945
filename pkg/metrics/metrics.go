// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package metrics folds the live event stream into rolling-window
// statistics. Memory is bounded by the window length and the reservoir
// size, independent of event rate.
package metrics

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// DefaultWindows are the rolling windows kept when none are configured.
var DefaultWindows = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// bucket accumulates one second of events.
type bucket struct {
	second       int64
	eventsByType map[string]int
	durationsMs  []float64
	tokens       int
	costUSD      float64
	failures     int
}

// window is a deque of per-second buckets plus a duration reservoir.
type window struct {
	size    time.Duration
	buckets []*bucket

	reservoir []float64
	seen      int
}

// Aggregator subscribes to every event and maintains the windows.
type Aggregator struct {
	windows       []time.Duration
	reservoirSize int
	logger        *zap.Logger
	now           func() time.Time
	rng           *rand.Rand

	mu    sync.Mutex
	state map[time.Duration]*window
}

// AggregatorConfig configures the metrics aggregator.
type AggregatorConfig struct {
	// Windows defaults to 60s / 5m / 15m.
	Windows []time.Duration

	// ReservoirSize bounds the tail-latency sample per window. Default 512.
	ReservoirSize int

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// NewAggregator creates the aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows
	}
	if cfg.ReservoirSize <= 0 {
		cfg.ReservoirSize = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	state := make(map[time.Duration]*window, len(cfg.Windows))
	for _, size := range cfg.Windows {
		state[size] = &window{size: size}
	}
	return &Aggregator{
		windows:       cfg.Windows,
		reservoirSize: cfg.ReservoirSize,
		logger:        cfg.Logger,
		now:           cfg.Now,
		rng:           rand.New(rand.NewSource(cfg.Now().UnixNano())),
		state:         state,
	}
}

// Register subscribes the aggregator to every event type.
func (a *Aggregator) Register(b *bus.Bus) {
	b.Subscribe(bus.Wildcard, a.Handle)
}

// Handle folds one event into every window.
func (a *Aggregator) Handle(_ context.Context, ev events.Event) error {
	now := a.now().UTC()
	second := now.Unix()

	durationMs := ev.Float("duration_ms")
	tokens := ev.Int("tokens_used")
	cost := ev.Float("cost_usd")
	failure := isFailure(ev)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, w := range a.state {
		b := w.currentBucket(second)
		b.eventsByType[ev.Type]++
		if durationMs > 0 {
			b.durationsMs = append(b.durationsMs, durationMs)
			a.sample(w, durationMs)
		}
		b.tokens += tokens
		b.costUSD += cost
		if failure {
			b.failures++
		}
		a.evict(w, second)
	}
	return nil
}

func isFailure(ev events.Event) bool {
	switch ev.Type {
	case events.AgentFailed, events.AgentTimeout, events.ToolError, events.SnapshotFailed:
		return true
	case events.ToolUsed:
		_, present := ev.Payload["success"]
		return present && !ev.Bool("success")
	}
	return false
}

func (w *window) currentBucket(second int64) *bucket {
	if n := len(w.buckets); n > 0 && w.buckets[n-1].second == second {
		return w.buckets[n-1]
	}
	b := &bucket{second: second, eventsByType: make(map[string]int)}
	w.buckets = append(w.buckets, b)
	return b
}

// evict drops buckets that aged out of the window. Whenever anything falls
// off, the duration reservoir is rebuilt from the surviving buckets so the
// percentiles never reflect samples older than the window.
func (a *Aggregator) evict(w *window, nowSecond int64) {
	oldest := nowSecond - int64(w.size.Seconds()) + 1
	i := 0
	for i < len(w.buckets) && w.buckets[i].second < oldest {
		i++
	}
	if i == 0 {
		return
	}
	w.buckets = append(w.buckets[:0], w.buckets[i:]...)
	w.reservoir = w.reservoir[:0]
	w.seen = 0
	for _, b := range w.buckets {
		for _, d := range b.durationsMs {
			a.sample(w, d)
		}
	}
}

// sample keeps a bounded reservoir of durations (algorithm R).
func (a *Aggregator) sample(w *window, durationMs float64) {
	w.seen++
	if len(w.reservoir) < a.reservoirSize {
		w.reservoir = append(w.reservoir, durationMs)
		return
	}
	if idx := a.rng.Intn(w.seen); idx < a.reservoirSize {
		w.reservoir[idx] = durationMs
	}
}

// Stats is the derived view of one window.
type Stats struct {
	Window         time.Duration  `json:"window_seconds"`
	Events         int            `json:"events"`
	EventsByType   map[string]int `json:"events_by_type"`
	RatePerSec     float64        `json:"rate_per_sec"`
	AvgDurationMs  float64        `json:"avg_duration_ms"`
	P50DurationMs  float64        `json:"p50_duration_ms"`
	P95DurationMs  float64        `json:"p95_duration_ms"`
	TokensPerSec   float64        `json:"tokens_per_sec"`
	CostPerMin     float64        `json:"cost_per_min"`
	FailuresPerMin float64        `json:"failures_per_min"`
}

// Snapshot folds the named window's live buckets into statistics.
func (a *Aggregator) Snapshot(size time.Duration) Stats {
	nowSecond := a.now().UTC().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{Window: size, EventsByType: make(map[string]int)}
	w, ok := a.state[size]
	if !ok {
		return stats
	}
	a.evict(w, nowSecond)

	var durationSum float64
	var durationCount int
	var tokens, failures int
	var cost float64
	for _, b := range w.buckets {
		for eventType, n := range b.eventsByType {
			stats.EventsByType[eventType] += n
			stats.Events += n
		}
		for _, d := range b.durationsMs {
			durationSum += d
			durationCount++
		}
		tokens += b.tokens
		cost += b.costUSD
		failures += b.failures
	}

	seconds := size.Seconds()
	stats.RatePerSec = float64(stats.Events) / seconds
	stats.TokensPerSec = float64(tokens) / seconds
	stats.CostPerMin = cost / (seconds / 60)
	stats.FailuresPerMin = float64(failures) / (seconds / 60)
	if durationCount > 0 {
		stats.AvgDurationMs = durationSum / float64(durationCount)
	}
	stats.P50DurationMs = percentile(w.reservoir, 0.50)
	stats.P95DurationMs = percentile(w.reservoir, 0.95)
	return stats
}

// Windows lists the configured window sizes.
func (a *Aggregator) Windows() []time.Duration {
	out := make([]time.Duration, len(a.windows))
	copy(out, a.windows)
	return out
}

func percentile(sample []float64, p float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
