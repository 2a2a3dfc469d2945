// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/tasks"
)

// RequirementsSource supplies open requirements for reference checks.
// Implemented by the task store; a PRD adapter can provide another.
type RequirementsSource interface {
	OpenRequirements(limit int) ([]tasks.Requirement, error)
}

// ReferenceTrigger periodically surfaces open requirements so long-running
// sessions stay anchored to what was asked for. Fires every N agents or M
// tokens; Force bypasses the counters.
type ReferenceTrigger struct {
	source     RequirementsSource
	bus        Publisher
	counter    *TokenCounter
	agentEvery int
	tokenEvery int
	maxReqs    int
	budget     int
	logger     *zap.Logger

	mu    sync.Mutex
	state map[string]*referenceCounters
}

type referenceCounters struct {
	agentCount  int
	lastAtAgent int
	tokenCount  int
	lastAtToken int
}

// ReferenceTriggerConfig configures the reference-check trigger.
type ReferenceTriggerConfig struct {
	Source RequirementsSource
	Bus    Publisher

	// AgentInterval fires every N agent invocations. Default 5.
	AgentInterval int

	// TokenInterval fires every M tokens consumed. Default 20000.
	TokenInterval int

	// MaxRequirements bounds how many open requirements are surfaced.
	// Default 5.
	MaxRequirements int

	// TokenBudget is the session token budget used to size the rendered
	// prompt. Default 200000.
	TokenBudget int

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewReferenceTrigger creates the reference-check trigger subscriber.
func NewReferenceTrigger(cfg ReferenceTriggerConfig) *ReferenceTrigger {
	if cfg.AgentInterval <= 0 {
		cfg.AgentInterval = 5
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = 20000
	}
	if cfg.MaxRequirements <= 0 {
		cfg.MaxRequirements = 5
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 200000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ReferenceTrigger{
		source:     cfg.Source,
		bus:        cfg.Bus,
		counter:    NewTokenCounter(),
		agentEvery: cfg.AgentInterval,
		tokenEvery: cfg.TokenInterval,
		maxReqs:    cfg.MaxRequirements,
		budget:     cfg.TokenBudget,
		logger:     cfg.Logger,
		state:      make(map[string]*referenceCounters),
	}
}

// Register subscribes the trigger.
func (t *ReferenceTrigger) Register(b *bus.Bus) {
	b.Subscribe(events.AgentInvoked, t.Handle, bus.WithBlocking())
	b.Subscribe(events.AgentCompleted, t.Handle, bus.WithBlocking())
}

// Handle updates counters and fires a reference check on threshold.
func (t *ReferenceTrigger) Handle(_ context.Context, ev events.Event) error {
	t.mu.Lock()
	c, ok := t.state[ev.SessionID]
	if !ok {
		c = &referenceCounters{}
		t.state[ev.SessionID] = c
	}

	var reason string
	var consumed int
	switch ev.Type {
	case events.AgentInvoked:
		c.agentCount++
		if c.agentCount-c.lastAtAgent >= t.agentEvery {
			c.lastAtAgent = c.agentCount
			reason = fmt.Sprintf("agent_interval_%d", c.agentCount)
		}
	case events.AgentCompleted:
		c.tokenCount += ev.Int("tokens_used")
		if c.tokenCount-c.lastAtToken >= t.tokenEvery {
			c.lastAtToken = c.tokenCount
			reason = "token_interval"
		}
	}
	consumed = c.tokenCount
	t.mu.Unlock()

	if reason != "" {
		t.fire(ev.SessionID, reason, consumed)
	}
	return nil
}

// Force fires a reference check immediately, bypassing the counters.
func (t *ReferenceTrigger) Force(sessionID string) {
	t.mu.Lock()
	consumed := 0
	if c, ok := t.state[sessionID]; ok {
		consumed = c.tokenCount
	}
	t.mu.Unlock()
	t.fire(sessionID, "forced", consumed)
}

func (t *ReferenceTrigger) fire(sessionID, reason string, consumedTokens int) {
	reqs, err := t.source.OpenRequirements(t.maxReqs)
	if err != nil {
		t.logger.Warn("reference check could not load requirements", zap.Error(err))
		return
	}
	if len(reqs) == 0 {
		return
	}

	t.publish(events.ReferenceCheckTriggered, sessionID, map[string]any{
		"reason":            reason,
		"requirement_count": len(reqs),
	})

	remaining := t.budget - consumedTokens
	if remaining < 0 {
		remaining = 0
	}
	prompt, promptTokens := t.renderPrompt(reqs, remaining)

	t.publish(events.ReferenceCheckCompleted, sessionID, map[string]any{
		"reason":        reason,
		"prompt":        prompt,
		"prompt_tokens": promptTokens,
	})
}

// renderPrompt builds the reference prompt, dropping the lowest-priority
// requirements until it fits in a slice of the remaining token budget.
func (t *ReferenceTrigger) renderPrompt(reqs []tasks.Requirement, remainingBudget int) (string, int) {
	// Spend at most 1% of what is left on the reminder.
	maxTokens := remainingBudget / 100
	if maxTokens < 64 {
		maxTokens = 64
	}

	for len(reqs) > 0 {
		prompt := formatRequirements(reqs)
		n := t.counter.Count(prompt)
		if n <= maxTokens || len(reqs) == 1 {
			return prompt, n
		}
		reqs = reqs[:len(reqs)-1]
	}
	return "", 0
}

func formatRequirements(reqs []tasks.Requirement) string {
	var b strings.Builder
	b.WriteString("Open requirements to keep in focus:\n")
	for _, r := range reqs {
		fmt.Fprintf(&b, "- [P%d] %s\n", r.Priority, r.Title)
		for _, c := range r.Criteria {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	return b.String()
}

func (t *ReferenceTrigger) publish(eventType, sessionID string, payload map[string]any) {
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		t.logger.Warn("failed to build reference event", zap.Error(err))
		return
	}
	if err := t.bus.Publish(ev); err != nil {
		t.logger.Warn("failed to publish reference event", zap.Error(err))
	}
}
