// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package trigger holds the bus subscribers whose output is more events:
// automatic snapshots and reference checks.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/snapshot"
)

// SnapshotCreator is the slice of the snapshot manager the trigger needs.
type SnapshotCreator interface {
	Create(sessionID, trigger string, sctx snapshot.Context) (*snapshot.Snapshot, error)
}

// Publisher is the slice of the bus the triggers need for emitting.
type Publisher interface {
	Publish(ev events.Event) error
}

// SnapshotTrigger snapshots a session every N agent invocations, every M
// tokens consumed, and on token warnings at or above 70 percent.
type SnapshotTrigger struct {
	snapshots  SnapshotCreator
	bus        Publisher
	agentEvery int
	tokenEvery int
	logger     *zap.Logger

	mu    sync.Mutex
	state map[string]*sessionCounters
}

type sessionCounters struct {
	agentCount          int
	lastSnapshotAtAgent int
	tokenCount          int
	lastSnapshotAtToken int
}

// SnapshotTriggerConfig configures the snapshot trigger.
type SnapshotTriggerConfig struct {
	Snapshots SnapshotCreator
	Bus       Publisher

	// AgentInterval snapshots every N agent invocations. Default 10.
	AgentInterval int

	// TokenInterval snapshots every M tokens consumed. Default 20000.
	TokenInterval int

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewSnapshotTrigger creates the snapshot trigger subscriber.
func NewSnapshotTrigger(cfg SnapshotTriggerConfig) *SnapshotTrigger {
	if cfg.AgentInterval <= 0 {
		cfg.AgentInterval = 10
	}
	if cfg.TokenInterval <= 0 {
		cfg.TokenInterval = 20000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SnapshotTrigger{
		snapshots:  cfg.Snapshots,
		bus:        cfg.Bus,
		agentEvery: cfg.AgentInterval,
		tokenEvery: cfg.TokenInterval,
		logger:     cfg.Logger,
		state:      make(map[string]*sessionCounters),
	}
}

// Register subscribes the trigger. Snapshot creation does file I/O, so the
// handlers run on the worker pool, off the dispatch goroutine.
func (t *SnapshotTrigger) Register(b *bus.Bus) {
	b.Subscribe(events.AgentInvoked, t.Handle, bus.WithBlocking())
	b.Subscribe(events.AgentCompleted, t.Handle, bus.WithBlocking())
	b.Subscribe(events.SessionTokenWarning, t.Handle, bus.WithBlocking())
}

// Handle updates counters and creates a snapshot when a threshold is crossed.
func (t *SnapshotTrigger) Handle(_ context.Context, ev events.Event) error {
	switch ev.Type {
	case events.AgentInvoked:
		t.mu.Lock()
		c := t.countersLocked(ev.SessionID)
		c.agentCount++
		fire := c.agentCount-c.lastSnapshotAtAgent >= t.agentEvery
		if fire {
			c.lastSnapshotAtAgent = c.agentCount
		}
		snapCtx := snapshot.Context{AgentCount: c.agentCount, TokenCount: c.tokenCount}
		t.mu.Unlock()
		if fire {
			t.fire(ev.SessionID, fmt.Sprintf("agent_count_%d", snapCtx.AgentCount), snapCtx)
		}

	case events.AgentCompleted:
		t.mu.Lock()
		c := t.countersLocked(ev.SessionID)
		c.tokenCount += ev.Int("tokens_used")
		fire := c.tokenCount-c.lastSnapshotAtToken >= t.tokenEvery
		if fire {
			c.lastSnapshotAtToken = c.tokenCount
		}
		snapCtx := snapshot.Context{AgentCount: c.agentCount, TokenCount: c.tokenCount}
		t.mu.Unlock()
		if fire {
			t.fire(ev.SessionID, "token_count", snapCtx)
		}

	case events.SessionTokenWarning:
		pct := ev.Int("percent")
		if pct < 70 {
			return nil
		}
		t.mu.Lock()
		c := t.countersLocked(ev.SessionID)
		snapCtx := snapshot.Context{AgentCount: c.agentCount, TokenCount: c.tokenCount}
		t.mu.Unlock()
		t.fire(ev.SessionID, fmt.Sprintf("token_limit_%d", pct), snapCtx)
	}
	return nil
}

func (t *SnapshotTrigger) countersLocked(sessionID string) *sessionCounters {
	c, ok := t.state[sessionID]
	if !ok {
		c = &sessionCounters{}
		t.state[sessionID] = c
	}
	return c
}

// fire creates the snapshot and reports the outcome on the bus.
func (t *SnapshotTrigger) fire(sessionID, reason string, sctx snapshot.Context) {
	snap, err := t.snapshots.Create(sessionID, reason, sctx)
	if err != nil {
		t.logger.Warn("snapshot trigger failed",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
			zap.Error(err))
		t.publish(events.SnapshotFailed, sessionID, map[string]any{
			"trigger": reason,
			"error":   err.Error(),
		})
		return
	}
	t.publish(events.SnapshotCreated, sessionID, map[string]any{
		"snapshot_id": snap.SnapshotID,
		"trigger":     reason,
		"agent_count": snap.AgentCount,
		"token_count": snap.TokenCount,
	})
}

func (t *SnapshotTrigger) publish(eventType, sessionID string, payload map[string]any) {
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		t.logger.Warn("failed to build trigger event", zap.Error(err))
		return
	}
	if err := t.bus.Publish(ev); err != nil {
		t.logger.Warn("failed to publish trigger event", zap.Error(err))
	}
}
