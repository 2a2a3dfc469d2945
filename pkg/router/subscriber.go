// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package router

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// Publisher is the slice of the bus the subscriber emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// qualityPatterns mark failures where a stronger model would plausibly
// have succeeded, as opposed to infrastructure errors.
var qualityPatterns = []string{
	"incorrect",
	"wrong answer",
	"hallucin",
	"failed validation",
	"did not follow",
	"incomplete output",
	"low quality",
	"malformed",
}

// Subscriber turns agent.invoked into model.selected and recommends tier
// upgrades on quality failures, once per agent per session.
type Subscriber struct {
	router *Router
	bus    Publisher
	logger *zap.Logger

	mu        sync.Mutex
	upgraded  map[string]struct{} // session\x00agent
	weakFails map[string]struct{} // session\x00task type
}

// SubscriberConfig configures the router subscriber.
type SubscriberConfig struct {
	Router *Router
	Bus    Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewSubscriber creates the routing subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.Router == nil {
		cfg.Router = NewRouter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Subscriber{
		router:    cfg.Router,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		upgraded:  make(map[string]struct{}),
		weakFails: make(map[string]struct{}),
	}
}

// Register subscribes to the routing-relevant events.
func (s *Subscriber) Register(b *bus.Bus) {
	b.Subscribe(events.AgentInvoked, s.Handle)
	b.Subscribe(events.AgentFailed, s.Handle)
}

// Handle routes invocations and inspects failures.
func (s *Subscriber) Handle(_ context.Context, ev events.Event) error {
	switch ev.Type {
	case events.AgentInvoked:
		s.handleInvoked(ev)
	case events.AgentFailed:
		s.handleFailed(ev)
	}
	return nil
}

func (s *Subscriber) handleInvoked(ev events.Event) {
	taskType := ev.String("task_type")
	if taskType == "" {
		taskType = ev.String("agent_type")
	}
	task := Task{
		Type:          taskType,
		ContextTokens: ev.Int("context_tokens"),
		Files:         fileList(ev),
	}

	s.mu.Lock()
	_, task.WeakTierFailed = s.weakFails[ev.SessionID+"\x00"+taskType]
	s.mu.Unlock()

	sel := s.router.Route(task)
	if sel.Model == "" {
		s.logger.Warn("no model configured for tier",
			zap.String("tier", sel.Tier),
			zap.String("task_type", taskType))
		return
	}
	s.publish(events.ModelSelected, ev.SessionID, map[string]any{
		"model":      sel.Model,
		"tier":       sel.Tier,
		"complexity": sel.Complexity,
		"agent":      ev.String("agent"),
	})
}

func (s *Subscriber) handleFailed(ev events.Event) {
	if !matchesQualityPattern(ev.String("error")) {
		return
	}

	agent := ev.String("agent")
	taskType := ev.String("task_type")
	if taskType == "" {
		taskType = ev.String("agent_type")
	}
	currentTier := ev.String("tier")
	if currentTier == "" {
		currentTier = TierWeak
	}

	s.mu.Lock()
	if currentTier == TierWeak && taskType != "" {
		s.weakFails[ev.SessionID+"\x00"+taskType] = struct{}{}
	}
	key := ev.SessionID + "\x00" + agent
	if _, done := s.upgraded[key]; done {
		s.mu.Unlock()
		return
	}
	s.upgraded[key] = struct{}{}
	s.mu.Unlock()

	s.publish(events.ModelTierUpgrade, ev.SessionID, map[string]any{
		"agent":     agent,
		"from_tier": currentTier,
		"to_tier":   UpgradeTier(currentTier),
		"reason":    "quality_failure",
	})
}

func matchesQualityPattern(errText string) bool {
	lower := strings.ToLower(errText)
	for _, pattern := range qualityPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func fileList(ev events.Event) []string {
	raw, ok := ev.Payload["files"].([]any)
	if !ok {
		if typed, ok := ev.Payload["files"].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Subscriber) publish(eventType, sessionID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		s.logger.Warn("failed to build routing event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Warn("failed to publish routing event", zap.Error(err))
	}
}
