// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/subagent/pkg/cost"
	"github.com/teradata-labs/subagent/pkg/lifecycle"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func fixedEnforcer() *Enforcer {
	return NewEnforcer(EnforcerConfig{Now: func() time.Time { return testNow }})
}

func runningAgent(b *lifecycle.Budget) *lifecycle.AgentRecord {
	started := testNow.Add(-30 * time.Second)
	return &lifecycle.AgentRecord{
		AgentID:   "builder_20260824_115930",
		AgentType: "builder",
		Status:    lifecycle.StatusRunning,
		StartedAt: &started,
		Budget:    b,
	}
}

func TestNoBudgetNeverBreaches(t *testing.T) {
	rec := runningAgent(nil)
	rec.Metrics.TokensUsed = 1_000_000

	result := fixedEnforcer().Evaluate(rec)
	assert.False(t, result.Exceeded)
	assert.Empty(t, result.Alerts)
	assert.InDelta(t, 30.0, result.Metrics.ElapsedSeconds, 0.001, "derived metrics still computed")
}

func TestTokenLimitBreach(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{TokenLimit: 5})
	rec.Metrics.TokensUsed = 10

	result := fixedEnforcer().Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonTokenLimit, result.Reason)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, SeverityHard, result.Alerts[0].Severity)
	assert.Equal(t, 10.0, result.Alerts[0].Actual)
}

func TestTimeLimitBreach(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{TimeLimitSeconds: 10})

	result := fixedEnforcer().Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonTimeLimit, result.Reason)
}

func TestCostLimitBackfilledFromPricing(t *testing.T) {
	e := NewEnforcer(EnforcerConfig{
		Pricing: cost.DefaultPricing(),
		Now:     func() time.Time { return testNow },
	})
	rec := runningAgent(&lifecycle.Budget{CostLimitUSD: 0.01})
	rec.Model = "claude-sonnet-4-6"
	rec.Metrics.InputTokens = 10_000
	rec.Metrics.OutputTokens = 10_000 // $0.03 + $0.15

	result := e.Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonCostLimit, result.Reason)
	assert.InDelta(t, 0.18, result.Metrics.CostUSD, 1e-9)
}

func TestHeartbeatTimeoutIsDistinguishable(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{HeartbeatTimeoutSeconds: 5})
	stale := testNow.Add(-20 * time.Second)
	rec.LastHeartbeat = &stale

	result := fixedEnforcer().Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonHeartbeatTimeout, result.Reason)
	assert.True(t, result.HeartbeatTimedOut())
	assert.InDelta(t, 20.0, result.Metrics.HeartbeatAgeSeconds, 0.001)
}

func TestHeartbeatIntervalIsSoft(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{HeartbeatIntervalSeconds: 5})
	stale := testNow.Add(-10 * time.Second)
	rec.LastHeartbeat = &stale

	result := fixedEnforcer().Evaluate(rec)
	assert.False(t, result.Exceeded, "soft alert does not terminate")
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, ReasonHeartbeatInterval, result.Alerts[0].Reason)
	assert.Equal(t, SeveritySoft, result.Alerts[0].Severity)
}

func TestNoHeartbeatRecordedMeansNoHeartbeatAlerts(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{
		HeartbeatTimeoutSeconds:  5,
		HeartbeatIntervalSeconds: 1,
	})

	result := fixedEnforcer().Evaluate(rec)
	assert.False(t, result.Exceeded)
	assert.Empty(t, result.Alerts)
}

func TestMultipleHardAlertsTieBreak(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{
		TokenLimit:       5,
		TimeLimitSeconds: 10,
	})
	rec.Metrics.TokensUsed = 10

	result := fixedEnforcer().Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonMultipleLimits, result.Reason)
	assert.Len(t, result.Alerts, 2)
	assert.False(t, result.HeartbeatTimedOut())
}

func TestSLATimeout(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{SLATimeoutSeconds: 15})

	result := fixedEnforcer().Evaluate(rec)
	require.True(t, result.Exceeded)
	assert.Equal(t, ReasonSLATimeout, result.Reason)
}

func TestWithinBudgetNoAlerts(t *testing.T) {
	rec := runningAgent(&lifecycle.Budget{
		TokenLimit:       10_000,
		TimeLimitSeconds: 600,
		CostLimitUSD:     5,
	})
	rec.Metrics.TokensUsed = 100

	result := fixedEnforcer().Evaluate(rec)
	assert.False(t, result.Exceeded)
	assert.Empty(t, result.Reason)
	assert.Empty(t, result.Alerts)
}
