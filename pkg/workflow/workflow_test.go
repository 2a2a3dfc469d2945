// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

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

func setupTestCoordinator(t *testing.T) (*Coordinator, *recordingBus) {
	t.Helper()
	rec := &recordingBus{}
	c := NewCoordinator(CoordinatorConfig{Bus: rec, Logger: zaptest.NewLogger(t)})
	return c, rec
}

// echoHandler returns its spec plus the dependency results it saw.
func echoHandler(_ context.Context, spec map[string]any, tctx TaskContext) (any, error) {
	return map[string]any{"spec": spec, "deps": tctx.Dependencies}, nil
}

func TestNewRejectsBadGraphs(t *testing.T) {
	_, err := New("session_1", nil)
	require.Error(t, err, "empty workflow")

	_, err = New("session_1", []AgentTask{
		{AgentID: "a", AgentType: "scout", Phase: "recon"},
	})
	require.Error(t, err, "invalid phase")

	_, err = New("session_1", []AgentTask{
		{AgentID: "a", AgentType: "scout", Phase: PhaseScout, DependsOn: []string{"ghost"}},
	})
	require.Error(t, err, "unknown dependency")

	_, err = New("session_1", []AgentTask{
		{AgentID: "a", AgentType: "scout", Phase: PhaseScout},
		{AgentID: "a", AgentType: "scout", Phase: PhaseScout},
	})
	require.Error(t, err, "duplicate id")
}

func TestNewRejectsCycles(t *testing.T) {
	_, err := New("session_1", []AgentTask{
		{AgentID: "a", AgentType: "scout", Phase: PhaseScout, DependsOn: []string{"c"}},
		{AgentID: "b", AgentType: "plan", Phase: PhasePlan, DependsOn: []string{"a"}},
		{AgentID: "c", AgentType: "build", Phase: PhaseBuild, DependsOn: []string{"b"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	_, err = New("session_1", []AgentTask{
		{AgentID: "a", AgentType: "scout", Phase: PhaseScout, DependsOn: []string{"a"}},
	})
	require.Error(t, err, "self-dependency")
}

// scout_1 → plan_1 → build_1 completes in dependency order and each
// downstream task sees the upstream result.
func TestChainCompletesInOrderWithContextPassing(t *testing.T) {
	c, rec := setupTestCoordinator(t)
	for _, agentType := range []string{"scout", "plan", "build"} {
		c.RegisterHandler(agentType, echoHandler)
	}

	wf, err := New("session_1", []AgentTask{
		{AgentID: "scout_1", AgentType: "scout", Phase: PhaseScout, Spec: map[string]any{"target": "repo"}},
		{AgentID: "plan_1", AgentType: "plan", Phase: PhasePlan, DependsOn: []string{"scout_1"}},
		{AgentID: "build_1", AgentType: "build", Phase: PhaseBuild, DependsOn: []string{"plan_1"}},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"scout_1", "plan_1", "build_1"}, result.Order)

	planOut, ok := result.Results["plan_1"].(map[string]any)
	require.True(t, ok)
	deps, ok := planOut["deps"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, deps, "scout_1", "plan saw scout's result")
	scoutOut, ok := deps["scout_1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"target": "repo"}, scoutOut["spec"])

	invoked := rec.byType(events.AgentInvoked)
	require.Len(t, invoked, 3)
	for _, ev := range invoked {
		assert.Equal(t, wf.ID, ev.TraceID, "workflow id carried as trace")
	}
	require.Len(t, rec.byType(events.WorkflowStarted), 1)
	completedEv := rec.byType(events.WorkflowCompleted)
	require.Len(t, completedEv, 1)
	assert.Equal(t, 3, completedEv[0].Int("completed"))
}

func TestIndependentTasksRunInParallel(t *testing.T) {
	c, _ := setupTestCoordinator(t)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	barrier := make(chan struct{})
	c.RegisterHandler("scout", func(_ context.Context, _ map[string]any, _ TaskContext) (any, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		ready := inFlight == 2
		mu.Unlock()
		if ready {
			close(barrier)
		}
		<-barrier
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", nil
	})

	wf, err := New("session_1", []AgentTask{
		{AgentID: "scout_a", AgentType: "scout", Phase: PhaseScout},
		{AgentID: "scout_b", AgentType: "scout", Phase: PhaseScout},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, maxInFlight, "both ready tasks ran concurrently")
}

func TestFailedDependencyLeavesWorkflowStuck(t *testing.T) {
	c, rec := setupTestCoordinator(t)
	c.RegisterHandler("scout", func(_ context.Context, _ map[string]any, _ TaskContext) (any, error) {
		return nil, fmt.Errorf("repository unreachable")
	})
	c.RegisterHandler("plan", echoHandler)

	wf, err := New("session_1", []AgentTask{
		{AgentID: "scout_1", AgentType: "scout", Phase: PhaseScout},
		{AgentID: "plan_1", AgentType: "plan", Phase: PhasePlan, DependsOn: []string{"scout_1"}},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusStuck, result.Status)
	assert.Contains(t, result.Errors["scout_1"], "unreachable")
	assert.Empty(t, result.Order)

	require.Len(t, rec.byType(events.AgentFailed), 1)
	assert.Len(t, rec.byType(events.AgentInvoked), 1, "downstream never started")
}

func TestMissingHandlerFailsTask(t *testing.T) {
	c, _ := setupTestCoordinator(t)

	wf, err := New("session_1", []AgentTask{
		{AgentID: "scout_1", AgentType: "scout", Phase: PhaseScout},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Errors["scout_1"], "no handler")
}

func TestHandlerPanicBecomesTaskFailure(t *testing.T) {
	c, _ := setupTestCoordinator(t)
	c.RegisterHandler("scout", func(_ context.Context, _ map[string]any, _ TaskContext) (any, error) {
		panic("scout exploded")
	})

	wf, err := New("session_1", []AgentTask{
		{AgentID: "scout_1", AgentType: "scout", Phase: PhaseScout},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Errors["scout_1"], "panic")
}

func TestDiamondDependency(t *testing.T) {
	c, _ := setupTestCoordinator(t)
	for _, agentType := range []string{"scout", "plan", "build"} {
		c.RegisterHandler(agentType, echoHandler)
	}

	wf, err := New("session_1", []AgentTask{
		{AgentID: "root", AgentType: "scout", Phase: PhaseScout},
		{AgentID: "left", AgentType: "plan", Phase: PhasePlan, DependsOn: []string{"root"}},
		{AgentID: "right", AgentType: "plan", Phase: PhasePlan, DependsOn: []string{"root"}},
		{AgentID: "merge", AgentType: "build", Phase: PhaseBuild, DependsOn: []string{"left", "right"}},
	})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Order, 4)
	assert.Equal(t, "root", result.Order[0])
	assert.Equal(t, "merge", result.Order[3])

	mergeOut := result.Results["merge"].(map[string]any)
	deps := mergeOut["deps"].(map[string]any)
	assert.Len(t, deps, 2)
}
