// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow executes DAGs of agent tasks. Ready tasks run in
// parallel rounds; each downstream task receives its dependencies' results.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/events"
)

// Phases of a workflow task.
const (
	PhaseScout = "scout"
	PhasePlan  = "plan"
	PhaseBuild = "build"
)

// Task statuses.
const (
	taskPending   = "pending"
	taskCompleted = "completed"
	taskFailed    = "failed"
)

// AgentTask is one node of the workflow DAG.
type AgentTask struct {
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	Phase     string         `json:"phase"` // scout | plan | build
	Spec      map[string]any `json:"task_spec,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// TaskContext is handed to each handler.
type TaskContext struct {
	// Dependencies maps dependency agent id to its result.
	Dependencies map[string]any `json:"dependencies"`
}

// Handler runs one agent type's work.
type Handler func(ctx context.Context, spec map[string]any, tctx TaskContext) (any, error)

// Publisher is the slice of the bus the coordinator emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// Workflow statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStuck     = "stuck"
)

// Result is the outcome of one workflow run.
type Result struct {
	WorkflowID string            `json:"workflow_id"`
	Status     string            `json:"status"`
	Results    map[string]any    `json:"results"`
	Errors     map[string]string `json:"errors,omitempty"`
	Order      []string          `json:"order"`
}

type taskState struct {
	task   AgentTask
	status string
	result any
	err    error
}

// Workflow is a validated DAG ready to execute.
type Workflow struct {
	ID        string
	SessionID string
	tasks     map[string]*taskState
	order     []string // creation order, for deterministic ready scans
}

// New validates the task graph: unique ids, known phases, existing
// dependencies, and no cycles.
func New(sessionID string, tasks []AgentTask) (*Workflow, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("workflow has no tasks")
	}

	states := make(map[string]*taskState, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.AgentID == "" {
			return nil, fmt.Errorf("task agent_id must not be empty")
		}
		if _, dup := states[task.AgentID]; dup {
			return nil, fmt.Errorf("duplicate task %s", task.AgentID)
		}
		switch task.Phase {
		case PhaseScout, PhasePlan, PhaseBuild:
		default:
			return nil, fmt.Errorf("task %s has invalid phase %q", task.AgentID, task.Phase)
		}
		states[task.AgentID] = &taskState{task: task, status: taskPending}
		order = append(order, task.AgentID)
	}

	for _, st := range states {
		for _, dep := range st.task.DependsOn {
			if _, ok := states[dep]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", st.task.AgentID, dep)
			}
		}
	}
	if cycle := findCycle(states); cycle != "" {
		return nil, fmt.Errorf("workflow contains a cycle through %s", cycle)
	}

	return &Workflow{
		ID:        "wf_" + uuid.NewString()[:8],
		SessionID: sessionID,
		tasks:     states,
		order:     order,
	}, nil
}

// findCycle runs DFS over the dependency edges; a back-edge names the cycle.
func findCycle(states map[string]*taskState) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(states))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = inStack
		for _, dep := range states[id].task.DependsOn {
			switch color[dep] {
			case inStack:
				return dep
			case unvisited:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = done
		return ""
	}

	for id := range states {
		if color[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Coordinator owns the agent-type handler registry and runs workflows.
type Coordinator struct {
	bus    Publisher
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// CoordinatorConfig configures the workflow coordinator.
type CoordinatorConfig struct {
	// Bus receives the workflow and per-task agent events. Optional.
	Bus Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewCoordinator creates a workflow coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Coordinator{
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds an agent type to its implementation.
func (c *Coordinator) RegisterHandler(agentType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[agentType] = h
}

func (c *Coordinator) handler(agentType string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[agentType]
	return h, ok
}

// Execute runs the workflow to completion: rounds of parallel execution of
// every pending task whose dependencies completed. When no task is ready but
// some remain pending, a dependency failed and the workflow is stuck.
func (c *Coordinator) Execute(ctx context.Context, wf *Workflow) (*Result, error) {
	start := time.Now()
	c.publish(events.WorkflowStarted, wf, map[string]any{
		"workflow_id": wf.ID,
		"task_count":  len(wf.tasks),
	})

	var completionOrder []string
	for {
		ready := c.readyTasks(wf)
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, id := range ready {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				c.runTask(ctx, wf, wf.tasks[id])
				if wf.tasks[id].status == taskCompleted {
					mu.Lock()
					completionOrder = append(completionOrder, id)
					mu.Unlock()
				}
			}(id)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	result := &Result{
		WorkflowID: wf.ID,
		Results:    make(map[string]any),
		Errors:     make(map[string]string),
		Order:      completionOrder,
	}
	pending, failed := 0, 0
	for id, st := range wf.tasks {
		switch st.status {
		case taskPending:
			pending++
		case taskFailed:
			failed++
			result.Errors[id] = st.err.Error()
		case taskCompleted:
			result.Results[id] = st.result
		}
	}
	switch {
	case pending > 0:
		result.Status = StatusStuck
	case failed > 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusCompleted
	}

	c.publish(events.WorkflowCompleted, wf, map[string]any{
		"workflow_id": wf.ID,
		"completed":   len(result.Results),
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

// readyTasks returns pending tasks whose dependencies all completed, in
// creation order.
func (c *Coordinator) readyTasks(wf *Workflow) []string {
	var ready []string
	for _, id := range wf.order {
		st := wf.tasks[id]
		if st.status != taskPending {
			continue
		}
		ok := true
		for _, dep := range st.task.DependsOn {
			if wf.tasks[dep].status != taskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

func (c *Coordinator) runTask(ctx context.Context, wf *Workflow, st *taskState) {
	task := st.task
	c.publish(events.AgentInvoked, wf, map[string]any{
		"agent":      task.AgentID,
		"agent_type": task.AgentType,
		"reason":     task.Phase,
	})

	handler, ok := c.handler(task.AgentType)
	if !ok {
		st.status = taskFailed
		st.err = fmt.Errorf("no handler registered for agent type %s", task.AgentType)
		c.publishTaskFailure(wf, task, st.err, 0)
		return
	}

	deps := make(map[string]any, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		deps[dep] = wf.tasks[dep].result
	}

	start := time.Now()
	result, err := func() (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ctx, task.Spec, TaskContext{Dependencies: deps})
	}()
	duration := time.Since(start)

	if err != nil {
		st.status = taskFailed
		st.err = err
		c.logger.Warn("workflow task failed",
			zap.String("workflow_id", wf.ID),
			zap.String("agent", task.AgentID),
			zap.Error(err))
		c.publishTaskFailure(wf, task, err, duration)
		return
	}
	st.status = taskCompleted
	st.result = result
	c.publish(events.AgentCompleted, wf, map[string]any{
		"agent":       task.AgentID,
		"duration_ms": duration.Milliseconds(),
	})
}

func (c *Coordinator) publishTaskFailure(wf *Workflow, task AgentTask, err error, duration time.Duration) {
	c.publish(events.AgentFailed, wf, map[string]any{
		"agent":       task.AgentID,
		"error":       err.Error(),
		"duration_ms": duration.Milliseconds(),
	})
}

func (c *Coordinator) publish(eventType string, wf *Workflow, payload map[string]any) {
	if c.bus == nil {
		return
	}
	ev, err := events.New(eventType, wf.SessionID, payload)
	if err != nil {
		c.logger.Warn("failed to build workflow event", zap.Error(err))
		return
	}
	if err := c.bus.Publish(ev.WithTrace(wf.ID)); err != nil {
		c.logger.Warn("failed to publish workflow event", zap.Error(err))
	}
}
