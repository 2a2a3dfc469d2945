// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package lifecycle owns the persistent agent registry and the state machine
// that governs agent status transitions:
//
//	pending → running → {paused ⇄ running} → completed | failed | terminated
//
// Terminal states are absorbing: attempts to leave them are no-ops.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/storage"
)

// Agent status values.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
)

// IsTerminal reports whether status is absorbing.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

var allowedTransitions = map[string][]string{
	StatusPending: {StatusRunning, StatusFailed, StatusTerminated},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusTerminated},
	StatusPaused:  {StatusRunning, StatusCompleted, StatusFailed, StatusTerminated},
}

// Budget holds optional per-agent limits enforced by the budget package.
type Budget struct {
	TokenLimit               int     `json:"token_limit,omitempty"`
	TimeLimitSeconds         float64 `json:"time_limit_seconds,omitempty"`
	CostLimitUSD             float64 `json:"cost_limit_usd,omitempty"`
	HeartbeatIntervalSeconds float64 `json:"heartbeat_interval_seconds,omitempty"`
	HeartbeatTimeoutSeconds  float64 `json:"heartbeat_timeout_seconds,omitempty"`
	SLATimeoutSeconds        float64 `json:"sla_timeout_seconds,omitempty"`
}

// Metrics accumulates what the agent has consumed so far.
type Metrics struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	TokensUsed          int     `json:"tokens_used"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	HeartbeatAgeSeconds float64 `json:"heartbeat_age_seconds"`
	CostUSD             float64 `json:"cost_usd"`
	ExitCode            *int    `json:"exit_code,omitempty"`
}

// AgentRecord is the persistent record of one agent.
type AgentRecord struct {
	AgentID       string         `json:"agent_id"`
	AgentType     string         `json:"agent_type"`
	Model         string         `json:"model,omitempty"`
	Status        string         `json:"status"`
	SessionID     string         `json:"session_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	Budget        *Budget        `json:"budget,omitempty"`
	Metrics       Metrics        `json:"metrics"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Publisher is the slice of the bus the registry emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// Registry stores agent records in a single JSON file with atomic writes.
type Registry struct {
	path   string
	bus    Publisher
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*AgentRecord
	handles *handleMap
}

// RegistryConfig configures the agent registry.
type RegistryConfig struct {
	// Path is the registry file, conventionally state/agents.json.
	Path string

	// Bus receives agent.completed / agent.failed on terminal transitions.
	// Optional.
	Bus Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// NewRegistry loads (or initializes) the registry at cfg.Path.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("registry path must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var records map[string]*AgentRecord
	err := storage.LoadJSON(cfg.Path, &records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load agent registry: %w", err)
	}
	if records == nil {
		records = make(map[string]*AgentRecord)
	}
	return &Registry{
		path:    cfg.Path,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		now:     cfg.Now,
		records: records,
		handles: newHandleMap(),
	}, nil
}

// Create registers a new pending agent and returns its record. The agent id
// is a timestamped token derived from the agent type.
func (r *Registry) Create(rec AgentRecord) (*AgentRecord, error) {
	if rec.AgentType == "" {
		return nil, fmt.Errorf("agent type must not be empty")
	}
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec.AgentID = r.nextIDLocked(rec.AgentType, now)
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.StartedAt = nil
	rec.CompletedAt = nil

	r.records[rec.AgentID] = &rec
	if err := r.saveLocked(); err != nil {
		delete(r.records, rec.AgentID)
		return nil, err
	}
	out := rec
	return &out, nil
}

// nextIDLocked builds ids like builder_20260824_153000, suffixing a counter
// on same-second collisions.
func (r *Registry) nextIDLocked(agentType string, now time.Time) string {
	base := fmt.Sprintf("%s_%s", agentType, now.Format("20060102_150405"))
	id := base
	for n := 2; ; n++ {
		if _, exists := r.records[id]; !exists {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Get returns a copy of the record.
func (r *Registry) Get(agentID string) (*AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	out := *rec
	return &out, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status    string
	SessionID string
	AgentType string
}

// List returns matching records, oldest first.
func (r *Registry) List(f Filter) []*AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*AgentRecord
	for _, rec := range r.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.SessionID != "" && rec.SessionID != f.SessionID {
			continue
		}
		if f.AgentType != "" && rec.AgentType != f.AgentType {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Update applies field changes outside the state machine. Terminal records
// accept only metrics and metadata mutations. Stamps updated_at.
type Update struct {
	Model    string
	TaskID   string
	Budget   *Budget
	Metrics  *Metrics
	Metadata map[string]any
}

// Apply merges an update into the record.
func (r *Registry) Apply(agentID string, u Update) (*AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	terminal := IsTerminal(rec.Status)
	if !terminal {
		if u.Model != "" {
			rec.Model = u.Model
		}
		if u.TaskID != "" {
			rec.TaskID = u.TaskID
		}
		if u.Budget != nil {
			rec.Budget = u.Budget
		}
	}
	if u.Metrics != nil {
		rec.Metrics = *u.Metrics
	}
	if u.Metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			rec.Metadata[k] = v
		}
	}
	rec.UpdatedAt = r.now().UTC()
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// AddUsage accumulates token usage and cost onto the record's metrics.
func (r *Registry) AddUsage(agentID string, inputTokens, outputTokens int, costUSD float64) (*AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	rec.Metrics.InputTokens += inputTokens
	rec.Metrics.OutputTokens += outputTokens
	rec.Metrics.TokensUsed += inputTokens + outputTokens
	rec.Metrics.CostUSD += costUSD
	rec.UpdatedAt = r.now().UTC()
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// RecordHeartbeat stamps last_heartbeat and updated_at.
func (r *Registry) RecordHeartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return fmt.Errorf("agent %s not found", agentID)
	}
	now := r.now().UTC()
	rec.LastHeartbeat = &now
	rec.UpdatedAt = now
	return r.saveLocked()
}

// Transition moves the agent to a new status, enforcing the state machine.
// Leaving a terminal state is a silent no-op: the unchanged record is
// returned and nothing is emitted. Entering running sets started_at once;
// entering a terminal state sets completed_at and emits agent.completed or
// agent.failed.
func (r *Registry) Transition(agentID, newStatus string, opts ...TransitionOption) (*AgentRecord, error) {
	var topt transitionOptions
	for _, opt := range opts {
		opt(&topt)
	}

	r.mu.Lock()
	rec, ok := r.records[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %s not found", agentID)
	}

	if IsTerminal(rec.Status) {
		out := *rec
		r.mu.Unlock()
		return &out, nil
	}
	if !transitionAllowed(rec.Status, newStatus) {
		from := rec.Status
		r.mu.Unlock()
		return nil, fmt.Errorf("invalid transition %s -> %s for agent %s", from, newStatus, agentID)
	}

	now := r.now().UTC()
	rec.Status = newStatus
	rec.UpdatedAt = now
	if newStatus == StatusRunning && rec.StartedAt == nil {
		rec.StartedAt = &now
	}

	var emit *events.Event
	if IsTerminal(newStatus) {
		rec.CompletedAt = &now
		if rec.StartedAt != nil {
			rec.Metrics.ElapsedSeconds = now.Sub(*rec.StartedAt).Seconds()
		}
		if topt.errMsg != "" {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata["error"] = topt.errMsg
		}
		emit = r.terminalEventLocked(rec, topt)
	}

	if err := r.saveLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	out := *rec
	r.mu.Unlock()

	if emit != nil && r.bus != nil {
		if err := r.bus.Publish(*emit); err != nil {
			r.logger.Warn("failed to publish lifecycle event",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return &out, nil
}

type transitionOptions struct {
	errMsg string
}

// TransitionOption customizes a transition.
type TransitionOption func(*transitionOptions)

// WithError attaches an error message to a failing transition.
func WithError(msg string) TransitionOption {
	return func(o *transitionOptions) { o.errMsg = msg }
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (r *Registry) terminalEventLocked(rec *AgentRecord, topt transitionOptions) *events.Event {
	sessionID := rec.SessionID
	if sessionID == "" {
		sessionID = "unsessioned"
	}
	payload := map[string]any{
		"agent":         rec.AgentID,
		"agent_type":    rec.AgentType,
		"model":         rec.Model,
		"duration_ms":   int(rec.Metrics.ElapsedSeconds * 1000),
		"input_tokens":  rec.Metrics.InputTokens,
		"output_tokens": rec.Metrics.OutputTokens,
		"tokens_used":   rec.Metrics.TokensUsed,
		"cost_usd":      rec.Metrics.CostUSD,
	}

	eventType := events.AgentFailed
	if rec.Status == StatusCompleted {
		eventType = events.AgentCompleted
	} else {
		reason := topt.errMsg
		if reason == "" && rec.Status == StatusTerminated {
			reason = "terminated"
		}
		payload["error"] = reason
	}
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		r.logger.Warn("failed to build lifecycle event", zap.Error(err))
		return nil
	}
	return &ev
}

func (r *Registry) saveLocked() error {
	return storage.SaveJSON(r.path, r.records)
}
