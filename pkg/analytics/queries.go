// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AgentPerformance summarizes one agent's aggregate behavior.
type AgentPerformance struct {
	Agent         string  `json:"agent"`
	Invocations   int     `json:"invocations"`
	Failures      int     `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int     `json:"total_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// ToolEffectiveness summarizes one tool's aggregate behavior.
type ToolEffectiveness struct {
	Tool          string  `json:"tool"`
	Calls         int     `json:"calls"`
	Successes     int     `json:"successes"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ErrorPattern summarizes occurrences of one error type.
type ErrorPattern struct {
	ErrorType string    `json:"error_type"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionSummary aggregates one session's activity.
type SessionSummary struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	AgentRuns   int        `json:"agent_runs"`
	ToolCalls   int        `json:"tool_calls"`
	Errors      int        `json:"errors"`
	TotalTokens int        `json:"total_tokens"`
	CostUSD     float64    `json:"cost_usd"`
}

// QueryAgentPerformance returns per-agent aggregates, optionally scoped to a
// session, ordered by invocation count.
func (s *Store) QueryAgentPerformance(ctx context.Context, sessionID string) ([]AgentPerformance, error) {
	query := `
		SELECT agent,
		       COUNT(*),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       COALESCE(AVG(duration_ms), 0),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM agent_usage`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY agent ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent performance: %w", err)
	}
	defer rows.Close()

	var out []AgentPerformance
	for rows.Next() {
		var p AgentPerformance
		if err := rows.Scan(&p.Agent, &p.Invocations, &p.Failures, &p.AvgDurationMs, &p.TotalTokens, &p.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan agent performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueryToolEffectiveness returns per-tool aggregates ordered by call count.
func (s *Store) QueryToolEffectiveness(ctx context.Context, sessionID string) ([]ToolEffectiveness, error) {
	query := `
		SELECT tool,
		       COUNT(*),
		       SUM(success),
		       COALESCE(AVG(duration_ms), 0)
		FROM tool_usage`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY tool ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tool effectiveness: %w", err)
	}
	defer rows.Close()

	var out []ToolEffectiveness
	for rows.Next() {
		var t ToolEffectiveness
		if err := rows.Scan(&t.Tool, &t.Calls, &t.Successes, &t.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan tool effectiveness: %w", err)
		}
		if t.Calls > 0 {
			t.SuccessRate = float64(t.Successes) / float64(t.Calls)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// QueryErrorPatterns returns error types by frequency.
func (s *Store) QueryErrorPatterns(ctx context.Context, sessionID string) ([]ErrorPattern, error) {
	query := `
		SELECT error_type, COUNT(*), MAX(recorded_at)
		FROM error_patterns`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY error_type ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error patterns: %w", err)
	}
	defer rows.Close()

	var out []ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		var lastSeen int64
		if err := rows.Scan(&p.ErrorType, &p.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan error pattern: %w", err)
		}
		p.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// QuerySessionSummary aggregates one session across all tables.
func (s *Store) QuerySessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	summary := &SessionSummary{SessionID: sessionID}

	var startedAt, endedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT status, started_at, ended_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&summary.Status, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	summary.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt > 0 {
		t := time.Unix(endedAt, 0).UTC()
		summary.EndedAt = &t
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_usd), 0)
		 FROM agent_usage WHERE session_id = ?`, sessionID).
		Scan(&summary.AgentRuns, &summary.TotalTokens, &summary.CostUSD)
	if err != nil {
		return nil, fmt.Errorf("query session agents: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_usage WHERE session_id = ?`, sessionID).
		Scan(&summary.ToolCalls); err != nil {
		return nil, fmt.Errorf("query session tools: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM error_patterns WHERE session_id = ?`, sessionID).
		Scan(&summary.Errors); err != nil {
		return nil, fmt.Errorf("query session errors: %w", err)
	}

	return summary, nil
}
