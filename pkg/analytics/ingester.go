// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package analytics

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// Ingester is the bus subscriber that batches event rows into the store.
// Flushes happen when the combined buffer size reaches BatchSize or at
// shutdown. A failed commit drops the batch — the JSONL log remains the
// source of truth — and increments the error count.
type Ingester struct {
	store     *Store
	batchSize int
	logger    *zap.Logger

	mu       sync.Mutex
	agents   []agentRow
	tools    []toolRow
	errors   []errorRow
	sessions []sessionOp

	errorCount atomic.Uint64
}

// IngesterConfig configures the ingester.
type IngesterConfig struct {
	Store *Store

	// BatchSize is the combined buffered row count that forces a flush.
	// Default 100.
	BatchSize int

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewIngester creates an ingester over an open store.
func NewIngester(cfg IngesterConfig) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Ingester{
		store:     cfg.Store,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// Register subscribes the ingester to the event types it aggregates.
func (in *Ingester) Register(b *bus.Bus) {
	for _, eventType := range []string{
		events.AgentCompleted,
		events.AgentFailed,
		events.AgentTimeout,
		events.ToolUsed,
		events.ToolError,
		events.SessionStarted,
		events.SessionEnded,
	} {
		b.Subscribe(eventType, in.Handle, bus.WithBlocking())
	}
}

// Handle buffers one event's rows and flushes when the batch is full.
func (in *Ingester) Handle(ctx context.Context, ev events.Event) error {
	in.mu.Lock()
	switch ev.Type {
	case events.AgentCompleted:
		in.agents = append(in.agents, agentRowFrom(ev, "completed"))
	case events.AgentFailed, events.AgentTimeout:
		status := "failed"
		if ev.Type == events.AgentTimeout {
			status = "timeout"
		}
		in.agents = append(in.agents, agentRowFrom(ev, status))
		in.errors = append(in.errors, errorRow{
			sessionID:  ev.SessionID,
			source:     ev.String("agent"),
			errorType:  errorTypeOf(ev),
			message:    ev.String("error"),
			recordedAt: ev.Timestamp,
		})
	case events.ToolUsed, events.ToolError:
		row := toolRow{
			sessionID:  ev.SessionID,
			agent:      ev.String("agent"),
			tool:       ev.String("tool"),
			operation:  ev.String("operation"),
			filePath:   ev.String("file_path"),
			success:    ev.Bool("success"),
			durationMs: ev.Float("duration_ms"),
			errorType:  ev.String("error_type"),
			recordedAt: ev.Timestamp,
		}
		in.tools = append(in.tools, row)
		// Tool failures feed the error table too.
		if !row.success {
			in.errors = append(in.errors, errorRow{
				sessionID:  ev.SessionID,
				source:     row.tool,
				errorType:  errorTypeOf(ev),
				message:    ev.String("error"),
				recordedAt: ev.Timestamp,
			})
		}
	case events.SessionStarted:
		in.sessions = append(in.sessions, sessionOp{sessionID: ev.SessionID, start: true, at: ev.Timestamp})
	case events.SessionEnded:
		status := ev.String("status")
		if status == "" {
			status = "completed"
		}
		in.sessions = append(in.sessions, sessionOp{sessionID: ev.SessionID, status: status, at: ev.Timestamp})
	}
	full := len(in.agents)+len(in.tools)+len(in.errors)+len(in.sessions) >= in.batchSize
	in.mu.Unlock()

	if full {
		in.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows, one transaction per table.
func (in *Ingester) Flush(ctx context.Context) {
	in.mu.Lock()
	agents, tools, errs, sessions := in.agents, in.tools, in.errors, in.sessions
	in.agents, in.tools, in.errors, in.sessions = nil, nil, nil, nil
	in.mu.Unlock()

	// Session rows first so foreign aggregates always have their session.
	if len(sessions) > 0 {
		in.commit(func() error { return in.store.applySessionOps(ctx, sessions) }, "sessions", len(sessions))
	}
	if len(agents) > 0 {
		in.commit(func() error { return in.store.insertAgentRows(ctx, agents) }, "agent_usage", len(agents))
	}
	if len(tools) > 0 {
		in.commit(func() error { return in.store.insertToolRows(ctx, tools) }, "tool_usage", len(tools))
	}
	if len(errs) > 0 {
		in.commit(func() error { return in.store.insertErrorRows(ctx, errs) }, "error_patterns", len(errs))
	}
}

// Close flushes remaining rows.
func (in *Ingester) Close() {
	in.Flush(context.Background())
}

// ErrorCount returns the number of dropped batches.
func (in *Ingester) ErrorCount() uint64 {
	return in.errorCount.Load()
}

func (in *Ingester) commit(insert func() error, table string, rows int) {
	if err := insert(); err != nil {
		in.errorCount.Add(1)
		in.logger.Warn("dropping analytics batch",
			zap.String("table", table),
			zap.Int("rows", rows),
			zap.Error(err))
	}
}

func agentRowFrom(ev events.Event, status string) agentRow {
	return agentRow{
		sessionID:    ev.SessionID,
		agent:        ev.String("agent"),
		agentType:    ev.String("agent_type"),
		model:        ev.String("model"),
		status:       status,
		inputTokens:  ev.Int("input_tokens"),
		outputTokens: ev.Int("output_tokens"),
		tokensUsed:   ev.Int("tokens_used"),
		durationMs:   ev.Float("duration_ms"),
		costUSD:      ev.Float("cost_usd"),
		recordedAt:   ev.Timestamp,
	}
}

func errorTypeOf(ev events.Event) string {
	if t := ev.String("error_type"); t != "" {
		return t
	}
	return "unknown"
}
