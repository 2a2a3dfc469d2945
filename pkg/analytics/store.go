// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package analytics ingests bus events into SQLite aggregate tables and
// exposes a read-only query surface over them. The tables are derived data:
// everything here can be rebuilt from the JSONL event log.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/subagent/internal/sqlitedriver"
)

// Store persists aggregated event rows to SQLite.
// Uses WAL mode for concurrent read/write access; writes serialize behind an
// internal mutex.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore opens (creating if needed) the analytics database at dbPath,
// typically {data dir}/analytics/tracking.db.
func NewStore(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create analytics directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the aggregate tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		agent_type TEXT,
		model TEXT,
		status TEXT NOT NULL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		tokens_used INTEGER DEFAULT 0,
		duration_ms REAL DEFAULT 0,
		cost_usd REAL DEFAULT 0,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_usage_session ON agent_usage(session_id);
	CREATE INDEX IF NOT EXISTS idx_agent_usage_agent ON agent_usage(agent);

	CREATE TABLE IF NOT EXISTS tool_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		agent TEXT,
		tool TEXT NOT NULL,
		operation TEXT,
		file_path TEXT,
		success INTEGER NOT NULL,
		duration_ms REAL DEFAULT 0,
		error_type TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_usage_session ON tool_usage(session_id);
	CREATE INDEX IF NOT EXISTS idx_tool_usage_tool ON tool_usage(tool);

	CREATE TABLE IF NOT EXISTS error_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		source TEXT NOT NULL,
		error_type TEXT NOT NULL,
		message TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_error_patterns_type ON error_patterns(error_type);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER DEFAULT 0
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// agentRow, toolRow, errorRow, sessionOp are the typed batch elements.

type agentRow struct {
	sessionID    string
	agent        string
	agentType    string
	model        string
	status       string
	inputTokens  int
	outputTokens int
	tokensUsed   int
	durationMs   float64
	costUSD      float64
	recordedAt   time.Time
}

type toolRow struct {
	sessionID  string
	agent      string
	tool       string
	operation  string
	filePath   string
	success    bool
	durationMs float64
	errorType  string
	recordedAt time.Time
}

type errorRow struct {
	sessionID  string
	source     string
	errorType  string
	message    string
	recordedAt time.Time
}

type sessionOp struct {
	sessionID string
	status    string
	start     bool
	at        time.Time
}

// insertAgentRows writes a batch of agent_usage rows in one transaction.
func (s *Store) insertAgentRows(ctx context.Context, rows []agentRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO agent_usage
			(session_id, agent, agent_type, model, status, input_tokens, output_tokens, tokens_used, duration_ms, cost_usd, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.sessionID, r.agent, r.agentType, r.model, r.status,
				r.inputTokens, r.outputTokens, r.tokensUsed, r.durationMs, r.costUSD, r.recordedAt.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertToolRows writes a batch of tool_usage rows in one transaction.
func (s *Store) insertToolRows(ctx context.Context, rows []toolRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tool_usage
			(session_id, agent, tool, operation, file_path, success, duration_ms, error_type, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			success := 0
			if r.success {
				success = 1
			}
			if _, err := stmt.ExecContext(ctx, r.sessionID, r.agent, r.tool, r.operation, r.filePath,
				success, r.durationMs, r.errorType, r.recordedAt.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertErrorRows writes a batch of error_patterns rows in one transaction.
func (s *Store) insertErrorRows(ctx context.Context, rows []errorRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO error_patterns (session_id, source, error_type, message, recorded_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.sessionID, r.source, r.errorType, r.message, r.recordedAt.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
}

// applySessionOps applies session starts (INSERT OR IGNORE) and ends (UPDATE)
// in one transaction.
func (s *Store) applySessionOps(ctx context.Context, ops []sessionOp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			if op.start {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO sessions (session_id, status, started_at) VALUES (?, 'active', ?)`,
					op.sessionID, op.at.Unix()); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ?`,
				op.status, op.at.Unix(), op.sessionID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
