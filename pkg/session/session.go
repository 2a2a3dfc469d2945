// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session owns session records: one file per session under
// sessions/, plus current.json pointing at the single active session.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/storage"
)

// Status values for a session.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is the persisted session record.
type Session struct {
	SessionID string         `json:"session_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// currentPointer is the shape of sessions/current.json.
type currentPointer struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher is the slice of the bus the store needs.
type Publisher interface {
	Publish(ev events.Event) error
}

// Store manages session files. At most one session is active at a time; the
// timestamped session file is the record, current.json is only a pointer.
type Store struct {
	dir      string
	idFormat string
	bus      Publisher
	logger   *zap.Logger

	mu sync.Mutex
}

// Config configures the session store.
type Config struct {
	// Dir is the sessions/ directory.
	Dir string

	// IDFormat uses strftime-style verbs; default session_%Y%m%d_%H%M%S.
	IDFormat string

	// Bus receives session.started / session.ended events. Optional.
	Bus Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewStore creates a session store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("session directory must not be empty")
	}
	if cfg.IDFormat == "" {
		cfg.IDFormat = "session_%Y%m%d_%H%M%S"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &Store{
		dir:      cfg.Dir,
		idFormat: cfg.IDFormat,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
	}, nil
}

// Start creates a new active session, persists it, updates current.json, and
// publishes session.started. An already-active session is ended as failed
// first so the single-active invariant holds.
func (s *Store) Start(metadata map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, err := s.currentLocked(); err == nil && cur.Status == StatusActive {
		s.logger.Warn("ending stale active session", zap.String("session_id", cur.SessionID))
		if err := s.endLocked(cur, StatusFailed); err != nil {
			return nil, fmt.Errorf("end stale session: %w", err)
		}
	}

	now := time.Now().UTC()
	sess := &Session{
		SessionID: FormatID(s.idFormat, now),
		StartedAt: now,
		Status:    StatusActive,
		Metadata:  metadata,
	}

	if err := storage.SaveJSON(s.path(sess.SessionID), sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := storage.SaveJSON(filepath.Join(s.dir, "current.json"),
		currentPointer{SessionID: sess.SessionID, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("update current pointer: %w", err)
	}

	s.publish(events.SessionStarted, sess.SessionID, map[string]any{"metadata": metadata})
	return sess, nil
}

// End marks the current session with a terminal status and publishes
// session.ended. Ending when no session is active is an error.
func (s *Store) End(status string) (*Session, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, fmt.Errorf("invalid terminal status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusActive {
		return nil, fmt.Errorf("session %s is not active", cur.SessionID)
	}
	if err := s.endLocked(cur, status); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Store) endLocked(sess *Session, status string) error {
	now := time.Now().UTC()
	sess.Status = status
	sess.EndedAt = &now
	if err := storage.SaveJSON(s.path(sess.SessionID), sess); err != nil {
		return fmt.Errorf("persist session end: %w", err)
	}
	s.publish(events.SessionEnded, sess.SessionID, map[string]any{"status": status})
	return nil
}

// Current returns the session referenced by current.json.
func (s *Store) Current() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Store) currentLocked() (*Session, error) {
	var ptr currentPointer
	if err := storage.LoadJSON(filepath.Join(s.dir, "current.json"), &ptr); err != nil {
		return nil, fmt.Errorf("no current session: %w", err)
	}
	return s.getLocked(ptr.SessionID)
}

// Get returns a session by id.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID)
}

func (s *Store) getLocked(sessionID string) (*Session, error) {
	var sess Session
	if err := storage.LoadJSON(s.path(sessionID), &sess); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// List returns all sessions, newest first.
func (s *Store) List() ([]*Session, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*Session
	for _, path := range matches {
		if filepath.Base(path) == "current.json" {
			continue
		}
		var sess Session
		if err := storage.LoadJSON(path, &sess); err != nil {
			s.logger.Warn("skipping unreadable session file", zap.String("path", path), zap.Error(err))
			continue
		}
		sessions = append(sessions, &sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *Store) publish(eventType, sessionID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		s.logger.Warn("failed to build session event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Warn("failed to publish session event", zap.Error(err))
	}
}

// FormatID renders a strftime-style session id format (%Y %m %d %H %M %S)
// for the given instant.
func FormatID(format string, t time.Time) string {
	r := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
	)
	return r.Replace(format)
}
