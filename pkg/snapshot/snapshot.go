// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package snapshot captures and restores point-in-time session state.
//
// Snapshots are written atomically (temp-then-rename, optionally gzipped)
// under state/ as {session_id}_snap{NNN}.json[.gz]. Restore is read-only
// recovery of session context; it never mutates live agents.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/storage"
)

// Snapshot is the persisted point-in-time session state.
type Snapshot struct {
	SnapshotID     string         `json:"snapshot_id"`
	SessionID      string         `json:"session_id"`
	Trigger        string         `json:"trigger"`
	CreatedAt      time.Time      `json:"created_at"`
	AgentCount     int            `json:"agent_count"`
	TokenCount     int            `json:"token_count"`
	FilesInContext []string       `json:"files_in_context,omitempty"`
	GitState       string         `json:"git_state,omitempty"`
	AgentContext   map[string]any `json:"agent_context,omitempty"`
}

// Context carries the live state captured into a snapshot.
type Context struct {
	AgentCount     int
	TokenCount     int
	FilesInContext []string
	GitState       string
	AgentContext   map[string]any
}

// Publisher is the slice of the bus the manager needs.
type Publisher interface {
	Publish(ev events.Event) error
}

// Manager creates, restores, lists, and expires snapshots.
type Manager struct {
	dir           string
	compress      bool
	retentionDays int
	bus           Publisher
	logger        *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Config configures the snapshot manager.
type Config struct {
	// Dir is the state/ directory.
	Dir string

	// Compress gzips snapshot files.
	Compress bool

	// RetentionDays bounds snapshot age for cleanup. Default 7.
	RetentionDays int

	// Bus receives snapshot.restored / snapshot.cleanup events. Optional;
	// snapshot.created / snapshot.failed are emitted by the trigger that
	// requested the snapshot.
	Bus Publisher

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

var snapName = regexp.MustCompile(`^(.+)_snap(\d{3})\.json(\.gz)?$`)

// NewManager creates a snapshot manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory must not be empty")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Manager{
		dir:           cfg.Dir,
		compress:      cfg.Compress,
		retentionDays: cfg.RetentionDays,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
	}, nil
}

// Create writes a new snapshot for the session and returns it.
func (m *Manager) Create(sessionID, trigger string, sctx Context) (*Snapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.nextSeq(sessionID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SnapshotID:     fmt.Sprintf("%s_snap%03d", sessionID, seq),
		SessionID:      sessionID,
		Trigger:        trigger,
		CreatedAt:      time.Now().UTC(),
		AgentCount:     sctx.AgentCount,
		TokenCount:     sctx.TokenCount,
		FilesInContext: sctx.FilesInContext,
		GitState:       sctx.GitState,
		AgentContext:   sctx.AgentContext,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if m.compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return nil, fmt.Errorf("compress snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("compress snapshot: %w", err)
		}
		data = buf.Bytes()
	}

	if err := storage.WriteFileAtomic(m.pathFor(snap.SnapshotID), data, 0o600); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	m.logger.Debug("snapshot created",
		zap.String("snapshot_id", snap.SnapshotID),
		zap.String("trigger", trigger))
	return snap, nil
}

// Restore reads a snapshot back by id and publishes snapshot.restored.
// Read-only: the live session is not touched.
func (m *Manager) Restore(snapshotID string) (*Snapshot, error) {
	snap, err := m.read(snapshotID)
	if err != nil {
		return nil, err
	}
	m.publish(events.SnapshotRestored, snap.SessionID, map[string]any{
		"snapshot_id": snap.SnapshotID,
	})
	return snap, nil
}

func (m *Manager) read(snapshotID string) (*Snapshot, error) {
	path := m.pathFor(snapshotID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", snapshotID, err)
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open compressed snapshot: %w", err)
		}
		data, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

// List enumerates snapshots, optionally scoped to one session, newest first.
func (m *Manager) List(sessionID string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var snaps []*Snapshot
	for _, entry := range entries {
		match := snapName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if sessionID != "" && match[1] != sessionID {
			continue
		}
		snap, err := m.read(strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".gz"), ".json"))
		if err != nil {
			m.logger.Warn("skipping unreadable snapshot", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// Latest returns the most recent snapshot for a session, or nil.
func (m *Manager) Latest(sessionID string) (*Snapshot, error) {
	snaps, err := m.List(sessionID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0], nil
}

// Cleanup removes snapshots older than olderThan and publishes
// snapshot.cleanup per session touched.
func (m *Manager) Cleanup(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	touched := make(map[string]struct{})
	for _, entry := range entries {
		match := snapName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil {
			m.logger.Warn("failed to remove snapshot", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
		touched[match[1]] = struct{}{}
	}

	for sessionID := range touched {
		m.publish(events.SnapshotCleanup, sessionID, map[string]any{"removed": removed})
	}
	return removed, nil
}

// StartRetentionCleanup schedules Cleanup(retention_days) on the given cron
// spec (e.g. "@daily").
func (m *Manager) StartRetentionCleanup(spec string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return fmt.Errorf("retention cleanup already running")
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		removed, err := m.Cleanup(time.Duration(m.retentionDays) * 24 * time.Hour)
		if err != nil {
			m.logger.Warn("snapshot retention cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			m.logger.Info("snapshot retention cleanup", zap.Int("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention cleanup: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// StopRetentionCleanup stops the cleanup schedule.
func (m *Manager) StopRetentionCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

func (m *Manager) pathFor(snapshotID string) string {
	name := snapshotID + ".json"
	if m.compress {
		name += ".gz"
	}
	return filepath.Join(m.dir, name)
}

// nextSeq finds the next snapshot sequence number for a session.
func (m *Manager) nextSeq(sessionID string) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("scan snapshot directory: %w", err)
	}
	next := 1
	for _, entry := range entries {
		match := snapName.FindStringSubmatch(entry.Name())
		if match == nil || match[1] != sessionID {
			continue
		}
		if n, err := strconv.Atoi(match[2]); err == nil && n >= next {
			next = n + 1
		}
	}
	return next, nil
}

func (m *Manager) publish(eventType, sessionID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		m.logger.Warn("failed to build snapshot event", zap.Error(err))
		return
	}
	if err := m.bus.Publish(ev); err != nil {
		m.logger.Warn("failed to publish snapshot event", zap.Error(err))
	}
}
