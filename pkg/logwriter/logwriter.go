// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package logwriter appends every bus event to a per-session JSONL file.
//
// The log is the recovery source of truth: every aggregate in the system can
// be rebuilt from it. Events are buffered in a small ring per session and
// flushed when the buffer fills, on explicit Flush, or at shutdown. A write
// failure is retried once and then the batch is dropped and counted; the bus
// is never blocked on log I/O errors.
package logwriter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// Config configures the log writer.
type Config struct {
	// Dir is the log directory (logs/ under the data dir).
	Dir string

	// BufferSize is the per-session ring buffer size before a flush.
	// Default 100.
	BufferSize int

	// Compress writes {session}.jsonl.gz (one gzip member per flush)
	// instead of plain JSONL.
	Compress bool

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Writer is the wildcard bus subscriber that owns the session log files.
type Writer struct {
	dir        string
	bufferSize int
	compress   bool
	logger     *zap.Logger

	mu      sync.Mutex
	buffers map[string]*sessionBuffer

	errorCount atomic.Uint64
}

// sessionBuffer serializes buffering and file appends for one session.
type sessionBuffer struct {
	mu    sync.Mutex
	lines [][]byte
}

// New creates a log writer.
func New(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("log directory must not be empty")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Writer{
		dir:        cfg.Dir,
		bufferSize: cfg.BufferSize,
		compress:   cfg.Compress,
		logger:     cfg.Logger,
		buffers:    make(map[string]*sessionBuffer),
	}, nil
}

// Register subscribes the writer to all event types as a blocking handler.
func (w *Writer) Register(b *bus.Bus) {
	b.Subscribe(bus.Wildcard, w.Handle, bus.WithBlocking())
}

// Handle buffers one event and flushes the session when the buffer is full.
func (w *Writer) Handle(_ context.Context, ev events.Event) error {
	line, err := json.Marshal(Flatten(ev))
	if err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("marshal log entry: %w", err)
	}

	buf := w.bufferFor(ev.SessionID)
	buf.mu.Lock()
	buf.lines = append(buf.lines, line)
	full := len(buf.lines) >= w.bufferSize
	var batch [][]byte
	if full {
		batch = buf.lines
		buf.lines = nil
	}
	buf.mu.Unlock()

	if full {
		w.writeBatch(ev.SessionID, batch)
	}
	return nil
}

// Flatten converts an event into the single-object log-line shape:
// payload fields merged with timestamp, session_id, event_type, trace_id.
// Core fields win on key collision.
func Flatten(ev events.Event) map[string]any {
	entry := make(map[string]any, len(ev.Payload)+4)
	for k, v := range ev.Payload {
		entry[k] = v
	}
	entry["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	entry["session_id"] = ev.SessionID
	entry["event_type"] = ev.Type
	if ev.TraceID != "" {
		entry["trace_id"] = ev.TraceID
	}
	return entry
}

// Flush writes out every buffered event for every session.
func (w *Writer) Flush() {
	w.mu.Lock()
	sessions := make([]string, 0, len(w.buffers))
	for id := range w.buffers {
		sessions = append(sessions, id)
	}
	w.mu.Unlock()

	for _, id := range sessions {
		w.flushSession(id)
	}
}

// FlushSession writes out buffered events for one session.
func (w *Writer) FlushSession(sessionID string) {
	w.flushSession(sessionID)
}

// Close flushes all buffers. The writer must not be handed events afterwards.
func (w *Writer) Close() {
	w.Flush()
}

// ErrorCount returns the number of dropped batches and marshal failures.
func (w *Writer) ErrorCount() uint64 {
	return w.errorCount.Load()
}

// FilePath returns the log file path for a session.
func (w *Writer) FilePath(sessionID string) string {
	name := sessionID + ".jsonl"
	if w.compress {
		name += ".gz"
	}
	return filepath.Join(w.dir, name)
}

func (w *Writer) bufferFor(sessionID string) *sessionBuffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf, ok := w.buffers[sessionID]
	if !ok {
		buf = &sessionBuffer{}
		w.buffers[sessionID] = buf
	}
	return buf
}

func (w *Writer) flushSession(sessionID string) {
	buf := w.bufferFor(sessionID)
	buf.mu.Lock()
	batch := buf.lines
	buf.lines = nil
	buf.mu.Unlock()

	if len(batch) > 0 {
		w.writeBatch(sessionID, batch)
	}
}

// writeBatch appends a batch to the session file under the per-file mutex.
// One retry, then the batch is dropped; the log stays append-only and the
// publisher is unaffected.
func (w *Writer) writeBatch(sessionID string, batch [][]byte) {
	buf := w.bufferFor(sessionID)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	err := w.appendLines(sessionID, batch)
	if err != nil {
		err = w.appendLines(sessionID, batch)
	}
	if err != nil {
		w.errorCount.Add(1)
		w.logger.Warn("dropping log batch after retry",
			zap.String("session_id", sessionID),
			zap.Int("events", len(batch)),
			zap.Error(err))
	}
}

func (w *Writer) appendLines(sessionID string, batch [][]byte) error {
	f, err := os.OpenFile(w.FilePath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = f
	var gz *gzip.Writer
	if w.compress {
		gz = gzip.NewWriter(f)
		out = gz
	}

	for _, line := range batch {
		if _, err := out.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("append log line: %w", err)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("close gzip member: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// ReadAll reads every log entry for a session, transparently handling
// compressed files. Used by the handoff renderer and the logs surface.
func (w *Writer) ReadAll(sessionID string) ([]map[string]any, error) {
	return ReadFile(w.FilePath(sessionID))
}

// ReadFile reads a JSONL or JSONL.gz log file into flattened entries.
func ReadFile(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip log: %w", err)
		}
		gz.Multistream(true)
		defer gz.Close()
		r = gz
	}

	var entries []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parse log line: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}
	return entries, nil
}

// Cleanup removes the oldest session logs beyond retentionCount files.
func (w *Writer) Cleanup(retentionCount int) error {
	if retentionCount < 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(w.dir, "*.jsonl*"))
	if err != nil {
		return fmt.Errorf("list log files: %w", err)
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	files := make([]logFile, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, logFile{path: path, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for _, f := range files[min(retentionCount, len(files)):] {
		if err := os.Remove(f.path); err != nil {
			w.logger.Warn("failed to remove expired log", zap.String("path", f.path), zap.Error(err))
		}
	}
	return nil
}
