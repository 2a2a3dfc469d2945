// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/subagent/pkg/storage"
)

// RecentEventsFunc supplies the newest n log entries for a session, oldest
// first. Typically backed by the logwriter's ReadAll.
type RecentEventsFunc func(sessionID string, n int) ([]map[string]any, error)

// HandoffWriter renders handoff summaries into handoffs/.
type HandoffWriter struct {
	dir          string
	snapshots    *Manager
	recentEvents RecentEventsFunc
}

// NewHandoffWriter creates a handoff writer. recentEvents may be nil, in
// which case summaries omit the event tail.
func NewHandoffWriter(dir string, snapshots *Manager, recentEvents RecentEventsFunc) *HandoffWriter {
	return &HandoffWriter{dir: dir, snapshots: snapshots, recentEvents: recentEvents}
}

// Create renders a markdown handoff summary for the session combining the
// latest snapshot and the recent event tail, and writes it to
// handoffs/{session_id}_{reason}.md. Returns the file path.
func (h *HandoffWriter) Create(sessionID, reason string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id must not be empty")
	}
	if reason == "" {
		reason = "manual"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Handoff: %s\n\n", sessionID)
	fmt.Fprintf(&b, "- **Reason**: %s\n", reason)
	fmt.Fprintf(&b, "- **Generated**: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	snap, err := h.snapshots.Latest(sessionID)
	if err != nil {
		return "", fmt.Errorf("load latest snapshot: %w", err)
	}
	if snap != nil {
		b.WriteString("## Latest Snapshot\n\n")
		fmt.Fprintf(&b, "- **Snapshot**: %s (trigger: %s)\n", snap.SnapshotID, snap.Trigger)
		fmt.Fprintf(&b, "- **Captured**: %s\n", snap.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "- **Agents run**: %d\n", snap.AgentCount)
		fmt.Fprintf(&b, "- **Tokens used**: %d\n", snap.TokenCount)
		if snap.GitState != "" {
			fmt.Fprintf(&b, "- **Git state**: %s\n", snap.GitState)
		}
		if len(snap.FilesInContext) > 0 {
			b.WriteString("\n### Files in context\n\n")
			for _, f := range snap.FilesInContext {
				fmt.Fprintf(&b, "- `%s`\n", f)
			}
		}
		b.WriteString("\n")
	} else {
		b.WriteString("## Latest Snapshot\n\nNo snapshot captured for this session.\n\n")
	}

	if h.recentEvents != nil {
		entries, err := h.recentEvents(sessionID, 20)
		if err == nil && len(entries) > 0 {
			b.WriteString("## Recent Events\n\n")
			for _, entry := range entries {
				ts, _ := entry["timestamp"].(string)
				eventType, _ := entry["event_type"].(string)
				fmt.Fprintf(&b, "- `%s` %s", ts, eventType)
				if agent, ok := entry["agent"].(string); ok && agent != "" {
					fmt.Fprintf(&b, " (%s)", agent)
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	path := fmt.Sprintf("%s/%s_%s.md", h.dir, sessionID, sanitizeReason(reason))
	if err := storage.WriteFileAtomic(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write handoff summary: %w", err)
	}
	return path, nil
}

// sanitizeReason keeps reasons filename-safe.
func sanitizeReason(reason string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, reason)
}
