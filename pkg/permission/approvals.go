// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package permission

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/subagent/pkg/storage"
)

// Approval statuses.
const (
	ApprovalRequired = "required"
	ApprovalGranted  = "granted"
	ApprovalDenied   = "denied"
)

// ApprovalRecord is one pending or decided approval.
type ApprovalRecord struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id,omitempty"`
	Agent     string     `json:"agent,omitempty"`
	Tool      string     `json:"tool"`
	Operation string     `json:"operation"`
	Path      string     `json:"path,omitempty"`
	RiskScore float64    `json:"risk_score"`
	Reasons   []string   `json:"reasons,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
}

// ApprovalStore persists approvals at state/approvals.json.
type ApprovalStore struct {
	path string

	mu      sync.Mutex
	records map[string]*ApprovalRecord
}

// NewApprovalStore loads (or initializes) the store at path.
func NewApprovalStore(path string) (*ApprovalStore, error) {
	if path == "" {
		return nil, fmt.Errorf("approval store path must not be empty")
	}
	var records map[string]*ApprovalRecord
	err := storage.LoadJSON(path, &records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	if records == nil {
		records = make(map[string]*ApprovalRecord)
	}
	return &ApprovalStore{path: path, records: records}, nil
}

// Request persists a new approval in status required.
func (s *ApprovalStore) Request(rec ApprovalRecord) (*ApprovalRecord, error) {
	rec.ID = uuid.NewString()
	rec.Status = ApprovalRequired
	rec.CreatedAt = time.Now().UTC()
	rec.DecidedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = &rec
	if err := s.saveLocked(); err != nil {
		delete(s.records, rec.ID)
		return nil, err
	}
	out := rec
	return &out, nil
}

// Get returns an approval by id.
func (s *ApprovalStore) Get(id string) (*ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", id)
	}
	out := *rec
	return &out, nil
}

// List returns approvals, optionally filtered by status, newest first.
func (s *ApprovalStore) List(status string) []*ApprovalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ApprovalRecord
	for _, rec := range s.records {
		if status != "" && rec.Status != status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Grant marks the approval granted.
func (s *ApprovalStore) Grant(id, decidedBy string) (*ApprovalRecord, error) {
	return s.decide(id, ApprovalGranted, decidedBy)
}

// Deny marks the approval denied.
func (s *ApprovalStore) Deny(id, decidedBy string) (*ApprovalRecord, error) {
	return s.decide(id, ApprovalDenied, decidedBy)
}

func (s *ApprovalStore) decide(id, status, decidedBy string) (*ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", id)
	}
	if rec.Status != ApprovalRequired {
		return nil, fmt.Errorf("approval %s already %s", id, rec.Status)
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.DecidedAt = &now
	rec.DecidedBy = decidedBy
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// IsGranted reports whether the id refers to a granted approval.
func (s *ApprovalStore) IsGranted(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return ok && rec.Status == ApprovalGranted
}

func (s *ApprovalStore) saveLocked() error {
	return storage.SaveJSON(s.path, s.records)
}
