// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tasks stores the task list at tasks/tasks.json and serves as the
// requirements source for reference checks.
package tasks

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

// Status values for a task.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task is one unit of requested work with acceptance criteria.
type Task struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title,omitempty"`
	Description        string         `json:"description"`
	Priority           int            `json:"priority"` // 1 (highest) .. 5
	AcceptanceCriteria []string       `json:"acceptance_criteria,omitempty"`
	Context            []string       `json:"context,omitempty"`
	Status             string         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Store persists the task list as a single JSON file with atomic writes.
type Store struct {
	path string

	mu    sync.Mutex
	tasks []*Task
}

// NewStore loads (or initializes) the task list at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("task file path must not be empty")
	}
	s := &Store{path: path}

	var tasks []*Task
	err := storage.LoadJSON(path, &tasks)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	s.tasks = tasks
	return s, nil
}

// Create adds a task. Priority defaults to 3 and is clamped to [1,5].
func (s *Store) Create(task Task) (*Task, error) {
	if task.Description == "" {
		return nil, fmt.Errorf("task description must not be empty")
	}
	if task.Priority == 0 {
		task.Priority = 3
	}
	if task.Priority < 1 || task.Priority > 5 {
		return nil, fmt.Errorf("task priority must be in [1,5], got %d", task.Priority)
	}
	task.ID = uuid.NewString()
	task.Status = StatusPending
	task.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task)
	if err := s.saveLocked(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return nil, err
	}
	return &task, nil
}

// Get returns a task by id.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			copy := *t
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("task %s not found", id)
}

// List returns tasks, optionally filtered by status, priority order then age.
func (s *Store) List(status string) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Task
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		copy := *t
		out = append(out, &copy)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies field changes to a task. Zero values leave fields untouched;
// status transitions into done stamp completed_at.
func (s *Store) Update(id string, update Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}
		if update.Title != "" {
			t.Title = update.Title
		}
		if update.Description != "" {
			t.Description = update.Description
		}
		if update.Priority != 0 {
			if update.Priority < 1 || update.Priority > 5 {
				return nil, fmt.Errorf("task priority must be in [1,5], got %d", update.Priority)
			}
			t.Priority = update.Priority
		}
		if update.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = update.AcceptanceCriteria
		}
		if update.Context != nil {
			t.Context = update.Context
		}
		if update.Metadata != nil {
			t.Metadata = update.Metadata
		}
		if update.Status != "" {
			if err := s.setStatusLocked(t, update.Status); err != nil {
				return nil, err
			}
		}
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		copy := *t
		return &copy, nil
	}
	return nil, fmt.Errorf("task %s not found", id)
}

// Complete marks a task done.
func (s *Store) Complete(id string) (*Task, error) {
	return s.Update(id, Task{Status: StatusDone})
}

func (s *Store) setStatusLocked(t *Task, status string) error {
	switch status {
	case StatusPending, StatusInProgress, StatusDone:
	default:
		return fmt.Errorf("invalid task status: %s", status)
	}
	t.Status = status
	if status == StatusDone && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	return nil
}

func (s *Store) saveLocked() error {
	return storage.SaveJSON(s.path, s.tasks)
}

// Requirement is the reference-check view of an open task.
type Requirement struct {
	ID       string
	Title    string
	Priority int
	Criteria []string
}

// OpenRequirements returns up to limit incomplete tasks, highest priority
// first. Implements the reference-check trigger's requirements source.
func (s *Store) OpenRequirements(limit int) ([]Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []*Task
	for _, t := range s.tasks {
		if t.Status != StatusDone {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Priority < open[j].Priority })

	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	reqs := make([]Requirement, len(open))
	for i, t := range open {
		title := t.Title
		if title == "" {
			title = t.Description
		}
		reqs[i] = Requirement{ID: t.ID, Title: title, Priority: t.Priority, Criteria: t.AcceptanceCriteria}
	}
	return reqs, nil
}
