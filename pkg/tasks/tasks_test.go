// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tasks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := setupTestStore(t)

	task, err := s.Create(Task{
		Title:              "Wire the cost tracker",
		Description:        "Subscribe cost tracker to agent.completed",
		Priority:           1,
		AcceptanceCriteria: []string{"budget warnings fire at 50/70/90"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
}

func TestCreateValidation(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Create(Task{Priority: 2})
	require.Error(t, err, "missing description")

	_, err = s.Create(Task{Description: "x", Priority: 9})
	require.Error(t, err, "priority out of range")
}

func TestPersistenceAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	created, err := s.Create(Task{Description: "persists", Priority: 2})
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	got, err := reloaded.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "persists", got.Description)
}

func TestListFiltersAndOrders(t *testing.T) {
	s := setupTestStore(t)

	low, err := s.Create(Task{Description: "low", Priority: 5})
	require.NoError(t, err)
	high, err := s.Create(Task{Description: "high", Priority: 1})
	require.NoError(t, err)
	_, err = s.Complete(low.ID)
	require.NoError(t, err)

	pending := s.List(StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, high.ID, pending[0].ID)

	all := s.List("")
	require.Len(t, all, 2)
	assert.Equal(t, high.ID, all[0].ID, "priority 1 first")
}

func TestCompleteStampsCompletedAt(t *testing.T) {
	s := setupTestStore(t)
	task, err := s.Create(Task{Description: "done soon", Priority: 3})
	require.NoError(t, err)

	done, err := s.Complete(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	require.NotNil(t, done.CompletedAt)
}

func TestOpenRequirements(t *testing.T) {
	s := setupTestStore(t)

	done, err := s.Create(Task{Description: "finished", Priority: 1})
	require.NoError(t, err)
	_, err = s.Complete(done.ID)
	require.NoError(t, err)

	_, err = s.Create(Task{Description: "urgent", Priority: 1})
	require.NoError(t, err)
	_, err = s.Create(Task{Title: "later", Description: "later desc", Priority: 4})
	require.NoError(t, err)
	_, err = s.Create(Task{Description: "mid", Priority: 2})
	require.NoError(t, err)

	reqs, err := s.OpenRequirements(2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "urgent", reqs[0].Title, "description used when title empty")
	assert.Equal(t, "mid", reqs[1].Title)
}
