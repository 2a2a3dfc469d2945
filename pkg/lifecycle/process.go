// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package lifecycle

import (
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// handle tracks the execution vehicle of one agent: an optional OS process
// plus cooperative pause/stop flags that in-process agents poll.
type handle struct {
	pid int

	mu     sync.Mutex
	paused bool
	stop   bool
}

type handleMap struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func newHandleMap() *handleMap {
	return &handleMap{handles: make(map[string]*handle)}
}

func (m *handleMap) get(agentID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[agentID]
}

func (m *handleMap) getOrCreate(agentID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[agentID]
	if !ok {
		h = &handle{}
		m.handles[agentID] = h
	}
	return h
}

func (m *handleMap) delete(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, agentID)
}

// Attach associates an OS process with the agent so pause/resume/terminate
// can signal it. pid 0 registers a purely cooperative handle.
func (r *Registry) Attach(agentID string, pid int) {
	h := r.handles.getOrCreate(agentID)
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

// Detach drops the process handle, keeping the record.
func (r *Registry) Detach(agentID string) {
	r.handles.delete(agentID)
}

// PauseRequested reports the cooperative pause flag. In-process agents poll
// this between work units.
func (r *Registry) PauseRequested(agentID string) bool {
	h := r.handles.get(agentID)
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// StopRequested reports the cooperative stop flag.
func (r *Registry) StopRequested(agentID string) bool {
	h := r.handles.get(agentID)
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop
}

// Pause transitions the agent to paused, sets the cooperative flag, and
// sends SIGSTOP to an attached process.
func (r *Registry) Pause(agentID string) (*AgentRecord, error) {
	rec, err := r.Transition(agentID, StatusPaused)
	if err != nil {
		return nil, err
	}
	if h := r.handles.get(agentID); h != nil {
		h.mu.Lock()
		h.paused = true
		pid := h.pid
		h.mu.Unlock()
		r.signal(agentID, pid, syscall.SIGSTOP)
	}
	return rec, nil
}

// Resume transitions the agent back to running, clears the pause flag, and
// sends SIGCONT to an attached process.
func (r *Registry) Resume(agentID string) (*AgentRecord, error) {
	rec, err := r.Transition(agentID, StatusRunning)
	if err != nil {
		return nil, err
	}
	if h := r.handles.get(agentID); h != nil {
		h.mu.Lock()
		h.paused = false
		pid := h.pid
		h.mu.Unlock()
		r.signal(agentID, pid, syscall.SIGCONT)
	}
	return rec, nil
}

// Terminate moves the agent to terminated, sets the stop flag, and sends
// SIGTERM to an attached process. Already-terminal agents are a no-op.
func (r *Registry) Terminate(agentID string, opts ...TransitionOption) (*AgentRecord, error) {
	rec, err := r.Transition(agentID, StatusTerminated, opts...)
	if err != nil {
		return nil, err
	}
	if h := r.handles.get(agentID); h != nil {
		h.mu.Lock()
		h.stop = true
		pid := h.pid
		h.mu.Unlock()
		r.signal(agentID, pid, syscall.SIGTERM)
	}
	return rec, nil
}

func (r *Registry) signal(agentID string, pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(sig); err != nil {
		r.logger.Warn("failed to signal agent process",
			zap.String("agent_id", agentID),
			zap.Int("pid", pid),
			zap.String("signal", sig.String()),
			zap.Error(err))
	}
}
