// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package hooks runs user-provided scripts around agent events. Each hook is
// an executable under hooks/{pre-agent-invocation,post-agent-invocation,
// on-error}; it receives a JSON context on stdin and answers with a JSON
// decision on stdout. Hooks fail open: a crash, timeout, or garbled answer
// counts as ALLOW.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/events"
)

// Decision is a hook's verdict on the surrounding action.
type Decision string

const (
	Allow Decision = "ALLOW"
	Deny  Decision = "DENY"
	Warn  Decision = "WARN"
)

// Hook phases, mapped to subdirectories of hooks/.
const (
	PhasePre     = "pre-agent-invocation"
	PhasePost    = "post-agent-invocation"
	PhaseOnError = "on-error"
)

var phases = []string{PhasePre, PhasePost, PhaseOnError}

// Publisher is the slice of the bus the dispatcher emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// Dispatcher discovers and runs hook scripts with per-script timeouts.
type Dispatcher struct {
	dir     string
	timeout time.Duration
	bus     Publisher
	logger  *zap.Logger

	mu      sync.RWMutex
	scripts map[string][]string // phase -> sorted script paths

	watcher        *fsnotify.Watcher
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopCh         chan struct{}
	doneCh         chan struct{}
	stopOnce       sync.Once

	postWG sync.WaitGroup
}

// Config configures the hook dispatcher.
type Config struct {
	// Dir is the hooks/ root; phase subdirectories live beneath it.
	Dir string

	// Bus receives agent.blocked on pre-hook denial. Optional.
	Bus Publisher

	// TimeoutMs is the per-script wall clock. Default 1000.
	TimeoutMs int

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewDispatcher creates the dispatcher and performs an initial script scan.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("hooks directory must not be empty")
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &Dispatcher{
		dir:            cfg.Dir,
		timeout:        time.Duration(cfg.TimeoutMs) * time.Millisecond,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		scripts:        make(map[string][]string),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, phase := range phases {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, phase), 0o750); err != nil {
			return nil, fmt.Errorf("create hooks directory: %w", err)
		}
	}
	d.Rescan()
	return d, nil
}

// Rescan re-discovers executable scripts in every phase directory.
func (d *Dispatcher) Rescan() {
	found := make(map[string][]string, len(phases))
	for _, phase := range phases {
		dir := filepath.Join(d.dir, phase)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var scripts []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.Mode()&0o111 == 0 {
				continue
			}
			scripts = append(scripts, filepath.Join(dir, entry.Name()))
		}
		sort.Strings(scripts)
		found[phase] = scripts
	}

	d.mu.Lock()
	d.scripts = found
	d.mu.Unlock()
}

// Scripts returns the discovered script paths for a phase.
func (d *Dispatcher) Scripts(phase string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.scripts[phase]))
	copy(out, d.scripts[phase])
	return out
}

// Register subscribes post and on-error hooks to the bus. Pre hooks are not
// bus-driven: callers run them synchronously via RunPre before acting.
func (d *Dispatcher) Register(b *bus.Bus) {
	b.Subscribe(events.AgentCompleted, func(_ context.Context, ev events.Event) error {
		d.RunPost(ev)
		return nil
	})
	b.Subscribe(events.AgentFailed, func(ctx context.Context, ev events.Event) error {
		d.runPhase(ctx, PhaseOnError, ev)
		return nil
	}, bus.WithBlocking())
}

// RunPre runs all pre hooks in order. The first DENY cancels the action:
// agent.blocked is emitted and Deny returned. WARN verdicts are logged and
// do not block.
func (d *Dispatcher) RunPre(ctx context.Context, ev events.Event) Decision {
	for _, script := range d.Scripts(PhasePre) {
		decision := d.runScript(ctx, script, ev)
		switch decision {
		case Deny:
			d.logger.Info("pre hook denied action",
				zap.String("hook", filepath.Base(script)),
				zap.String("session_id", ev.SessionID))
			d.publishBlocked(ev, script)
			return Deny
		case Warn:
			d.logger.Warn("pre hook warning",
				zap.String("hook", filepath.Base(script)),
				zap.String("session_id", ev.SessionID))
		}
	}
	return Allow
}

// RunPost runs post hooks asynchronously. Verdicts are advisory.
func (d *Dispatcher) RunPost(ev events.Event) {
	d.postWG.Add(1)
	go func() {
		defer d.postWG.Done()
		d.runPhase(context.Background(), PhasePost, ev)
	}()
}

// Wait blocks until in-flight post hooks finish. Shutdown helper.
func (d *Dispatcher) Wait() {
	d.postWG.Wait()
}

func (d *Dispatcher) runPhase(ctx context.Context, phase string, ev events.Event) {
	for _, script := range d.Scripts(phase) {
		if decision := d.runScript(ctx, script, ev); decision == Warn {
			d.logger.Warn("hook warning",
				zap.String("phase", phase),
				zap.String("hook", filepath.Base(script)))
		}
	}
}

// hookContext is the JSON document each script reads from stdin.
type hookContext struct {
	EventType string         `json:"event_type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type hookAnswer struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// runScript executes one hook with the wall-clock timeout. Every failure
// mode resolves to Allow.
func (d *Dispatcher) runScript(ctx context.Context, script string, ev events.Event) Decision {
	input, err := json.Marshal(hookContext{
		EventType: ev.Type,
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
		TraceID:   ev.TraceID,
		Payload:   ev.Payload,
	})
	if err != nil {
		return Allow
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, script)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Without a wait delay, Run blocks past the deadline whenever the hook
	// leaves a background child holding the stdout pipe open.
	cmd.WaitDelay = d.timeout

	if err := cmd.Run(); err != nil {
		d.logger.Warn("hook failed, allowing",
			zap.String("hook", filepath.Base(script)),
			zap.Error(err))
		return Allow
	}

	var answer hookAnswer
	if err := json.Unmarshal(stdout.Bytes(), &answer); err != nil {
		d.logger.Warn("hook returned invalid JSON, allowing",
			zap.String("hook", filepath.Base(script)))
		return Allow
	}
	switch Decision(strings.ToUpper(answer.Decision)) {
	case Deny:
		return Deny
	case Warn:
		return Warn
	default:
		return Allow
	}
}

func (d *Dispatcher) publishBlocked(ev events.Event, script string) {
	if d.bus == nil {
		return
	}
	blocked, err := events.New(events.AgentBlocked, ev.SessionID, map[string]any{
		"agent":  ev.String("agent"),
		"hook":   filepath.Base(script),
		"reason": "pre_hook_denied",
	})
	if err != nil {
		d.logger.Warn("failed to build agent.blocked event", zap.Error(err))
		return
	}
	if err := d.bus.Publish(blocked); err != nil {
		d.logger.Warn("failed to publish agent.blocked event", zap.Error(err))
	}
}

// StartHotReload watches the phase directories and rescans on changes,
// debounced per directory.
func (d *Dispatcher) StartHotReload(debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create hook watcher: %w", err)
	}
	for _, phase := range phases {
		if err := watcher.Add(filepath.Join(d.dir, phase)); err != nil {
			watcher.Close()
			return fmt.Errorf("watch hooks directory: %w", err)
		}
	}
	d.watcher = watcher

	go func() {
		defer close(d.doneCh)
		for {
			select {
			case <-d.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) != 0 {
					d.debounceRescan(filepath.Dir(event.Name), debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("hook watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (d *Dispatcher) debounceRescan(dir string, debounce time.Duration) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	if timer, ok := d.debounceTimers[dir]; ok {
		timer.Stop()
	}
	d.debounceTimers[dir] = time.AfterFunc(debounce, func() {
		d.Rescan()
		d.logger.Debug("hooks rescanned", zap.String("dir", dir))
	})
}

// Close stops the watcher and waits for post hooks.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		if d.watcher != nil {
			d.watcher.Close()
			<-d.doneCh
		}
	})
	d.postWG.Wait()
}
