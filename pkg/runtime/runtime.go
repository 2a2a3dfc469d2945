// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package runtime assembles the control plane: schema registry, event bus,
// persistence subscribers, triggers, and enforcement. Construction wires
// everything explicitly; Start and Stop own the background goroutines and
// the ordered shutdown flushes.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/analytics"
	"github.com/teradata-labs/subagent/pkg/budget"
	"github.com/teradata-labs/subagent/pkg/bus"
	"github.com/teradata-labs/subagent/pkg/config"
	"github.com/teradata-labs/subagent/pkg/cost"
	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/hooks"
	"github.com/teradata-labs/subagent/pkg/lifecycle"
	"github.com/teradata-labs/subagent/pkg/logwriter"
	"github.com/teradata-labs/subagent/pkg/metrics"
	"github.com/teradata-labs/subagent/pkg/permission"
	"github.com/teradata-labs/subagent/pkg/router"
	"github.com/teradata-labs/subagent/pkg/schema"
	"github.com/teradata-labs/subagent/pkg/session"
	"github.com/teradata-labs/subagent/pkg/snapshot"
	"github.com/teradata-labs/subagent/pkg/tasks"
	"github.com/teradata-labs/subagent/pkg/trigger"
	"github.com/teradata-labs/subagent/pkg/workflow"
)

// retentionSpec is the cron schedule for snapshot cleanup.
const retentionSpec = "0 3 * * *"

// Options tune runtime behavior beyond the config file.
type Options struct {
	// MonitorInterval is the budget-enforcement tick. Default 1s.
	MonitorInterval time.Duration

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Runtime owns every component of the control plane.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	Bus       *bus.Bus
	Schemas   *schema.Registry
	LogWriter *logwriter.Writer
	Analytics *analytics.Store
	Ingester  *analytics.Ingester
	Sessions  *session.Store
	Snapshots *snapshot.Manager
	Handoffs  *snapshot.HandoffWriter
	Tasks     *tasks.Store

	SnapshotTrigger  *trigger.SnapshotTrigger
	ReferenceTrigger *trigger.ReferenceTrigger

	Pricing *cost.PricingTable
	Costs   *cost.Tracker
	Hooks   *hooks.Dispatcher
	Agents  *lifecycle.Registry
	Budgets *budget.Enforcer

	Permissions *permission.Manager
	Approvals   *permission.ApprovalStore
	Proxy       *permission.Proxy

	Router      *router.Router
	RouterSub   *router.Subscriber
	Coordinator *workflow.Coordinator
	Metrics     *metrics.Aggregator

	monitorInterval time.Duration
	monitorStop     chan struct{}
	monitorDone     chan struct{}
	started         atomic.Bool
	startOnce       sync.Once
	stopOnce        sync.Once

	mu          sync.Mutex
	tokenWarned map[string]struct{}
}

// New builds the full component graph from configuration. Nothing runs in
// the background yet; call Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Runtime{
		cfg:             cfg,
		logger:          logger,
		now:             opts.Now,
		monitorInterval: opts.MonitorInterval,
		monitorStop:     make(chan struct{}),
		monitorDone:     make(chan struct{}),
		tokenWarned:     make(map[string]struct{}),
	}

	schemas, err := schema.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("build schema registry: %w", err)
	}
	r.Schemas = schemas

	r.Bus = bus.New(bus.Config{
		Validator: schemas,
		Workers:   cfg.Bus.Workers,
		QueueSize: cfg.Bus.QueueSize,
		Logger:    logger.Named("bus"),
	})

	if cfg.ActivityLog.Enabled {
		r.LogWriter, err = logwriter.New(logwriter.Config{
			Dir:        cfg.LogsDir(),
			BufferSize: cfg.ActivityLog.BufferSize,
			Compress:   cfg.ActivityLog.Compression,
			Logger:     logger.Named("logwriter"),
		})
		if err != nil {
			return nil, fmt.Errorf("build log writer: %w", err)
		}
		r.LogWriter.Register(r.Bus)
	}

	if cfg.Analytics.Enabled {
		r.Analytics, err = analytics.NewStore(ctx, cfg.AnalyticsDBPath(), logger.Named("analytics"))
		if err != nil {
			return nil, fmt.Errorf("open analytics store: %w", err)
		}
		r.Ingester = analytics.NewIngester(analytics.IngesterConfig{
			Store:     r.Analytics,
			BatchSize: cfg.Analytics.BatchSize,
			Logger:    logger.Named("ingester"),
		})
		r.Ingester.Register(r.Bus)
	}

	r.Sessions, err = session.NewStore(session.Config{
		Dir:      cfg.SessionsDir(),
		IDFormat: cfg.Session.IDFormat,
		Bus:      r.Bus,
		Logger:   logger.Named("session"),
	})
	if err != nil {
		return nil, fmt.Errorf("build session store: %w", err)
	}

	r.Snapshots, err = snapshot.NewManager(snapshot.Config{
		Dir:           cfg.StateDir(),
		Compress:      cfg.Snapshot.Compression,
		RetentionDays: cfg.Snapshot.RetentionDays,
		Bus:           r.Bus,
		Logger:        logger.Named("snapshot"),
	})
	if err != nil {
		return nil, fmt.Errorf("build snapshot manager: %w", err)
	}
	var recentEvents snapshot.RecentEventsFunc
	if r.LogWriter != nil {
		lw := r.LogWriter
		recentEvents = func(sessionID string, n int) ([]map[string]any, error) {
			entries, err := lw.ReadAll(sessionID)
			if err != nil {
				return nil, err
			}
			if len(entries) > n {
				entries = entries[len(entries)-n:]
			}
			return entries, nil
		}
	}
	r.Handoffs = snapshot.NewHandoffWriter(cfg.HandoffsDir(), r.Snapshots, recentEvents)

	r.Tasks, err = tasks.NewStore(cfg.TasksPath())
	if err != nil {
		return nil, fmt.Errorf("build task store: %w", err)
	}

	if cfg.Snapshot.Enabled {
		r.SnapshotTrigger = trigger.NewSnapshotTrigger(trigger.SnapshotTriggerConfig{
			Snapshots:     r.Snapshots,
			Bus:           r.Bus,
			AgentInterval: cfg.Snapshot.TriggerAgentCount,
			TokenInterval: cfg.Snapshot.TriggerTokenCount,
			Logger:        logger.Named("snapshot_trigger"),
		})
		r.SnapshotTrigger.Register(r.Bus)
	}
	r.ReferenceTrigger = trigger.NewReferenceTrigger(trigger.ReferenceTriggerConfig{
		Source:      r.Tasks,
		Bus:         r.Bus,
		TokenBudget: cfg.Tokens.DefaultBudget,
		Logger:      logger.Named("reference_trigger"),
	})
	r.ReferenceTrigger.Register(r.Bus)

	r.Pricing, err = cost.LoadPricing(filepath.Join(cfg.ConfigDir(), "model_pricing.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	r.Costs = cost.NewTracker(cost.TrackerConfig{
		Pricing: r.Pricing,
		Bus:     r.Bus,
		Logger:  logger.Named("cost"),
		Now:     opts.Now,
	})
	r.Costs.Register(r.Bus)

	if cfg.Hooks.Enabled {
		r.Hooks, err = hooks.NewDispatcher(hooks.Config{
			Dir:       cfg.HooksDir(),
			Bus:       r.Bus,
			TimeoutMs: cfg.Hooks.TimeoutMs,
			Logger:    logger.Named("hooks"),
		})
		if err != nil {
			return nil, fmt.Errorf("build hook dispatcher: %w", err)
		}
		r.Hooks.Register(r.Bus)
	}

	r.Agents, err = lifecycle.NewRegistry(lifecycle.RegistryConfig{
		Path:   filepath.Join(cfg.StateDir(), "agents.json"),
		Bus:    r.Bus,
		Logger: logger.Named("lifecycle"),
		Now:    opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build agent registry: %w", err)
	}
	r.Budgets = budget.NewEnforcer(budget.EnforcerConfig{
		Pricing: r.Pricing,
		Now:     opts.Now,
	})

	r.Permissions, err = permission.NewManager(permission.ManagerConfig{
		ProjectRoot:  cfg.DataDir,
		ProfilesPath: filepath.Join(cfg.ConfigDir(), "permissions.yaml"),
	})
	if err != nil {
		return nil, fmt.Errorf("build permission manager: %w", err)
	}
	r.Approvals, err = permission.NewApprovalStore(filepath.Join(cfg.StateDir(), "approvals.json"))
	if err != nil {
		return nil, fmt.Errorf("build approval store: %w", err)
	}
	r.Proxy, err = permission.NewProxy(permission.ProxyConfig{
		Manager:          r.Permissions,
		Approvals:        r.Approvals,
		Bus:              r.Bus,
		ApprovalsEnabled: cfg.Approvals.Enabled,
		Threshold:        cfg.Approvals.Threshold,
		Logger:           logger.Named("proxy"),
	})
	if err != nil {
		return nil, fmt.Errorf("build tool proxy: %w", err)
	}

	tiers, err := router.LoadTiers(filepath.Join(cfg.ConfigDir(), "model_tiers.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load model tiers: %w", err)
	}
	r.Router = router.NewRouter(tiers)
	r.RouterSub = router.NewSubscriber(router.SubscriberConfig{
		Router: r.Router,
		Bus:    r.Bus,
		Logger: logger.Named("router"),
	})
	r.RouterSub.Register(r.Bus)

	r.Coordinator = workflow.NewCoordinator(workflow.CoordinatorConfig{
		Bus:    r.Bus,
		Logger: logger.Named("workflow"),
	})

	windows := make([]time.Duration, 0, len(cfg.Metrics.WindowSeconds))
	for _, s := range cfg.Metrics.WindowSeconds {
		windows = append(windows, time.Duration(s)*time.Second)
	}
	r.Metrics = metrics.NewAggregator(metrics.AggregatorConfig{
		Windows:       windows,
		ReservoirSize: cfg.Metrics.ReservoirSize,
		Logger:        logger.Named("metrics"),
		Now:           opts.Now,
	})
	r.Metrics.Register(r.Bus)

	return r, nil
}

// Config exposes the loaded configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Start launches hook hot-reload, snapshot retention cleanup, and the
// budget monitor.
func (r *Runtime) Start(ctx context.Context) error {
	var startErr error
	r.startOnce.Do(func() {
		if r.Hooks != nil && r.cfg.Hooks.HotReload {
			if err := r.Hooks.StartHotReload(0); err != nil {
				startErr = fmt.Errorf("start hook hot reload: %w", err)
				return
			}
		}
		if r.cfg.Snapshot.Enabled && r.cfg.Snapshot.RetentionDays > 0 {
			if err := r.Snapshots.StartRetentionCleanup(retentionSpec); err != nil {
				startErr = fmt.Errorf("start snapshot retention: %w", err)
				return
			}
		}
		r.started.Store(true)
		go r.monitor()
		r.logger.Info("runtime started",
			zap.String("data_dir", r.cfg.DataDir),
			zap.Bool("analytics", r.Analytics != nil),
			zap.Bool("hooks", r.Hooks != nil))
	})
	return startErr
}

// Stop drains the bus and flushes every sink, newest consumer first.
func (r *Runtime) Stop(ctx context.Context) error {
	var drainErr error
	r.stopOnce.Do(func() {
		if r.started.Load() {
			close(r.monitorStop)
			<-r.monitorDone
		}

		r.Snapshots.StopRetentionCleanup()
		if r.Hooks != nil {
			r.Hooks.Close()
		}

		if err := r.Bus.Drain(ctx); err != nil {
			drainErr = fmt.Errorf("drain bus: %w", err)
		}
		if r.LogWriter != nil {
			r.LogWriter.Flush()
			r.LogWriter.Close()
		}
		if r.Ingester != nil {
			r.Ingester.Flush(ctx)
			r.Ingester.Close()
		}
		r.Bus.Close()
		if r.Analytics != nil {
			if err := r.Analytics.Close(); err != nil && drainErr == nil {
				drainErr = fmt.Errorf("close analytics store: %w", err)
			}
		}
		r.logger.Info("runtime stopped")
	})
	return drainErr
}

// monitor is the enforcement tick: budget evaluation for every running
// agent, and the session token warning.
func (r *Runtime) monitor() {
	defer close(r.monitorDone)
	ticker := time.NewTicker(r.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.monitorStop:
			return
		case <-ticker.C:
			r.enforceBudgets()
			r.checkTokenWarning()
		}
	}
}

// enforceBudgets terminates running agents that breached a hard limit.
// Heartbeat and SLA kills additionally raise agent.timeout so a hung agent
// is distinguishable from a budget kill.
func (r *Runtime) enforceBudgets() {
	for _, rec := range r.Agents.List(lifecycle.Filter{Status: lifecycle.StatusRunning}) {
		res := r.Budgets.Evaluate(rec)
		if !res.Exceeded {
			continue
		}
		if res.HeartbeatTimedOut() || res.Reason == budget.ReasonSLATimeout {
			r.publish(events.AgentTimeout, rec.SessionID, map[string]any{
				"agent":  rec.AgentID,
				"reason": res.Reason,
			})
		}
		if _, err := r.Agents.Terminate(rec.AgentID, lifecycle.WithError(res.Reason)); err != nil {
			r.logger.Warn("failed to terminate agent over budget",
				zap.String("agent", rec.AgentID),
				zap.String("reason", res.Reason),
				zap.Error(err))
			continue
		}
		r.logger.Info("agent terminated over budget",
			zap.String("agent", rec.AgentID),
			zap.String("reason", res.Reason))
	}
}

// checkTokenWarning raises session.token_warning once per session when
// consumption crosses the configured fraction of the token budget.
func (r *Runtime) checkTokenWarning() {
	threshold := r.cfg.Tokens.WarningThreshold
	budgetTokens := r.cfg.Tokens.DefaultBudget
	if threshold <= 0 || budgetTokens <= 0 {
		return
	}
	cur, err := r.Sessions.Current()
	if err != nil || cur == nil {
		return
	}

	totals := r.Costs.SessionTotals(cur.SessionID)
	used := totals.InputTokens + totals.OutputTokens
	percent := float64(used) / float64(budgetTokens) * 100
	if percent < threshold*100 {
		return
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	_, done := r.tokenWarned[cur.SessionID]
	if !done {
		r.tokenWarned[cur.SessionID] = struct{}{}
	}
	r.mu.Unlock()
	if done {
		return
	}

	r.publish(events.SessionTokenWarning, cur.SessionID, map[string]any{
		"percent":      percent,
		"tokens_used":  used,
		"token_budget": budgetTokens,
	})
	r.logger.Warn("session token budget warning",
		zap.String("session_id", cur.SessionID),
		zap.Float64("percent", percent))
}

func (r *Runtime) publish(eventType, sessionID string, payload map[string]any) {
	ev, err := events.New(eventType, sessionID, payload)
	if err != nil {
		r.logger.Warn("failed to build runtime event", zap.Error(err))
		return
	}
	if err := r.Bus.Publish(ev); err != nil {
		r.logger.Warn("failed to publish runtime event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
