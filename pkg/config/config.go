// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config resolves the on-disk layout and loads the layered runtime
// configuration. Priority: CLI flags > config file > environment variables >
// defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the base name of the config file (subagent.yaml).
const DefaultConfigFileName = "subagent"

// Config holds all runtime configuration for the control plane.
type Config struct {
	// DataDir is the resolved data directory. Not loaded from the config
	// file; override with SUBAGENT_DATA_DIR.
	DataDir string `mapstructure:"-"`

	ActivityLog ActivityLogConfig `mapstructure:"activity_log"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Analytics   AnalyticsConfig   `mapstructure:"analytics"`
	Budgets     PerformanceConfig `mapstructure:"performance"`
	Tokens      TokenConfig       `mapstructure:"tokens"`
	Session     SessionConfig     `mapstructure:"session"`
	Approvals   ApprovalsConfig   `mapstructure:"approvals"`
	Hooks       HooksConfig       `mapstructure:"hooks"`
	Bus         BusConfig         `mapstructure:"bus"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	// StrictMode turns config problems into startup failures instead of
	// warnings. Override with SUBAGENT_STRICT_MODE.
	StrictMode bool `mapstructure:"strict_mode"`
}

// ActivityLogConfig controls the JSONL event log writer.
type ActivityLogConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Compression writes {session}.jsonl.gz instead of plain JSONL.
	Compression bool `mapstructure:"compression"`

	// RetentionCount is the number of session logs kept by cleanup.
	RetentionCount int `mapstructure:"retention_count"`

	// BufferSize is the in-memory ring buffer size before a flush (default 100).
	BufferSize int `mapstructure:"buffer_size"`
}

// SnapshotConfig controls automatic snapshot triggers and retention.
type SnapshotConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// TriggerAgentCount snapshots every N agent invocations (default 10).
	TriggerAgentCount int `mapstructure:"trigger_agent_count"`

	// TriggerTokenCount snapshots every M tokens consumed (default 20000).
	TriggerTokenCount int `mapstructure:"trigger_token_count"`

	Compression   bool `mapstructure:"compression"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// BackupConfig controls session backups.
type BackupConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	OnHandoff    bool `mapstructure:"on_handoff"`
	OnTokenLimit bool `mapstructure:"on_token_limit"`
	Async        bool `mapstructure:"async"`
}

// AnalyticsConfig controls the SQLite ingester.
type AnalyticsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// BatchSize is the combined buffer size that forces a flush (default 100).
	BatchSize int `mapstructure:"batch_size"`
}

// PerformanceConfig holds per-operation latency budgets in milliseconds.
type PerformanceConfig struct {
	EventBudgetMs    float64 `mapstructure:"event_budget_ms"`
	SnapshotBudgetMs float64 `mapstructure:"snapshot_budget_ms"`
	QueryBudgetMs    float64 `mapstructure:"query_budget_ms"`
	BackupBudgetSec  float64 `mapstructure:"backup_budget_seconds"`
}

// TokenConfig holds token budget settings.
type TokenConfig struct {
	// WarningThreshold is the fraction of the budget that raises
	// session.token_warning (default 0.9).
	WarningThreshold float64 `mapstructure:"limit_warning_threshold"`

	// DefaultBudget is the per-session token budget (default 200000).
	DefaultBudget int `mapstructure:"default_budget"`
}

// SessionConfig holds session naming settings.
type SessionConfig struct {
	// IDFormat uses strftime-style verbs (default session_%Y%m%d_%H%M%S).
	IDFormat string `mapstructure:"id_format"`
}

// ApprovalsConfig controls high-risk tool approval gating.
type ApprovalsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Threshold is the risk score at or above which a call needs approval
	// (default 0.7).
	Threshold float64 `mapstructure:"threshold"`
}

// HooksConfig controls the subprocess hook dispatcher.
type HooksConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// TimeoutMs is the wall-clock limit per hook (default 1000).
	TimeoutMs int `mapstructure:"timeout_ms"`

	// HotReload watches the hooks directory for changes (default true).
	HotReload bool `mapstructure:"hot_reload"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	// Workers bounds the pool running blocking handlers (default 8).
	Workers int `mapstructure:"workers"`

	// QueueSize bounds each per-session dispatch queue (default 1024).
	QueueSize int `mapstructure:"queue_size"`
}

// MetricsConfig controls the rolling-window aggregator.
type MetricsConfig struct {
	// WindowSeconds lists the rolling window sizes (default 60, 300, 900).
	WindowSeconds []int `mapstructure:"window_seconds"`

	// ReservoirSize bounds the duration sample per window (default 1024).
	ReservoirSize int `mapstructure:"reservoir_size"`
}

// LoggingConfig holds process logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// Load loads configuration from a file (when cfgFile is non-empty), the data
// directory, the current directory, SUBAGENT_* environment variables, and
// defaults, in that priority order.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags.
	}

	v.SetEnvPrefix("SUBAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = DataDir()
	return &cfg, nil
}

// bindLegacyEnv wires the documented short-form environment overrides that do
// not follow the mechanical SUBAGENT_<SECTION>_<KEY> naming.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("snapshot.trigger_agent_count", "SUBAGENT_SNAPSHOT_AGENT_COUNT")
	_ = v.BindEnv("snapshot.trigger_token_count", "SUBAGENT_SNAPSHOT_TOKEN_COUNT")
	_ = v.BindEnv("backup.enabled", "SUBAGENT_BACKUP_ENABLED")
	_ = v.BindEnv("analytics.enabled", "SUBAGENT_ANALYTICS_ENABLED")
	_ = v.BindEnv("performance.event_budget_ms", "SUBAGENT_LOG_LATENCY_MS")
	_ = v.BindEnv("tokens.default_budget", "SUBAGENT_TOKEN_BUDGET")
	_ = v.BindEnv("strict_mode", "SUBAGENT_STRICT_MODE")
	_ = v.BindEnv("approvals.enabled", "SUBAGENT_APPROVALS_ENABLED")
	_ = v.BindEnv("approvals.threshold", "SUBAGENT_APPROVAL_THRESHOLD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("activity_log.enabled", true)
	v.SetDefault("activity_log.compression", true)
	v.SetDefault("activity_log.retention_count", 2)
	v.SetDefault("activity_log.buffer_size", 100)

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.trigger_agent_count", 10)
	v.SetDefault("snapshot.trigger_token_count", 20000)
	v.SetDefault("snapshot.compression", true)
	v.SetDefault("snapshot.retention_days", 7)

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.on_handoff", true)
	v.SetDefault("backup.on_token_limit", true)
	v.SetDefault("backup.async", true)

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.batch_size", 100)

	v.SetDefault("performance.event_budget_ms", 1.0)
	v.SetDefault("performance.snapshot_budget_ms", 100.0)
	v.SetDefault("performance.query_budget_ms", 10.0)
	v.SetDefault("performance.backup_budget_seconds", 120.0)

	v.SetDefault("tokens.limit_warning_threshold", 0.9)
	v.SetDefault("tokens.default_budget", 200000)

	v.SetDefault("session.id_format", "session_%Y%m%d_%H%M%S")

	v.SetDefault("approvals.enabled", false)
	v.SetDefault("approvals.threshold", 0.7)

	v.SetDefault("hooks.enabled", true)
	v.SetDefault("hooks.timeout_ms", 1000)
	v.SetDefault("hooks.hot_reload", true)

	v.SetDefault("bus.workers", 8)
	v.SetDefault("bus.queue_size", 1024)

	v.SetDefault("metrics.window_seconds", []int{60, 300, 900})
	v.SetDefault("metrics.reservoir_size", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("strict_mode", false)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ActivityLog.BufferSize < 1 {
		return fmt.Errorf("activity_log.buffer_size must be >= 1, got %d", c.ActivityLog.BufferSize)
	}
	if c.Snapshot.TriggerAgentCount < 1 {
		return fmt.Errorf("snapshot.trigger_agent_count must be >= 1, got %d", c.Snapshot.TriggerAgentCount)
	}
	if c.Analytics.BatchSize < 1 {
		return fmt.Errorf("analytics.batch_size must be >= 1, got %d", c.Analytics.BatchSize)
	}
	if c.Tokens.WarningThreshold <= 0 || c.Tokens.WarningThreshold > 1 {
		return fmt.Errorf("tokens.limit_warning_threshold must be in (0,1], got %v", c.Tokens.WarningThreshold)
	}
	if c.Approvals.Threshold < 0 || c.Approvals.Threshold > 1 {
		return fmt.Errorf("approvals.threshold must be in [0,1], got %v", c.Approvals.Threshold)
	}
	if c.Hooks.TimeoutMs < 1 {
		return fmt.Errorf("hooks.timeout_ms must be >= 1, got %d", c.Hooks.TimeoutMs)
	}
	if len(c.Metrics.WindowSeconds) == 0 {
		return fmt.Errorf("metrics.window_seconds must not be empty")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// LogsDir returns the session log directory.
func (c *Config) LogsDir() string { return filepath.Join(c.DataDir, "logs") }

// StateDir returns the registry/snapshot/approval state directory.
func (c *Config) StateDir() string { return filepath.Join(c.DataDir, "state") }

// SessionsDir returns the session metadata directory.
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }

// AnalyticsDBPath returns the SQLite aggregate store path.
func (c *Config) AnalyticsDBPath() string {
	return filepath.Join(c.DataDir, "analytics", "tracking.db")
}

// HandoffsDir returns the handoff summary directory.
func (c *Config) HandoffsDir() string { return filepath.Join(c.DataDir, "handoffs") }

// HooksDir returns the user hook script directory.
func (c *Config) HooksDir() string { return filepath.Join(c.DataDir, "hooks") }

// ConfigDir returns the YAML config directory (pricing, tiers, permissions).
func (c *Config) ConfigDir() string { return filepath.Join(c.DataDir, "config") }

// RequirementsDir returns the PRD directory.
func (c *Config) RequirementsDir() string { return filepath.Join(c.DataDir, "requirements") }

// TasksPath returns the task list file path.
func (c *Config) TasksPath() string { return filepath.Join(c.DataDir, "tasks", "tasks.json") }
