// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package budget evaluates agent resource limits. Evaluation is pure: it
// computes derived metrics and reports breaches, and the caller decides what
// to do about them (the runtime monitor terminates on hard alerts).
package budget

import (
	"fmt"
	"time"

	"github.com/teradata-labs/subagent/pkg/cost"
	"github.com/teradata-labs/subagent/pkg/lifecycle"
)

// Alert reasons.
const (
	ReasonTokenLimit        = "token_limit"
	ReasonTimeLimit         = "time_limit"
	ReasonCostLimit         = "cost_limit"
	ReasonHeartbeatTimeout  = "heartbeat_timeout"
	ReasonSLATimeout        = "sla_timeout"
	ReasonHeartbeatInterval = "heartbeat_interval"
	ReasonMultipleLimits    = "multiple_limits"
)

// Alert severities.
const (
	SeverityHard = "hard" // force termination
	SeveritySoft = "soft" // notify only
)

// Alert is one limit breach.
type Alert struct {
	Reason   string  `json:"reason"`
	Severity string  `json:"severity"`
	Limit    float64 `json:"limit"`
	Actual   float64 `json:"actual"`
	Message  string  `json:"message"`
}

// Result is the outcome of one evaluation.
type Result struct {
	// Exceeded is true when at least one hard alert fired.
	Exceeded bool `json:"exceeded"`

	// Reason names the breach; multiple_limits when several hard alerts
	// fire at once.
	Reason string `json:"reason,omitempty"`

	// Alerts holds every breach, hard and soft.
	Alerts []Alert `json:"alerts,omitempty"`

	// Metrics is the derived view used for the decision.
	Metrics lifecycle.Metrics `json:"metrics"`
}

// HeartbeatTimedOut reports whether the hard breach was a heartbeat timeout,
// so callers can distinguish a hung agent from a budget kill.
func (r Result) HeartbeatTimedOut() bool {
	for _, a := range r.Alerts {
		if a.Reason == ReasonHeartbeatTimeout && a.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// Enforcer evaluates agent records against their budgets.
type Enforcer struct {
	pricing *cost.PricingTable
	now     func() time.Time
}

// EnforcerConfig configures the enforcer.
type EnforcerConfig struct {
	// Pricing backfills cost_usd from token counts when the record has
	// none. Optional.
	Pricing *cost.PricingTable

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// NewEnforcer creates a budget enforcer.
func NewEnforcer(cfg EnforcerConfig) *Enforcer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Enforcer{pricing: cfg.Pricing, now: cfg.Now}
}

// Evaluate computes derived metrics and checks every configured limit.
// Records without a budget never breach; derived metrics are still returned.
func (e *Enforcer) Evaluate(rec *lifecycle.AgentRecord) Result {
	now := e.now().UTC()
	metrics := rec.Metrics

	if rec.Status == lifecycle.StatusRunning && rec.StartedAt != nil {
		metrics.ElapsedSeconds = now.Sub(*rec.StartedAt).Seconds()
	}
	if rec.LastHeartbeat != nil {
		metrics.HeartbeatAgeSeconds = now.Sub(*rec.LastHeartbeat).Seconds()
	}
	if metrics.CostUSD == 0 && e.pricing != nil && rec.Model != "" {
		if usd, known := e.pricing.CostFor(rec.Model, metrics.InputTokens, metrics.OutputTokens); known {
			metrics.CostUSD = usd
		}
	}

	result := Result{Metrics: metrics}
	b := rec.Budget
	if b == nil {
		return result
	}

	var hard []Alert
	if b.TokenLimit > 0 && metrics.TokensUsed > b.TokenLimit {
		hard = append(hard, Alert{
			Reason:   ReasonTokenLimit,
			Severity: SeverityHard,
			Limit:    float64(b.TokenLimit),
			Actual:   float64(metrics.TokensUsed),
			Message:  fmt.Sprintf("used %d tokens of %d", metrics.TokensUsed, b.TokenLimit),
		})
	}
	if b.TimeLimitSeconds > 0 && metrics.ElapsedSeconds > b.TimeLimitSeconds {
		hard = append(hard, Alert{
			Reason:   ReasonTimeLimit,
			Severity: SeverityHard,
			Limit:    b.TimeLimitSeconds,
			Actual:   metrics.ElapsedSeconds,
			Message:  fmt.Sprintf("ran %.1fs of %.1fs allowed", metrics.ElapsedSeconds, b.TimeLimitSeconds),
		})
	}
	if b.CostLimitUSD > 0 && metrics.CostUSD > b.CostLimitUSD {
		hard = append(hard, Alert{
			Reason:   ReasonCostLimit,
			Severity: SeverityHard,
			Limit:    b.CostLimitUSD,
			Actual:   metrics.CostUSD,
			Message:  fmt.Sprintf("spent $%.4f of $%.4f allowed", metrics.CostUSD, b.CostLimitUSD),
		})
	}
	if b.HeartbeatTimeoutSeconds > 0 && rec.LastHeartbeat != nil &&
		metrics.HeartbeatAgeSeconds > b.HeartbeatTimeoutSeconds {
		hard = append(hard, Alert{
			Reason:   ReasonHeartbeatTimeout,
			Severity: SeverityHard,
			Limit:    b.HeartbeatTimeoutSeconds,
			Actual:   metrics.HeartbeatAgeSeconds,
			Message:  fmt.Sprintf("no heartbeat for %.1fs (timeout %.1fs)", metrics.HeartbeatAgeSeconds, b.HeartbeatTimeoutSeconds),
		})
	}
	if b.SLATimeoutSeconds > 0 && metrics.ElapsedSeconds > b.SLATimeoutSeconds {
		hard = append(hard, Alert{
			Reason:   ReasonSLATimeout,
			Severity: SeverityHard,
			Limit:    b.SLATimeoutSeconds,
			Actual:   metrics.ElapsedSeconds,
			Message:  fmt.Sprintf("exceeded SLA of %.1fs", b.SLATimeoutSeconds),
		})
	}

	result.Alerts = hard
	if b.HeartbeatIntervalSeconds > 0 && rec.LastHeartbeat != nil &&
		metrics.HeartbeatAgeSeconds > b.HeartbeatIntervalSeconds {
		result.Alerts = append(result.Alerts, Alert{
			Reason:   ReasonHeartbeatInterval,
			Severity: SeveritySoft,
			Limit:    b.HeartbeatIntervalSeconds,
			Actual:   metrics.HeartbeatAgeSeconds,
			Message:  fmt.Sprintf("heartbeat overdue by %.1fs", metrics.HeartbeatAgeSeconds-b.HeartbeatIntervalSeconds),
		})
	}

	switch len(hard) {
	case 0:
	case 1:
		result.Exceeded = true
		result.Reason = hard[0].Reason
	default:
		result.Exceeded = true
		result.Reason = ReasonMultipleLimits
	}
	return result
}
