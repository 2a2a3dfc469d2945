// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package permission

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/subagent/pkg/events"
)

// Env overrides for approval gating.
const (
	EnvApprovalsEnabled  = "SUBAGENT_APPROVALS_ENABLED"
	EnvApprovalThreshold = "SUBAGENT_APPROVAL_THRESHOLD"
)

// ErrApprovalRequired is the error string returned when a call needs a
// human decision first.
const ErrApprovalRequired = "approval_required"

// Publisher is the slice of the bus the proxy emits on.
type Publisher interface {
	Publish(ev events.Event) error
}

// ToolFunc is the wrapped tool implementation.
type ToolFunc func(ctx context.Context) (any, error)

// Result is the proxy's answer. The proxy never panics and never returns a
// Go error: failures land in Error.
type Result struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// Proxy wraps tool invocations with permission checks, risk scoring, and
// approval gating.
type Proxy struct {
	manager   *Manager
	approvals *ApprovalStore
	bus       Publisher
	logger    *zap.Logger

	approvalsEnabled bool
	threshold        float64
}

// ProxyConfig configures the tool proxy.
type ProxyConfig struct {
	Manager   *Manager
	Approvals *ApprovalStore

	// Bus receives tool.used and approval.required. Optional.
	Bus Publisher

	// ApprovalsEnabled turns on risk gating. SUBAGENT_APPROVALS_ENABLED
	// overrides at call time.
	ApprovalsEnabled bool

	// Threshold is the risk score requiring approval. Default 0.7;
	// SUBAGENT_APPROVAL_THRESHOLD overrides at call time.
	Threshold float64

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewProxy creates the tool proxy.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("permission manager is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Proxy{
		manager:          cfg.Manager,
		approvals:        cfg.Approvals,
		bus:              cfg.Bus,
		logger:           cfg.Logger,
		approvalsEnabled: cfg.ApprovalsEnabled,
		threshold:        cfg.Threshold,
	}, nil
}

// Execute runs fn behind the permission gate. The call sequence is:
// validate against the profile, score risk, gate on approval, then run with
// timing. Every outcome logs a tool.used event.
func (p *Proxy) Execute(ctx context.Context, req Request, fn ToolFunc) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tool panicked",
				zap.String("tool", req.Tool),
				zap.Any("panic", r))
			result = Result{Success: false, Error: fmt.Sprintf("panic: %v", r)}
			p.publishToolUsed(req, false, 0, "ToolPanic", result.Error)
		}
	}()

	verdict := p.manager.Validate(req)
	if !verdict.Allowed {
		p.publishToolUsed(req, false, 0, "PermissionDenied", verdict.Reason)
		return Result{Success: false, Error: verdict.Reason}
	}

	score, reasons := p.manager.Score(req)
	if p.needsApproval(req, score) {
		rec := ApprovalRecord{
			SessionID: req.SessionID,
			Agent:     req.Agent,
			Tool:      req.Tool,
			Operation: req.Operation,
			Path:      req.Path,
			RiskScore: score,
			Reasons:   reasons,
		}
		var approvalID string
		if p.approvals != nil {
			saved, err := p.approvals.Request(rec)
			if err != nil {
				p.logger.Error("failed to persist approval", zap.Error(err))
			} else {
				approvalID = saved.ID
			}
		}
		p.publishApprovalRequired(req, approvalID, score, reasons)
		return Result{Success: false, Error: ErrApprovalRequired, ApprovalID: approvalID}
	}

	start := time.Now()
	out, err := fn(ctx)
	duration := time.Since(start)
	if err != nil {
		p.publishToolUsed(req, false, duration, errorType(err), err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	p.publishToolUsed(req, true, duration, "", "")
	return Result{Success: true, Result: out}
}

// needsApproval applies the gating rules plus the env overrides.
func (p *Proxy) needsApproval(req Request, score float64) bool {
	enabled := p.approvalsEnabled
	if v := os.Getenv(EnvApprovalsEnabled); v != "" {
		enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if !enabled {
		return false
	}

	threshold := p.threshold
	if v := os.Getenv(EnvApprovalThreshold); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 && parsed <= 1 {
			threshold = parsed
		}
	}
	if score < threshold {
		return false
	}
	if req.Approved {
		return false
	}
	if p.approvals != nil && p.approvals.IsGranted(req.ApprovalID) {
		return false
	}
	return true
}

func (p *Proxy) publishToolUsed(req Request, success bool, duration time.Duration, errType, errMsg string) {
	if p.bus == nil || req.SessionID == "" {
		return
	}
	payload := map[string]any{
		"tool":        req.Tool,
		"operation":   req.Operation,
		"agent":       req.Agent,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}
	if req.Path != "" {
		payload["file_path"] = req.Path
	}
	if errType != "" {
		payload["error_type"] = errType
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	ev, err := events.New(events.ToolUsed, req.SessionID, payload)
	if err != nil {
		p.logger.Warn("failed to build tool.used event", zap.Error(err))
		return
	}
	if err := p.bus.Publish(ev); err != nil {
		p.logger.Warn("failed to publish tool.used event", zap.Error(err))
	}
}

func (p *Proxy) publishApprovalRequired(req Request, approvalID string, score float64, reasons []string) {
	if p.bus == nil || req.SessionID == "" {
		return
	}
	if approvalID == "" {
		approvalID = "unpersisted"
	}
	ev, err := events.New(events.ApprovalRequired, req.SessionID, map[string]any{
		"approval_id": approvalID,
		"tool":        req.Tool,
		"operation":   req.Operation,
		"risk_score":  score,
		"reasons":     reasons,
	})
	if err != nil {
		p.logger.Warn("failed to build approval.required event", zap.Error(err))
		return
	}
	if err := p.bus.Publish(ev); err != nil {
		p.logger.Warn("failed to publish approval.required event", zap.Error(err))
	}
}

// errorType names the failure class for analytics grouping.
func errorType(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return "PermissionDenied"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "Timeout"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such file"):
		return "NotFound"
	default:
		return "ExecutionError"
	}
}
