// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package events

import "sort"

// Event type constants. The set is closed: the bus rejects events whose type
// is not listed here.
const (
	AgentInvoked   = "agent.invoked"
	AgentCompleted = "agent.completed"
	AgentFailed    = "agent.failed"
	AgentTimeout   = "agent.timeout"
	AgentHandoff   = "agent.handoff"
	AgentBlocked   = "agent.blocked"

	ToolUsed          = "tool.used"
	ToolError         = "tool.error"
	ToolPerformance   = "tool.performance"
	ToolQuotaExceeded = "tool.quota_exceeded"

	SnapshotCreated  = "snapshot.created"
	SnapshotRestored = "snapshot.restored"
	SnapshotFailed   = "snapshot.failed"
	SnapshotCleanup  = "snapshot.cleanup"

	SessionStarted         = "session.started"
	SessionTokenWarning    = "session.token_warning"
	SessionHandoffRequired = "session.handoff_required"
	SessionEnded           = "session.ended"

	CostTracked                 = "cost.tracked"
	CostBudgetWarning           = "cost.budget_warning"
	CostOptimizationOpportunity = "cost.optimization_opportunity"

	WorkflowStarted   = "workflow.started"
	WorkflowCompleted = "workflow.completed"

	TaskStarted      = "task.started"
	TaskStageChanged = "task.stage_changed"
	TaskCompleted    = "task.completed"

	TestRunStarted   = "test.run_started"
	TestRunCompleted = "test.run_completed"

	ApprovalRequired = "approval.required"
	ApprovalDecided  = "approval.decided"
	ApprovalGranted  = "approval.granted"
	ApprovalDenied   = "approval.denied"

	ReferenceCheckTriggered = "reference_check.triggered"
	ReferenceCheckCompleted = "reference_check.completed"

	ModelSelected    = "model.selected"
	ModelTierUpgrade = "model.tier_upgrade"
)

var registry = map[string]struct{}{
	AgentInvoked:   {},
	AgentCompleted: {},
	AgentFailed:    {},
	AgentTimeout:   {},
	AgentHandoff:   {},
	AgentBlocked:   {},

	ToolUsed:          {},
	ToolError:         {},
	ToolPerformance:   {},
	ToolQuotaExceeded: {},

	SnapshotCreated:  {},
	SnapshotRestored: {},
	SnapshotFailed:   {},
	SnapshotCleanup:  {},

	SessionStarted:         {},
	SessionTokenWarning:    {},
	SessionHandoffRequired: {},
	SessionEnded:           {},

	CostTracked:                 {},
	CostBudgetWarning:           {},
	CostOptimizationOpportunity: {},

	WorkflowStarted:   {},
	WorkflowCompleted: {},

	TaskStarted:      {},
	TaskStageChanged: {},
	TaskCompleted:    {},

	TestRunStarted:   {},
	TestRunCompleted: {},

	ApprovalRequired: {},
	ApprovalDecided:  {},
	ApprovalGranted:  {},
	ApprovalDenied:   {},

	ReferenceCheckTriggered: {},
	ReferenceCheckCompleted: {},

	ModelSelected:    {},
	ModelTierUpgrade: {},
}

// Registered reports whether the event type is in the closed registry.
func Registered(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}

// All returns every registered event type, sorted.
func All() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
