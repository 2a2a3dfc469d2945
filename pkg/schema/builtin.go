// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package schema

import "github.com/teradata-labs/subagent/pkg/events"

// builtinSchemas declares the payload shape for the core event types.
// Types absent from this map are accepted unvalidated.
var builtinSchemas = map[string]string{
	events.AgentInvoked: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"agent_type": {"type": "string"},
			"model": {"type": "string"},
			"invoked_by": {"type": "string"},
			"reason": {"type": "string"},
			"task_id": {"type": "string"}
		}
	}`,

	events.AgentCompleted: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"model": {"type": "string"},
			"input_tokens": {"type": "number", "minimum": 0},
			"output_tokens": {"type": "number", "minimum": 0},
			"tokens_used": {"type": "number", "minimum": 0},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,

	events.AgentFailed: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"error": {"type": "string"},
			"error_type": {"type": "string"},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,

	events.ToolUsed: `{
		"type": "object",
		"required": ["tool", "success"],
		"properties": {
			"tool": {"type": "string", "minLength": 1},
			"agent": {"type": "string"},
			"operation": {"type": "string"},
			"file_path": {"type": "string"},
			"success": {"type": "boolean"},
			"duration_ms": {"type": "number", "minimum": 0},
			"error": {"type": "string"},
			"error_type": {"type": "string"}
		}
	}`,

	events.SessionStarted: `{
		"type": "object",
		"properties": {
			"metadata": {"type": "object"}
		}
	}`,

	events.SessionEnded: `{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string", "enum": ["completed", "failed"]}
		}
	}`,

	events.SessionTokenWarning: `{
		"type": "object",
		"required": ["percent"],
		"properties": {
			"percent": {"type": "number", "minimum": 0, "maximum": 100},
			"tokens_used": {"type": "number", "minimum": 0},
			"token_budget": {"type": "number", "minimum": 0}
		}
	}`,

	events.SnapshotCreated: `{
		"type": "object",
		"required": ["snapshot_id", "trigger"],
		"properties": {
			"snapshot_id": {"type": "string", "minLength": 1},
			"trigger": {"type": "string", "minLength": 1},
			"agent_count": {"type": "number", "minimum": 0},
			"token_count": {"type": "number", "minimum": 0}
		}
	}`,

	events.CostBudgetWarning: `{
		"type": "object",
		"required": ["window", "threshold_pct"],
		"properties": {
			"window": {"type": "string", "enum": ["hourly", "daily"]},
			"threshold_pct": {"type": "number", "minimum": 0, "maximum": 100},
			"spend_usd": {"type": "number", "minimum": 0},
			"cap_usd": {"type": "number", "minimum": 0}
		}
	}`,

	events.ApprovalRequired: `{
		"type": "object",
		"required": ["approval_id", "tool", "risk_score"],
		"properties": {
			"approval_id": {"type": "string", "minLength": 1},
			"tool": {"type": "string", "minLength": 1},
			"risk_score": {"type": "number", "minimum": 0, "maximum": 1},
			"reasons": {"type": "array", "items": {"type": "string"}}
		}
	}`,

	events.ModelSelected: `{
		"type": "object",
		"required": ["model", "tier"],
		"properties": {
			"model": {"type": "string", "minLength": 1},
			"tier": {"type": "string", "enum": ["weak", "base", "strong"]},
			"complexity": {"type": "number", "minimum": 1, "maximum": 10},
			"agent": {"type": "string"}
		}
	}`,

	events.WorkflowStarted: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1},
			"task_count": {"type": "number", "minimum": 0}
		}
	}`,

	events.WorkflowCompleted: `{
		"type": "object",
		"required": ["workflow_id"],
		"properties": {
			"workflow_id": {"type": "string", "minLength": 1},
			"completed": {"type": "number", "minimum": 0},
			"failed": {"type": "number", "minimum": 0},
			"duration_ms": {"type": "number", "minimum": 0}
		}
	}`,
}
