// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/lifecycle"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage tracked agents",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create <agent-type>",
	Short: "Register a new agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		model, _ := cmd.Flags().GetString("model")
		tokenLimit, _ := cmd.Flags().GetInt("token-limit")
		timeLimit, _ := cmd.Flags().GetInt("time-limit")
		costLimit, _ := cmd.Flags().GetFloat64("cost-limit")
		slaTimeout, _ := cmd.Flags().GetInt("sla-timeout")

		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			rec := lifecycle.AgentRecord{
				AgentType: args[0],
				Model:     model,
				SessionID: sessionID,
			}
			if tokenLimit > 0 || timeLimit > 0 || costLimit > 0 || slaTimeout > 0 {
				rec.Budget = &lifecycle.Budget{
					TokenLimit:        tokenLimit,
					TimeLimitSeconds:  float64(timeLimit),
					CostLimitUSD:      costLimit,
					SLATimeoutSeconds: float64(slaTimeout),
				}
			}
			created, err := rt.Agents.Create(rec)
			if err != nil {
				return err
			}
			return printJSON(created)
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		sessionID, _ := cmd.Flags().GetString("session")
		agentType, _ := cmd.Flags().GetString("type")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			return printJSON(rt.Agents.List(lifecycle.Filter{
				Status:    status,
				SessionID: sessionID,
				AgentType: agentType,
			}))
		})
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentStartCmd = &cobra.Command{
	Use:   "start <agent-id>",
	Short: "Mark an agent running",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(lifecycle.StatusRunning),
}

var agentCompleteCmd = &cobra.Command{
	Use:   "complete <agent-id>",
	Short: "Mark an agent completed",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(lifecycle.StatusCompleted),
}

var agentFailCmd = &cobra.Command{
	Use:   "fail <agent-id>",
	Short: "Mark an agent failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Transition(args[0], lifecycle.StatusFailed, lifecycle.WithError(reason))
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentPauseCmd = &cobra.Command{
	Use:   "pause <agent-id>",
	Short: "Pause a running agent (SIGSTOP when a pid is attached)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Pause(args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentResumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Resume(args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentTerminateCmd = &cobra.Command{
	Use:   "terminate <agent-id>",
	Short: "Terminate an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Terminate(args[0], lifecycle.WithError(reason))
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent-id>",
	Short: "Record a liveness heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			if err := rt.Agents.RecordHeartbeat(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		})
	},
}

var agentUsageCmd = &cobra.Command{
	Use:   "usage <agent-id>",
	Short: "Add token and cost usage to an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetInt("input-tokens")
		output, _ := cmd.Flags().GetInt("output-tokens")
		costUSD, _ := cmd.Flags().GetFloat64("cost")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.AddUsage(args[0], input, output, costUSD)
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var agentCheckCmd = &cobra.Command{
	Use:   "check <agent-id>",
	Short: "Evaluate an agent against its budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(rt.Budgets.Evaluate(rec))
		})
	},
}

func transitionRunE(status string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := rt.Agents.Transition(args[0], status)
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	}
}

func init() {
	agentCreateCmd.Flags().String("session", "", "session id (default: active session)")
	agentCreateCmd.Flags().String("model", "", "model assigned to the agent")
	agentCreateCmd.Flags().Int("token-limit", 0, "hard token budget")
	agentCreateCmd.Flags().Int("time-limit", 0, "hard wall-clock budget in seconds")
	agentCreateCmd.Flags().Float64("cost-limit", 0, "hard cost budget in USD")
	agentCreateCmd.Flags().Int("sla-timeout", 0, "hard SLA in seconds")

	agentListCmd.Flags().String("status", "", "filter by status")
	agentListCmd.Flags().String("session", "", "filter by session id")
	agentListCmd.Flags().String("type", "", "filter by agent type")

	agentFailCmd.Flags().String("reason", "", "failure reason")
	agentTerminateCmd.Flags().String("reason", "", "termination reason")

	agentUsageCmd.Flags().Int("input-tokens", 0, "input tokens consumed")
	agentUsageCmd.Flags().Int("output-tokens", 0, "output tokens produced")
	agentUsageCmd.Flags().Float64("cost", 0, "cost in USD")

	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentShowCmd,
		agentStartCmd, agentCompleteCmd, agentFailCmd,
		agentPauseCmd, agentResumeCmd, agentTerminateCmd,
		agentHeartbeatCmd, agentUsageCmd, agentCheckCmd)
	rootCmd.AddCommand(agentCmd)
}
