// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/cost"
	"github.com/teradata-labs/subagent/pkg/router"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Cost tracking and optimization",
}

var costSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show in-process spend totals",
	Long:  `Shows the cost tracker's in-memory totals. Totals accumulate in a long-running process ("subagent run"); a one-shot invocation only sees its own events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			return printJSON(map[string]any{
				"by_model": rt.Costs.ModelTotals(),
				"by_agent": rt.Costs.AgentTotals(),
				"windows": map[string]float64{
					cost.WindowHour: rt.Costs.WindowSpend(cost.WindowHour),
					cost.WindowDay:  rt.Costs.WindowSpend(cost.WindowDay),
					cost.WindowWeek: rt.Costs.WindowSpend(cost.WindowWeek),
				},
			})
		})
	},
}

var costPricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show the effective model pricing table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			return printJSON(rt.Pricing)
		})
	},
}

var costOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Suggest cheaper model tiers for in-process spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		minSpend, _ := cmd.Flags().GetFloat64("min-spend")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			return printJSON(rt.Costs.Optimize(sessionID, minSpend))
		})
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <task-type>",
	Short: "Show which model tier a task would get",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextTokens, _ := cmd.Flags().GetInt("context-tokens")
		files, _ := cmd.Flags().GetStringSlice("files")
		weakFailed, _ := cmd.Flags().GetBool("weak-failed")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sel := rt.Router.Route(router.Task{
				Type:           args[0],
				ContextTokens:  contextTokens,
				Files:          files,
				WeakTierFailed: weakFailed,
			})
			return printJSON(sel)
		})
	},
}

func init() {
	routeCmd.Flags().Int("context-tokens", 0, "context size in tokens")
	routeCmd.Flags().StringSlice("files", nil, "files involved in the task")
	routeCmd.Flags().Bool("weak-failed", false, "a weak-tier model already failed this task type")

	costOptimizeCmd.Flags().String("session", "", "session id (default: active session)")
	costOptimizeCmd.Flags().Float64("min-spend", 0.01, "minimum model spend in USD to consider")

	costCmd.AddCommand(costSummaryCmd, costPricingCmd, costOptimizeCmd)
	rootCmd.AddCommand(costCmd, routeCmd)
}
