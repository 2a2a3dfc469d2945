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

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query the analytics store",
}

var statsAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Per-agent performance for a session",
	RunE: analyticsRunE(func(ctx context.Context, rt *runtime.Runtime, sessionID string) (any, error) {
		return rt.Analytics.QueryAgentPerformance(ctx, sessionID)
	}),
}

var statsToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Tool effectiveness for a session",
	RunE: analyticsRunE(func(ctx context.Context, rt *runtime.Runtime, sessionID string) (any, error) {
		return rt.Analytics.QueryToolEffectiveness(ctx, sessionID)
	}),
}

var statsErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Error patterns for a session",
	RunE: analyticsRunE(func(ctx context.Context, rt *runtime.Runtime, sessionID string) (any, error) {
		return rt.Analytics.QueryErrorPatterns(ctx, sessionID)
	}),
}

var statsSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Session summary",
	RunE: analyticsRunE(func(ctx context.Context, rt *runtime.Runtime, sessionID string) (any, error) {
		return rt.Analytics.QuerySessionSummary(ctx, sessionID)
	}),
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show in-process rolling-window metrics",
	Long:  `Shows the rolling-window aggregator's view of the event stream. Windows fill in a long-running process ("subagent run"); a one-shot invocation only sees its own events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			out := make(map[string]any)
			for _, w := range rt.Metrics.Windows() {
				out[w.String()] = rt.Metrics.Snapshot(w)
			}
			return printJSON(out)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show control plane status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			byStatus := make(map[string]int)
			for _, rec := range rt.Agents.List(lifecycle.Filter{}) {
				byStatus[rec.Status]++
			}
			var sessionID string
			if cur, err := rt.Sessions.Current(); err == nil {
				sessionID = cur.SessionID
			}
			return printJSON(map[string]any{
				"data_dir":         rt.Config().DataDir,
				"active_session":   sessionID,
				"agents_by_status": byStatus,
				"pending_tasks":    len(rt.Tasks.List("pending")),
				"bus":              rt.Bus.Stats(),
			})
		})
	},
}

func analyticsRunE(query func(ctx context.Context, rt *runtime.Runtime, sessionID string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			if rt.Analytics == nil {
				return fmt.Errorf("analytics is disabled")
			}
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			out, err := query(ctx, rt, sessionID)
			if err != nil {
				return err
			}
			return printJSON(out)
		})
	}
}

func init() {
	for _, cmd := range []*cobra.Command{statsAgentsCmd, statsToolsCmd, statsErrorsCmd, statsSessionCmd} {
		cmd.Flags().String("session", "", "session id (default: active session)")
		statsCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(statsCmd, statusCmd, metricsCmd)
}
