// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/permission"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review and decide pending tool approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			return printJSON(rt.Approvals.List(status))
		})
	},
}

var approvalsGrantCmd = &cobra.Command{
	Use:   "grant <approval-id>",
	Short: "Grant a pending approval",
	Args:  cobra.ExactArgs(1),
	RunE:  decideRunE((*permission.ApprovalStore).Grant),
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Deny a pending approval",
	Args:  cobra.ExactArgs(1),
	RunE:  decideRunE((*permission.ApprovalStore).Deny),
}

var toolCheckCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Validate and risk-score a tool call without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operation, _ := cmd.Flags().GetString("op")
		path, _ := cmd.Flags().GetString("path")
		profile, _ := cmd.Flags().GetString("profile")
		bash, _ := cmd.Flags().GetBool("bash")
		network, _ := cmd.Flags().GetBool("network")
		payload, _ := cmd.Flags().GetString("payload")

		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			req := permission.Request{
				Tool:            args[0],
				Operation:       operation,
				Path:            path,
				Profile:         profile,
				RequiresBash:    bash,
				RequiresNetwork: network,
				Payload:         []byte(payload),
			}
			verdict := rt.Permissions.Validate(req)
			score, reasons := rt.Permissions.Score(req)
			return printJSON(map[string]any{
				"allowed":    verdict.Allowed,
				"reason":     verdict.Reason,
				"violations": verdict.Violations,
				"risk_score": score,
				"factors":    reasons,
			})
		})
	},
}

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Inspect the tool permission gate",
}

func decideRunE(decide func(*permission.ApprovalStore, string, string) (*permission.ApprovalRecord, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			rec, err := decide(rt.Approvals, args[0], decidedBy())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	}
}

func decidedBy() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func init() {
	approvalsListCmd.Flags().String("status", "", "filter by status (required, granted, denied)")

	toolCheckCmd.Flags().String("op", "", "operation (read, write, edit, delete)")
	toolCheckCmd.Flags().String("path", "", "target path")
	toolCheckCmd.Flags().String("profile", "", "permission profile (default: default)")
	toolCheckCmd.Flags().Bool("bash", false, "call needs shell access")
	toolCheckCmd.Flags().Bool("network", false, "call needs network access")
	toolCheckCmd.Flags().String("payload", "", "payload to score, e.g. a bash command")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsGrantCmd, approvalsDenyCmd)
	toolCmd.AddCommand(toolCheckCmd)
	rootCmd.AddCommand(approvalsCmd, toolCmd)
}
