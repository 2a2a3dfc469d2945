// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/runtime"
	"github.com/teradata-labs/subagent/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage workflow sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session (completes any active one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		metaJSON, _ := cmd.Flags().GetString("metadata")
		var metadata map[string]any
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
				return fmt.Errorf("parse --metadata: %w", err)
			}
		}
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sess, err := rt.Sessions.Start(metadata)
			if err != nil {
				return err
			}
			return printJSON(sess)
		})
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sess, err := rt.Sessions.End(status)
			if err != nil {
				return err
			}
			return printJSON(sess)
		})
	},
}

var sessionCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sess, err := rt.Sessions.Current()
			if err != nil {
				return err
			}
			return printJSON(sess)
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessions, err := rt.Sessions.List()
			if err != nil {
				return err
			}
			return printJSON(sessions)
		})
	},
}

func init() {
	sessionStartCmd.Flags().String("metadata", "", "session metadata as JSON")
	sessionEndCmd.Flags().String("status", session.StatusCompleted, "final status (completed, failed)")

	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd, sessionCurrentCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}
