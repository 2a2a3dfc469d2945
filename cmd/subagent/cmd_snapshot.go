// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/runtime"
	"github.com/teradata-labs/subagent/pkg/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage session snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Capture a manual snapshot of the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		files, _ := cmd.Flags().GetStringSlice("files")
		gitState, _ := cmd.Flags().GetString("git-state")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			snap, err := rt.Snapshots.Create(sessionID, "manual", snapshot.Context{
				FilesInContext: files,
				GitState:       gitState,
			})
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			snaps, err := rt.Snapshots.List(sessionID)
			if err != nil {
				return err
			}
			return printJSON(snaps)
		})
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Load a snapshot's captured state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			snap, err := rt.Snapshots.Restore(args[0])
			if err != nil {
				return err
			}
			return printJSON(snap)
		})
	},
}

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Write a markdown handoff summary for the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		reason, _ := cmd.Flags().GetString("reason")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			path, err := rt.Handoffs.Create(sessionID, reason)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		})
	},
}

func init() {
	snapshotCreateCmd.Flags().String("session", "", "session id (default: active session)")
	snapshotCreateCmd.Flags().StringSlice("files", nil, "files currently in context")
	snapshotCreateCmd.Flags().String("git-state", "", "git state description")
	snapshotListCmd.Flags().String("session", "", "session id (default: active session)")

	handoffCmd.Flags().String("session", "", "session id (default: active session)")
	handoffCmd.Flags().String("reason", "manual", "handoff reason")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotRestoreCmd)
	rootCmd.AddCommand(snapshotCmd, handoffCmd)
}
