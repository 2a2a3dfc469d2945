// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/pkg/runtime"
	"github.com/teradata-labs/subagent/pkg/tasks"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the requirements backlog",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		priority, _ := cmd.Flags().GetInt("priority")
		criteria, _ := cmd.Flags().GetStringSlice("criteria")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			created, err := rt.Tasks.Create(tasks.Task{
				Title:              title,
				Description:        args[0],
				Priority:           priority,
				AcceptanceCriteria: criteria,
			})
			if err != nil {
				return err
			}
			return printJSON(created)
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			return printJSON(rt.Tasks.List(status))
		})
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			updated, err := rt.Tasks.Complete(args[0])
			if err != nil {
				return err
			}
			return printJSON(updated)
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task's status or priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetInt("priority")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			updated, err := rt.Tasks.Update(args[0], tasks.Task{
				Status:   status,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			return printJSON(updated)
		})
	},
}

var taskCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Force a reference check against the open backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			rt.ReferenceTrigger.Force(sessionID)
			return nil
		})
	},
}

func init() {
	taskAddCmd.Flags().String("title", "", "short task title")
	taskAddCmd.Flags().Int("priority", 3, "priority, 1 (highest) to 5")
	taskAddCmd.Flags().StringSlice("criteria", nil, "acceptance criteria")

	taskListCmd.Flags().String("status", "", "filter by status (pending, in_progress, completed)")

	taskUpdateCmd.Flags().String("status", "", "new status")
	taskUpdateCmd.Flags().Int("priority", 0, "new priority")

	taskCheckCmd.Flags().String("session", "", "session id (default: active session)")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskCompleteCmd, taskUpdateCmd, taskCheckCmd)
	rootCmd.AddCommand(taskCmd)
}
