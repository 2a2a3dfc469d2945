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

	"github.com/teradata-labs/subagent/pkg/events"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read the session's activity log",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		eventType, _ := cmd.Flags().GetString("type")
		tail, _ := cmd.Flags().GetInt("tail")
		return withRuntime(func(_ context.Context, rt *runtime.Runtime) error {
			if rt.LogWriter == nil {
				return fmt.Errorf("activity log is disabled")
			}
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			entries, err := rt.LogWriter.ReadAll(sessionID)
			if err != nil {
				return err
			}
			if eventType != "" {
				filtered := entries[:0]
				for _, entry := range entries {
					if entry["event_type"] == eventType {
						filtered = append(filtered, entry)
					}
				}
				entries = filtered
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			for _, entry := range entries {
				line, err := json.Marshal(entry)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
			}
			return nil
		})
	},
}

var emitCmd = &cobra.Command{
	Use:   "emit <event-type>",
	Short: "Publish an event onto the bus",
	Long:  `Publishes one event through the full pipeline: schema validation, activity log, analytics, triggers, and cost tracking. The payload is given as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		payloadJSON, _ := cmd.Flags().GetString("payload")
		var payload map[string]any
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("parse --payload: %w", err)
			}
		}
		return withRuntime(func(ctx context.Context, rt *runtime.Runtime) error {
			sessionID, err := currentSessionID(rt, sessionFlag)
			if err != nil {
				return err
			}
			ev, err := events.New(args[0], sessionID, payload)
			if err != nil {
				return err
			}
			return rt.Bus.PublishAndWait(ctx, ev)
		})
	},
}

func init() {
	logsCmd.Flags().String("session", "", "session id (default: active session)")
	logsCmd.Flags().String("type", "", "filter by event type")
	logsCmd.Flags().Int("tail", 0, "show only the last N entries")

	emitCmd.Flags().String("session", "", "session id (default: active session)")
	emitCmd.Flags().String("payload", "", "event payload as JSON")

	rootCmd.AddCommand(logsCmd, emitCmd)
}
