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
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/internal/log"
	"github.com/teradata-labs/subagent/internal/version"
	"github.com/teradata-labs/subagent/pkg/config"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "subagent",
	Short:   "Observability and control plane for multi-agent LLM workflows",
	Long:    `subagent tracks every agent invocation, tool call, and token spent across a multi-agent LLM workflow: structured event logs, automatic snapshots, budget enforcement, permission gating, and cost analytics, all rooted in a single data directory.`,
	Version: version.Get(),

	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		log.Init(logLevel)
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SUBAGENT_DATA_DIR/subagent.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// withRuntime builds the full runtime for a one-shot command, runs fn, and
// tears everything down so every emitted event reaches the log and the
// analytics store before the process exits.
func withRuntime(fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := runtime.New(ctx, cfg, log.Logger(), runtime.Options{})
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)
	if stopErr := rt.Stop(ctx); stopErr != nil && runErr == nil {
		runErr = stopErr
	}
	return runErr
}

// printJSON renders a command result as indented JSON on stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// currentSessionID resolves --session or falls back to the active session.
func currentSessionID(rt *runtime.Runtime, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cur, err := rt.Sessions.Current()
	if err != nil {
		return "", fmt.Errorf("no session given and no active session: %w", err)
	}
	return cur.SessionID, nil
}
