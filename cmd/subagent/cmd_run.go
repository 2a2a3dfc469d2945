// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/subagent/internal/log"
	"github.com/teradata-labs/subagent/pkg/config"
	"github.com/teradata-labs/subagent/pkg/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control plane in the foreground",
	Long:  `Runs the full control plane until interrupted: hook hot-reload, snapshot retention, budget enforcement, and all event subscribers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ctx := context.Background()

		rt, err := runtime.New(ctx, cfg, log.Logger(), runtime.Options{})
		if err != nil {
			return err
		}
		if err := rt.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("subagent running (data dir %s), Ctrl+C to stop\n", cfg.DataDir)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return rt.Stop(stopCtx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
