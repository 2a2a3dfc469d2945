// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the subagent data directory.
//
// Priority:
//  1. SUBAGENT_DATA_DIR environment variable (if set and non-empty)
//  2. {tracking root}/.claude when it exists and {tracking root}/.subagent does
//     not (legacy layout)
//  3. {tracking root}/.subagent (default)
//
// The tracking root is SUBAGENT_TRACKING_ROOT or the current directory. The
// returned path is always absolute; ~ is expanded and relative paths are
// resolved against the current directory.
//
// This function reads directly from os.Getenv(), not from viper, because it
// is needed during bootstrap to locate the config file itself.
func DataDir() string {
	if dataDir := os.Getenv("SUBAGENT_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	root := TrackingRoot()
	modern := filepath.Join(root, ".subagent")
	legacy := filepath.Join(root, ".claude")
	if _, err := os.Stat(modern); os.IsNotExist(err) {
		if info, lerr := os.Stat(legacy); lerr == nil && info.IsDir() {
			return legacy
		}
	}
	return modern
}

// TrackingRoot returns the directory under which the data directory lives.
//
// Priority:
// 1. SUBAGENT_TRACKING_ROOT environment variable (if set and non-empty)
// 2. Current working directory
func TrackingRoot() string {
	if root := os.Getenv("SUBAGENT_TRACKING_ROOT"); root != "" {
		return expandPath(root)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// SubDir returns a subdirectory within the data directory.
// Example: SubDir("logs") returns {data dir}/logs.
func SubDir(subdir string) string {
	return filepath.Join(DataDir(), subdir)
}

// expandPath expands ~ and resolves to absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
