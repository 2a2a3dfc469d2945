// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDir(t *testing.T) {
	t.Run("default to .subagent under tracking root", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv("SUBAGENT_DATA_DIR", "")
		_ = os.Unsetenv("SUBAGENT_DATA_DIR")
		t.Setenv("SUBAGENT_TRACKING_ROOT", root)

		assert.Equal(t, filepath.Join(root, ".subagent"), DataDir())
	})

	t.Run("use SUBAGENT_DATA_DIR when set", func(t *testing.T) {
		t.Setenv("SUBAGENT_DATA_DIR", "/custom/subagent/data")

		assert.Equal(t, "/custom/subagent/data", DataDir())
	})

	t.Run("expand ~ in SUBAGENT_DATA_DIR", func(t *testing.T) {
		t.Setenv("SUBAGENT_DATA_DIR", "~/custom/.subagent")

		homeDir, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(homeDir, "custom", ".subagent"), DataDir())
	})

	t.Run("make relative SUBAGENT_DATA_DIR absolute", func(t *testing.T) {
		t.Setenv("SUBAGENT_DATA_DIR", "relative/path")

		dataDir := DataDir()
		assert.True(t, filepath.IsAbs(dataDir))
		assert.True(t, strings.HasSuffix(dataDir, filepath.Join("relative", "path")))
	})

	t.Run("fall back to legacy .claude when present", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".claude"), 0o755))
		t.Setenv("SUBAGENT_DATA_DIR", "")
		_ = os.Unsetenv("SUBAGENT_DATA_DIR")
		t.Setenv("SUBAGENT_TRACKING_ROOT", root)

		assert.Equal(t, filepath.Join(root, ".claude"), DataDir())
	})

	t.Run("prefer .subagent over legacy when both exist", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, ".claude"), 0o755))
		require.NoError(t, os.Mkdir(filepath.Join(root, ".subagent"), 0o755))
		t.Setenv("SUBAGENT_DATA_DIR", "")
		_ = os.Unsetenv("SUBAGENT_DATA_DIR")
		t.Setenv("SUBAGENT_TRACKING_ROOT", root)

		assert.Equal(t, filepath.Join(root, ".subagent"), DataDir())
	})
}

func TestSubDir(t *testing.T) {
	root := t.TempDir()
	t.Setenv("SUBAGENT_DATA_DIR", filepath.Join(root, ".subagent"))

	assert.Equal(t, filepath.Join(root, ".subagent", "logs"), SubDir("logs"))
	assert.Equal(t, filepath.Join(root, ".subagent", "state"), SubDir("state"))
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(homeDir, "test", "path"), expandPath("~/test/path"))
	assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))

	rel := expandPath("relative/path")
	assert.True(t, filepath.IsAbs(rel))
	assert.True(t, strings.HasSuffix(rel, filepath.Join("relative", "path")))
}
