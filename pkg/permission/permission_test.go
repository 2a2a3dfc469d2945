// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, profilesYAML string) *Manager {
	t.Helper()
	root := t.TempDir()
	path := ""
	if profilesYAML != "" {
		path = filepath.Join(root, "permissions.yaml")
		require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o600))
	}
	m, err := NewManager(ManagerConfig{ProjectRoot: root, ProfilesPath: path})
	require.NoError(t, err)
	return m
}

const restrictedYAML = `
profiles:
  restricted:
    tools: [read]
    allow_bash: false
    can_modify_tests: false
    paths_allowed: ["src/**"]
    paths_forbidden: ["src/secrets/**"]
`

func TestDefaultProfileAlwaysResolvable(t *testing.T) {
	m := newTestManager(t, "")

	assert.Equal(t, DefaultProfileName, m.Profile("").Name)
	assert.Equal(t, DefaultProfileName, m.Profile("no-such-profile").Name)
	assert.Equal(t, "readonly", m.Profile("readonly").Name)
}

func TestValidateToolAllowList(t *testing.T) {
	m := newTestManager(t, restrictedYAML)

	v := m.Validate(Request{Tool: "write", Operation: "write", Path: "src/main.py", Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Equal(t, "tool:write", v.Reason)

	v = m.Validate(Request{Tool: "read", Operation: "read", Path: "src/main.py", Profile: "restricted"})
	assert.True(t, v.Allowed)
}

func TestValidateBashAndNetwork(t *testing.T) {
	m := newTestManager(t, restrictedYAML)

	v := m.Validate(Request{Tool: "read", Operation: "bash", Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Violations, "bash_not_permitted")

	v = m.Validate(Request{Tool: "read", Operation: "read", RequiresNetwork: true, Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Violations, "network_not_permitted")
}

func TestValidatePathRules(t *testing.T) {
	m := newTestManager(t, restrictedYAML)

	v := m.Validate(Request{Tool: "read", Operation: "read", Path: "../outside.txt", Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "path_outside_project")

	v = m.Validate(Request{Tool: "read", Operation: "read", Path: "src/secrets/key.pem", Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "path_forbidden")

	v = m.Validate(Request{Tool: "read", Operation: "read", Path: "docs/readme.md", Profile: "restricted"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "path_not_allowed")
}

func TestEmptyPathsAllowedAllowsEverything(t *testing.T) {
	m := newTestManager(t, "")

	v := m.Validate(Request{Tool: "write", Operation: "write", Path: "anywhere/at/all.go", Profile: DefaultProfileName})
	assert.True(t, v.Allowed)
}

func TestValidateTestModification(t *testing.T) {
	m := newTestManager(t, restrictedYAML)

	v := m.Validate(Request{Tool: "read", Operation: "read", Path: "src/test_util.py", Profile: "restricted"})
	assert.True(t, v.Allowed, "reading tests is fine")

	m2 := newTestManager(t, `
profiles:
  writer:
    can_modify_tests: false
`)
	v = m2.Validate(Request{Tool: "edit", Operation: "edit", Path: "tests/conftest.py", Profile: "writer"})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "test_modification")
}

func TestIsTestPath(t *testing.T) {
	cases := map[string]bool{
		"tests/unit/foo.py": true,
		"test_main.py":      true,
		"src/test_util.py":  true,
		"src/main.py":       false,
		"testsuite/run.py":  false,
	}
	for path, want := range cases {
		assert.Equal(t, want, IsTestPath(path), path)
	}
}

func TestRiskScoreDelete(t *testing.T) {
	m := newTestManager(t, "")

	score, reasons := m.Score(Request{Tool: "delete", Operation: "delete", Path: "src/main.py"})
	assert.InDelta(t, 0.7, score, 1e-9)
	assert.Contains(t, reasons, "delete_operation")
}

func TestRiskScoreDestructiveBash(t *testing.T) {
	m := newTestManager(t, "")

	score, reasons := m.Score(Request{
		Tool:      "bash",
		Operation: "bash",
		Payload:   []byte("rm -rf /tmp/build"),
	})
	assert.InDelta(t, 0.8, score, 1e-9, "bash 0.2 + destructive 0.6")
	assert.Contains(t, reasons, "destructive_command")
}

func TestRiskScoreClampsToOne(t *testing.T) {
	m := newTestManager(t, "")

	score, _ := m.Score(Request{
		Tool:            "bash",
		Operation:       "delete",
		Path:            "../etc/passwd",
		RequiresBash:    true,
		RequiresNetwork: true,
		Payload:         []byte("sudo rm -rf /"),
	})
	assert.Equal(t, 1.0, score)
}

func TestRiskScoreSensitiveFiles(t *testing.T) {
	m := newTestManager(t, "")

	score, reasons := m.Score(Request{Tool: "write", Operation: "write", Path: "go.mod"})
	assert.InDelta(t, 0.45, score, 1e-9, "write 0.25 + manifest 0.2")
	assert.Contains(t, reasons, "dependency_manifest")

	score, reasons = m.Score(Request{Tool: "write", Operation: "write", Path: ".github/workflows/ci.yml"})
	assert.InDelta(t, 0.45, score, 1e-9, "write 0.25 + dotfile 0.2")
	assert.Contains(t, reasons, "dotfile_path")

	score, reasons = m.Score(Request{Tool: "write", Operation: "write", Path: "config/permissions.yaml"})
	assert.InDelta(t, 0.55, score, 1e-9, "write 0.25 + permissions config 0.3")
	assert.Contains(t, reasons, "permissions_config")

	score, reasons = m.Score(Request{Tool: "write", Operation: "write", Path: "tests/test_api.py"})
	assert.InDelta(t, 0.55, score, 1e-9, "write 0.25 + modifies tests 0.3")
	assert.Contains(t, reasons, "modifies_tests")
}

func TestApprovalStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	store, err := NewApprovalStore(path)
	require.NoError(t, err)

	rec, err := store.Request(ApprovalRecord{
		Tool:      "delete",
		Operation: "delete",
		Path:      "src/main.py",
		RiskScore: 0.7,
		Reasons:   []string{"delete_operation"},
	})
	require.NoError(t, err)
	assert.Equal(t, ApprovalRequired, rec.Status)
	assert.False(t, store.IsGranted(rec.ID))

	granted, err := store.Grant(rec.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, ApprovalGranted, granted.Status)
	require.NotNil(t, granted.DecidedAt)
	assert.True(t, store.IsGranted(rec.ID))

	_, err = store.Deny(rec.ID, "operator")
	require.Error(t, err, "already decided")

	reloaded, err := NewApprovalStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsGranted(rec.ID))
	assert.Len(t, reloaded.List(ApprovalGranted), 1)
	assert.Empty(t, reloaded.List(ApprovalRequired))
}
