// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package permission

import (
	"path/filepath"
	"strings"
)

// Risk signal weights. The score is their sum, clamped to 1.
const (
	weightDelete        = 0.70
	weightWrite         = 0.25
	weightModifiesTests = 0.30
	weightBash          = 0.20
	weightNetwork       = 0.15
	weightDestructive   = 0.60
	weightLargePayload  = 0.20
	weightOutsideRoot   = 0.50
	weightDotfile       = 0.20
	weightManifest      = 0.20
	weightPermConfig    = 0.30
)

const largePayloadBytes = 10 * 1024

var destructiveSubstrings = []string{"rm -rf", "git reset --hard", "sudo "}

var manifestNames = map[string]struct{}{
	"go.mod":            {},
	"go.sum":            {},
	"package.json":      {},
	"package-lock.json": {},
	"requirements.txt":  {},
	"pyproject.toml":    {},
	"cargo.toml":        {},
	"pom.xml":           {},
	"makefile":          {},
	"dockerfile":        {},
}

// Score computes the request's risk in [0,1] with the contributing reasons.
func (m *Manager) Score(req Request) (float64, []string) {
	var score float64
	var reasons []string
	add := func(weight float64, reason string) {
		score += weight
		reasons = append(reasons, reason)
	}

	switch req.Operation {
	case "delete":
		add(weightDelete, "delete_operation")
	case "write", "edit":
		add(weightWrite, "write_operation")
	}

	rel, outside := "", false
	if req.Path != "" {
		rel, outside = m.relativize(req.Path)
	}

	if req.Path != "" && isWriteOperation(req.Operation) && !outside && IsTestPath(rel) {
		add(weightModifiesTests, "modifies_tests")
	}
	if req.RequiresBash || req.Operation == "bash" {
		add(weightBash, "bash_execution")
	}
	if req.RequiresNetwork {
		add(weightNetwork, "network_access")
	}

	payload := strings.ToLower(string(req.Payload))
	for _, sub := range destructiveSubstrings {
		if strings.Contains(payload, sub) {
			add(weightDestructive, "destructive_command")
			break
		}
	}
	if len(req.Payload) > largePayloadBytes {
		add(weightLargePayload, "large_payload")
	}

	if req.Path != "" {
		if outside {
			add(weightOutsideRoot, "path_outside_project")
		} else {
			if isDotfilePath(rel) {
				add(weightDotfile, "dotfile_path")
			}
			base := strings.ToLower(filepath.Base(rel))
			if _, ok := manifestNames[base]; ok {
				add(weightManifest, "dependency_manifest")
			}
			if base == "permissions.yaml" || base == "permissions.yml" {
				add(weightPermConfig, "permissions_config")
			}
		}
	}

	if score > 1 {
		score = 1
	}
	return score, reasons
}

func isDotfilePath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if len(part) > 1 && part[0] == '.' {
			return true
		}
	}
	return false
}
