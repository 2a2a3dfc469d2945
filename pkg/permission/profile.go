// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package permission gates tool calls: profile rules, path matching, risk
// scoring, and approval records behind the tool proxy.
package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Profile is one named permission set.
type Profile struct {
	Name           string   `yaml:"name"`
	Tools          []string `yaml:"tools,omitempty"` // empty = all tools
	AllowBash      bool     `yaml:"allow_bash"`
	AllowNetwork   bool     `yaml:"allow_network"`
	CanModifyTests bool     `yaml:"can_modify_tests"`
	// PathsAllowed empty means all paths inside the project root.
	PathsAllowed   []string `yaml:"paths_allowed,omitempty"`
	PathsForbidden []string `yaml:"paths_forbidden,omitempty"`
}

// DefaultProfileName is always resolvable.
const DefaultProfileName = "default"

func defaultProfiles() map[string]*Profile {
	return map[string]*Profile{
		DefaultProfileName: {
			Name:           DefaultProfileName,
			AllowBash:      true,
			AllowNetwork:   false,
			CanModifyTests: true,
		},
		"readonly": {
			Name:  "readonly",
			Tools: []string{"read", "glob", "grep"},
		},
	}
}

// Manager resolves profiles and validates tool requests against them.
type Manager struct {
	projectRoot string
	profiles    map[string]*Profile
}

// ManagerConfig configures the permission manager.
type ManagerConfig struct {
	// ProjectRoot anchors relative paths and the outside-project check.
	ProjectRoot string

	// ProfilesPath is config/permissions.yaml. Entries merge over the
	// built-in default and readonly profiles; a missing file is fine.
	ProfilesPath string
}

// NewManager loads profiles and creates the manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("project root must not be empty")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	profiles := defaultProfiles()
	if cfg.ProfilesPath != "" {
		data, err := os.ReadFile(cfg.ProfilesPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read permission profiles: %w", err)
		}
		if err == nil {
			var file struct {
				Profiles map[string]*Profile `yaml:"profiles"`
			}
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parse permission profiles %s: %w", cfg.ProfilesPath, err)
			}
			for name, p := range file.Profiles {
				p.Name = name
				profiles[name] = p
			}
		}
	}
	return &Manager{projectRoot: root, profiles: profiles}, nil
}

// Profile returns the named profile, falling back to default for unknown
// or empty names.
func (m *Manager) Profile(name string) *Profile {
	if p, ok := m.profiles[name]; ok {
		return p
	}
	return m.profiles[DefaultProfileName]
}

// Request describes one tool call to validate.
type Request struct {
	Tool            string
	Operation       string // read | write | edit | delete | bash | ...
	Path            string
	Profile         string
	RequiresBash    bool
	RequiresNetwork bool
	Payload         []byte
	SessionID       string
	Agent           string

	// ApprovalID references a previously granted approval.
	ApprovalID string
	// Approved bypasses approval gating for this call.
	Approved bool
}

// Verdict is the outcome of a permission check.
type Verdict struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// Validate checks the request against its profile. Checks run in order and
// the first failure decides the reason; all failures are listed as
// violations.
func (m *Manager) Validate(req Request) Verdict {
	p := m.Profile(req.Profile)
	var violations []string

	// 1. Tool allow-list.
	if len(p.Tools) > 0 && !contains(p.Tools, req.Tool) {
		violations = append(violations, fmt.Sprintf("tool:%s", req.Tool))
	}
	// 2. Bash capability.
	if (req.RequiresBash || req.Operation == "bash") && !p.AllowBash {
		violations = append(violations, "bash_not_permitted")
	}
	// 3. Network capability.
	if req.RequiresNetwork && !p.AllowNetwork {
		violations = append(violations, "network_not_permitted")
	}

	if req.Path != "" {
		rel, outside := m.relativize(req.Path)

		// 4. Project boundary and forbidden globs.
		if outside {
			violations = append(violations, fmt.Sprintf("path_outside_project:%s", req.Path))
		} else {
			for _, pattern := range p.PathsForbidden {
				if matchGlob(pattern, rel) {
					violations = append(violations, fmt.Sprintf("path_forbidden:%s", rel))
					break
				}
			}
			// 5. Allowed globs; an empty list allows every project path.
			if !outside && len(p.PathsAllowed) > 0 {
				allowed := false
				for _, pattern := range p.PathsAllowed {
					if matchGlob(pattern, rel) {
						allowed = true
						break
					}
				}
				if !allowed {
					violations = append(violations, fmt.Sprintf("path_not_allowed:%s", rel))
				}
			}
			// 6. Test modification.
			if isWriteOperation(req.Operation) && IsTestPath(rel) && !p.CanModifyTests {
				violations = append(violations, fmt.Sprintf("test_modification:%s", rel))
			}
		}
	}

	if len(violations) > 0 {
		return Verdict{Allowed: false, Reason: violations[0], Violations: violations}
	}
	return Verdict{Allowed: true}
}

// relativize resolves path against the project root. The second return is
// true when the path escapes the root.
func (m *Manager) relativize(path string) (string, bool) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.projectRoot, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(m.projectRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path, true
	}
	return filepath.ToSlash(rel), false
}

// IsTestPath reports the spec's test-path convention: under tests/ or a
// basename starting with test_.
func IsTestPath(rel string) bool {
	rel = filepath.ToSlash(rel)
	return strings.HasPrefix(rel, "tests/") || strings.HasPrefix(filepath.Base(rel), "test_")
}

func isWriteOperation(op string) bool {
	switch op {
	case "write", "edit", "delete":
		return true
	}
	return false
}

func matchGlob(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
