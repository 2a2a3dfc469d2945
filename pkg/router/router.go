// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package router picks a model tier for each task from a four-factor
// complexity score, and recommends tier upgrades when weak models fail on
// quality grounds.
package router

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tiers in ascending capability.
const (
	TierWeak   = "weak"
	TierBase   = "base"
	TierStrong = "strong"
)

// ModelEntry is one routable model inside a tier.
type ModelEntry struct {
	Name     string `yaml:"name"`
	Free     bool   `yaml:"free,omitempty"`
	Priority int    `yaml:"priority,omitempty"` // higher wins among paid
}

// Tiers configures the model pools and routing overrides, loaded from
// config/model_tiers.yaml.
type Tiers struct {
	Weak   []ModelEntry `yaml:"weak"`
	Base   []ModelEntry `yaml:"base"`
	Strong []ModelEntry `yaml:"strong"`

	// ForceStrongFor lists task types that always route strong.
	ForceStrongFor []string `yaml:"force_strong_for,omitempty"`

	// PreferFree picks free models within a tier when available.
	PreferFree bool `yaml:"prefer_free"`
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() *Tiers {
	return &Tiers{
		Weak: []ModelEntry{
			{Name: "claude-haiku-3-5", Priority: 2},
			{Name: "gpt-4o-mini", Priority: 1},
		},
		Base: []ModelEntry{
			{Name: "claude-sonnet-4-6", Priority: 2},
			{Name: "gpt-4o", Priority: 1},
		},
		Strong: []ModelEntry{
			{Name: "claude-opus-4", Priority: 1},
		},
		ForceStrongFor: []string{"architecture_design", "security_review"},
		PreferFree:     true,
	}
}

// LoadTiers reads config/model_tiers.yaml; a missing file yields defaults.
func LoadTiers(path string) (*Tiers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTiers(), nil
		}
		return nil, fmt.Errorf("read model tiers: %w", err)
	}
	var tiers Tiers
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("parse model tiers %s: %w", path, err)
	}
	if len(tiers.Weak) == 0 && len(tiers.Base) == 0 && len(tiers.Strong) == 0 {
		return nil, fmt.Errorf("model tiers %s defines no models", path)
	}
	return &tiers, nil
}

func (t *Tiers) pool(tier string) []ModelEntry {
	switch tier {
	case TierWeak:
		return t.Weak
	case TierBase:
		return t.Base
	case TierStrong:
		return t.Strong
	}
	return nil
}

// Task describes the work to route.
type Task struct {
	Type          string   `json:"type"`
	ContextTokens int      `json:"context_tokens"`
	Files         []string `json:"files,omitempty"`

	// WeakTierFailed records that a weak model already failed this kind
	// of task in this session.
	WeakTierFailed bool `json:"weak_tier_failed,omitempty"`
}

// Task-type base complexity, 1-4. Unknown types score 2.
var taskTypeComplexity = map[string]int{
	"log_summary":         1,
	"formatting":          1,
	"simple_query":        1,
	"documentation":       2,
	"test_generation":     2,
	"code_review":         3,
	"code_implementation": 3,
	"debugging":           3,
	"refactoring":         3,
	"architecture_design": 4,
	"security_review":     4,
	"migration_planning":  4,
}

// Complexity scores a task 1-10: context window 0-3, type base 1-4,
// file count 0-2, weak-tier failure history 0-1.
func Complexity(task Task) int {
	score := 0

	switch {
	case task.ContextTokens > 100_000:
		score += 3
	case task.ContextTokens > 30_000:
		score += 2
	case task.ContextTokens > 10_000:
		score += 1
	}

	base, ok := taskTypeComplexity[task.Type]
	if !ok {
		base = 2
	}
	score += base

	switch {
	case len(task.Files) > 10:
		score += 2
	case len(task.Files) > 3:
		score += 1
	}

	if task.WeakTierFailed {
		score++
	}
	return score
}

// Selection is the routing outcome.
type Selection struct {
	Model      string `json:"model"`
	Tier       string `json:"tier"`
	Complexity int    `json:"complexity"`
	Forced     bool   `json:"forced,omitempty"`
}

// Router routes tasks to models.
type Router struct {
	tiers *Tiers
}

// NewRouter creates a router over the tier table.
func NewRouter(tiers *Tiers) *Router {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Router{tiers: tiers}
}

// Route scores the task, picks the tier, and picks a model within it.
func (r *Router) Route(task Task) Selection {
	complexity := Complexity(task)

	tier := TierStrong
	switch {
	case complexity <= 3:
		tier = TierWeak
	case complexity <= 7:
		tier = TierBase
	}

	forced := false
	for _, forceType := range r.tiers.ForceStrongFor {
		if task.Type == forceType {
			tier = TierStrong
			forced = true
			break
		}
	}

	return Selection{
		Model:      r.pick(tier),
		Tier:       tier,
		Complexity: complexity,
		Forced:     forced,
	}
}

// pick chooses within a tier: free models first when preferred, otherwise
// highest priority. Empty tiers fall back downward then upward.
func (r *Router) pick(tier string) string {
	pool := r.tiers.pool(tier)
	if len(pool) == 0 {
		for _, fallback := range []string{TierBase, TierWeak, TierStrong} {
			if fallback != tier && len(r.tiers.pool(fallback)) > 0 {
				pool = r.tiers.pool(fallback)
				break
			}
		}
	}
	if len(pool) == 0 {
		return ""
	}

	sorted := make([]ModelEntry, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		if r.tiers.PreferFree && sorted[i].Free != sorted[j].Free {
			return sorted[i].Free
		}
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted[0].Name
}

// UpgradeTier steps weak→base→strong, saturating at strong.
func UpgradeTier(current string) string {
	switch current {
	case TierWeak:
		return TierBase
	case TierBase:
		return TierStrong
	default:
		return TierStrong
	}
}

// DowngradeTier steps strong→base→weak, saturating at weak.
func DowngradeTier(current string) string {
	switch current {
	case TierStrong:
		return TierBase
	case TierBase:
		return TierWeak
	default:
		return TierWeak
	}
}
