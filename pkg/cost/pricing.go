// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package cost prices token usage per model, maintains rolling spend windows,
// and raises budget warnings.
package cost

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelPrice is the per-million-token price of one model.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	Tier          string  `yaml:"tier,omitempty"` // weak | base | strong
}

// Budgets caps spend per rolling window.
type Budgets struct {
	HourlyCapUSD float64   `yaml:"hourly_cap_usd"`
	DailyCapUSD  float64   `yaml:"daily_cap_usd"`
	Thresholds   []float64 `yaml:"thresholds,omitempty"` // fractions of cap
}

// PricingTable maps model names to prices, plus budget caps.
type PricingTable struct {
	Models  map[string]ModelPrice `yaml:"models"`
	Budgets Budgets               `yaml:"budgets"`
}

// DefaultPricing returns the built-in price table. Prices as of 2025-01,
// USD per million tokens.
func DefaultPricing() *PricingTable {
	return &PricingTable{
		Models: map[string]ModelPrice{
			"claude-haiku-3-5":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, Tier: "weak"},
			"claude-sonnet-4-6": {InputPerMTok: 3.00, OutputPerMTok: 15.00, Tier: "base"},
			"claude-opus-4":     {InputPerMTok: 15.00, OutputPerMTok: 75.00, Tier: "strong"},
			"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60, Tier: "weak"},
			"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00, Tier: "base"},
		},
		Budgets: Budgets{
			HourlyCapUSD: 10.0,
			DailyCapUSD:  50.0,
			Thresholds:   []float64{0.5, 0.7, 0.9},
		},
	}
}

// LoadPricing reads config/model_pricing.yaml. Entries merge over the
// defaults; a missing file yields the defaults unchanged.
func LoadPricing(path string) (*PricingTable, error) {
	table := DefaultPricing()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var loaded PricingTable
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	for name, price := range loaded.Models {
		table.Models[name] = price
	}
	if loaded.Budgets.HourlyCapUSD > 0 {
		table.Budgets.HourlyCapUSD = loaded.Budgets.HourlyCapUSD
	}
	if loaded.Budgets.DailyCapUSD > 0 {
		table.Budgets.DailyCapUSD = loaded.Budgets.DailyCapUSD
	}
	if len(loaded.Budgets.Thresholds) > 0 {
		sort.Float64s(loaded.Budgets.Thresholds)
		table.Budgets.Thresholds = loaded.Budgets.Thresholds
	}
	return table, nil
}

// CostFor prices a completion. Returns the cost in USD and whether the model
// is known; unknown models cost zero.
func (p *PricingTable) CostFor(model string, inputTokens, outputTokens int) (float64, bool) {
	price, ok := p.Models[model]
	if !ok {
		return 0, false
	}
	return float64(inputTokens)/1e6*price.InputPerMTok +
		float64(outputTokens)/1e6*price.OutputPerMTok, true
}

// CheapestInTier returns the lowest-input-price model of the given tier,
// or "" when the tier has none.
func (p *PricingTable) CheapestInTier(tier string) string {
	best := ""
	bestPrice := 0.0
	for name, price := range p.Models {
		if price.Tier != tier {
			continue
		}
		if best == "" || price.InputPerMTok < bestPrice {
			best = name
			bestPrice = price.InputPerMTok
		}
	}
	return best
}

// TierOf returns the configured tier for a model, or "" when unknown.
func (p *PricingTable) TierOf(model string) string {
	return p.Models[model].Tier
}
