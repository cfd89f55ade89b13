// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package spawner

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// CommonNiche is the Ranges key whose parameters every niche gets.
const CommonNiche = "common"

// Range bounds one mutable parameter. Kind is "int", "float", or
// "choice".
type Range struct {
	Kind    string   `json:"kind"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Ranges maps niche -> parameter -> range.
type Ranges map[string]map[string]Range

// DefaultRanges returns the built-in parameter space.
func DefaultRanges() Ranges {
	return Ranges{
		CommonNiche: {
			"poll_interval_s": {Kind: "int", Min: 5, Max: 60},
			"batch_size":      {Kind: "int", Min: 1, Max: 64},
			"timeout_s":       {Kind: "int", Min: 5, Max: 120},
			"log_level":       {Kind: "choice", Choices: []string{"debug", "info", "warning"}},
		},
		"latency_monitor": {
			"percentile_threshold": {Kind: "float", Min: 90, Max: 99.9},
			"alert_window_s":       {Kind: "int", Min: 30, Max: 600},
		},
		"housekeeping": {
			"retention_days":     {Kind: "int", Min: 1, Max: 90},
			"cleanup_interval_s": {Kind: "int", Min: 300, Max: 86400},
		},
	}
}

// LoadRanges reads a JSONC file of Ranges and merges it over the
// defaults parameter by parameter. An empty path returns the defaults.
func LoadRanges(path string) (Ranges, error) {
	ranges := DefaultRanges()
	if path == "" {
		return ranges, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ranges %s: %w", path, err)
	}
	var overrides Ranges
	if err := json.Unmarshal(jsonc.ToJSON(data), &overrides); err != nil {
		return nil, fmt.Errorf("parsing ranges %s: %w", path, err)
	}
	for niche, params := range overrides {
		if ranges[niche] == nil {
			ranges[niche] = make(map[string]Range)
		}
		for name, r := range params {
			if err := r.validate(); err != nil {
				return nil, fmt.Errorf("ranges %s: %s.%s: %w", path, niche, name, err)
			}
			ranges[niche][name] = r
		}
	}
	return ranges, nil
}

func (r Range) validate() error {
	switch r.Kind {
	case "int", "float":
		if r.Max < r.Min {
			return fmt.Errorf("max %v below min %v", r.Max, r.Min)
		}
	case "choice":
		if len(r.Choices) == 0 {
			return fmt.Errorf("choice range without choices")
		}
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	return nil
}

func (r Range) sample(rng *rand.Rand) any {
	switch r.Kind {
	case "int":
		low, high := int64(math.Ceil(r.Min)), int64(math.Floor(r.Max))
		if high <= low {
			return low
		}
		return low + rng.Int64N(high-low+1)
	case "float":
		value := r.Min + rng.Float64()*(r.Max-r.Min)
		return math.Round(value*1000) / 1000
	default:
		return r.Choices[rng.IntN(len(r.Choices))]
	}
}

// MutateParams draws a phenotype for niche: every common parameter
// plus the niche's own. Unknown niches get the common parameters only.
// Parameters are drawn in sorted order, so a given rng state always
// yields the same phenotype.
func MutateParams(rng *rand.Rand, ranges Ranges, niche string) map[string]any {
	merged := make(map[string]Range)
	for name, r := range ranges[CommonNiche] {
		merged[name] = r
	}
	if niche != CommonNiche {
		for name, r := range ranges[niche] {
			merged[name] = r
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	phenotype := make(map[string]any, len(names))
	for _, name := range names {
		phenotype[name] = merged[name].sample(rng)
	}
	return phenotype
}
