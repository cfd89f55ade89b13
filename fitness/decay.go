// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package fitness aggregates the evidence a zooid accumulates during
// probation and in production.
//
// Trial fitness rows are appended by an external harness and never
// mutated. Decay turns them into a time-weighted mean where a row aged
// Δt counts 0.5^(Δt/halfLife), so recent evidence dominates. Rows
// stamped more than MaxFutureSkew ahead of now are discarded as clock
// skew. Production outcome rows ({candidate, ts, ok}) feed the success
// rate used by the production gate and SLA enforcement.
//
// Store keeps both streams in one SQLite file.
package fitness

import (
	"math"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

// MaxFutureSkew is how far ahead of now a row may be stamped before it
// is discarded.
const MaxFutureSkew = 120 * time.Second

// DefaultHalfLife is the decay half-life used when none is configured.
const DefaultHalfLife = 12 * time.Hour

// z95 is the two-sided 95% normal quantile.
const z95 = 1.96

// Row is one trial fitness observation.
type Row struct {
	Candidate        string  `json:"candidate"`
	TS               float64 `json:"ts"`
	CompositeFitness float64 `json:"composite_fitness"`
}

// Aggregate summarizes a candidate's trial evidence.
type Aggregate struct {
	// Mean is the decay-weighted mean.
	Mean float64

	// Count is the number of rows used.
	Count int

	// Discarded counts rows dropped for future skew.
	Discarded int

	// CILow and CIHigh bound the unweighted mean at 95% confidence.
	// Set only when HasCI (two or more rows).
	CILow, CIHigh float64
	HasCI         bool
}

// Decay aggregates rows as of now. It reports false when no usable row
// remains.
func Decay(rows []Row, now time.Time, halfLife time.Duration) (Aggregate, bool) {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	nowSeconds := clock.Epoch(now)
	limit := nowSeconds + MaxFutureSkew.Seconds()
	halfLifeSeconds := halfLife.Seconds()

	var aggregate Aggregate
	var weighted, totalWeight, sum, sumSquares float64
	for _, row := range rows {
		if row.TS > limit || math.IsNaN(row.CompositeFitness) || math.IsInf(row.CompositeFitness, 0) {
			aggregate.Discarded++
			continue
		}
		age := math.Max(0, nowSeconds-row.TS)
		weight := math.Pow(0.5, age/halfLifeSeconds)
		weighted += weight * row.CompositeFitness
		totalWeight += weight
		sum += row.CompositeFitness
		sumSquares += row.CompositeFitness * row.CompositeFitness
		aggregate.Count++
	}
	if aggregate.Count == 0 || totalWeight == 0 {
		return aggregate, false
	}
	aggregate.Mean = weighted / totalWeight

	if aggregate.Count >= 2 {
		n := float64(aggregate.Count)
		mean := sum / n
		variance := math.Max(0, (sumSquares-n*mean*mean)/(n-1))
		margin := z95 * math.Sqrt(variance) / math.Sqrt(n)
		aggregate.CILow = mean - margin
		aggregate.CIHigh = mean + margin
		aggregate.HasCI = true
	}
	return aggregate, true
}

// ProdStats summarizes production outcomes over a window.
type ProdStats struct {
	OK    int
	Total int
}

// Rate is OK/Total, or 0 with no evidence.
func (s ProdStats) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.OK) / float64(s.Total)
}
