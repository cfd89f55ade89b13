// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"math"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rowAt(age time.Duration, value float64) Row {
	return Row{Candidate: "lat-1", TS: clock.Epoch(now.Add(-age)), CompositeFitness: value}
}

func TestDecayFavorsRecentEvidence(t *testing.T) {
	rows := []Row{rowAt(24*time.Hour, 0.9), rowAt(0, 0.5)}
	aggregate, ok := Decay(rows, now, 12*time.Hour)
	if !ok {
		t.Fatal("Decay reported no evidence")
	}
	simple := (0.9 + 0.5) / 2
	if aggregate.Mean <= 0.5 || aggregate.Mean >= 0.9 {
		t.Errorf("Mean = %v, want strictly between 0.5 and 0.9", aggregate.Mean)
	}
	if math.Abs(aggregate.Mean-0.5) >= math.Abs(simple-0.5) {
		t.Errorf("Mean = %v is not closer to 0.5 than the simple average %v", aggregate.Mean, simple)
	}
	// Weights 0.25 and 1: (0.225 + 0.5) / 1.25.
	if want := 0.58; math.Abs(aggregate.Mean-want) > 1e-9 {
		t.Errorf("Mean = %v, want %v", aggregate.Mean, want)
	}
}

func TestDecayDiscardsFutureRows(t *testing.T) {
	rows := []Row{
		rowAt(-time.Hour, 0.0),
		rowAt(-60*time.Second, 0.8),
		rowAt(time.Hour, 0.8),
	}
	aggregate, ok := Decay(rows, now, 12*time.Hour)
	if !ok {
		t.Fatal("Decay reported no evidence")
	}
	if aggregate.Discarded != 1 || aggregate.Count != 2 {
		t.Errorf("Count %d Discarded %d, want 2 and 1", aggregate.Count, aggregate.Discarded)
	}
	if math.Abs(aggregate.Mean-0.8) > 1e-9 {
		t.Errorf("Mean = %v, want 0.8", aggregate.Mean)
	}
}

func TestDecayNoEvidence(t *testing.T) {
	if _, ok := Decay(nil, now, 0); ok {
		t.Error("Decay(nil) reported evidence")
	}
	if _, ok := Decay([]Row{rowAt(-time.Hour, 1)}, now, 0); ok {
		t.Error("Decay with only future rows reported evidence")
	}
}

func TestDecayConfidenceInterval(t *testing.T) {
	single, _ := Decay([]Row{rowAt(0, 0.7)}, now, 0)
	if single.HasCI {
		t.Error("CI computed from one row")
	}

	rows := []Row{rowAt(0, 0.6), rowAt(0, 0.8), rowAt(0, 0.7), rowAt(0, 0.7)}
	aggregate, _ := Decay(rows, now, 0)
	if !aggregate.HasCI {
		t.Fatal("no CI for four rows")
	}
	// sd = sqrt(0.02/3); margin = 1.96 * sd / 2.
	margin := 1.96 * math.Sqrt(0.02/3) / 2
	if math.Abs(aggregate.CILow-(0.7-margin)) > 1e-9 || math.Abs(aggregate.CIHigh-(0.7+margin)) > 1e-9 {
		t.Errorf("CI = [%v, %v], want 0.7 ± %v", aggregate.CILow, aggregate.CIHigh, margin)
	}
}

func TestProdStatsRate(t *testing.T) {
	if (ProdStats{}).Rate() != 0 {
		t.Error("empty ProdStats rate is not 0")
	}
	if rate := (ProdStats{OK: 16, Total: 20}).Rate(); rate != 0.8 {
		t.Errorf("Rate = %v, want 0.8", rate)
	}
}
