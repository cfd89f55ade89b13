// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(StoreConfig{Path: filepath.Join(t.TempDir(), "evidence.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRowsRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.Append(ctx,
		Row{Candidate: "a", TS: 20, CompositeFitness: 0.5},
		Row{Candidate: "a", TS: 10, CompositeFitness: 0.9},
		Row{Candidate: "b", TS: 15, CompositeFitness: 0.1},
	); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := store.Rows(ctx, "a")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 2 || rows[0].TS != 10 || rows[1].CompositeFitness != 0.5 {
		t.Errorf("Rows(a) = %+v", rows)
	}

	candidates, err := store.Candidates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if candidates["a"] != 2 || candidates["b"] != 1 {
		t.Errorf("Candidates = %v", candidates)
	}

	if err := store.Append(ctx, Row{TS: 1}); err == nil {
		t.Error("Append accepted a row without candidate")
	}
}

func TestStoreProdStatsWindow(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var outcomes []Outcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, Outcome{Candidate: "a", TS: clock.Epoch(now.Add(-time.Duration(i) * time.Minute)), OK: i%5 != 0})
	}
	outcomes = append(outcomes,
		Outcome{Candidate: "a", TS: clock.Epoch(now.Add(-48 * time.Hour)), OK: false},
		Outcome{Candidate: "a", TS: clock.Epoch(now.Add(time.Hour)), OK: false},
	)
	if err := store.AppendOutcomes(ctx, outcomes...); err != nil {
		t.Fatalf("AppendOutcomes: %v", err)
	}

	stats, err := store.ProdStats(ctx, "a", now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("ProdStats: %v", err)
	}
	if stats.Total != 10 || stats.OK != 8 {
		t.Errorf("ProdStats = %+v, want 8/10", stats)
	}

	empty, err := store.ProdStats(ctx, "nobody", now.Add(-24*time.Hour), now)
	if err != nil || empty.Total != 0 {
		t.Errorf("ProdStats(nobody) = %+v, %v", empty, err)
	}
}

func TestImportNDJSON(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	input := `{"candidate":"a","ts":1,"composite_fitness":0.5}

{"candidate":"a","ts":2,"composite_fitness":0.7}
`
	count, err := ImportNDJSON(ctx, store, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportNDJSON: %v", err)
	}
	if count != 2 {
		t.Errorf("imported %d rows, want 2", count)
	}

	_, err = ImportNDJSON(ctx, store, strings.NewReader(`{"candidate":"a","ts":3,"composite_fitness":0.1}
{"ts":4}
`))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("ImportNDJSON error = %v, want line 2 failure", err)
	}
}
