// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"testing"
)

func TestReconcileRepairsIndex(t *testing.T) {
	reg := New()
	for _, record := range []*Zooid{
		newRecord("ok", "housekeeping", Active, "h-ok"),
		newRecord("moved", "housekeeping", Probation, "h-moved"),
		newRecord("unindexed", "latency_monitor", Dormant, "h-un"),
	} {
		if err := reg.Register(record); err != nil {
			t.Fatal(err)
		}
	}
	// A state change that bypassed SetState.
	reg.Zooids["moved"].LifecycleState = Active
	reg.IndexAdd("housekeeping", Dormant, "ghost")
	reg.IndexRemove("latency_monitor", Dormant, "unindexed")
	reg.Genomes["h-ghost"] = "ghost"

	fixes, err := Reconcile(reg)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	kinds := make(map[FixKind][]string)
	for _, fix := range fixes {
		kinds[fix.Kind] = append(kinds[fix.Kind], fix.Name)
	}
	if got := kinds[FixMissingRecord]; len(got) != 1 || got[0] != "ghost" {
		t.Errorf("missing-record fixes = %v", got)
	}
	if got := kinds[FixStateMismatch]; len(got) != 1 || got[0] != "moved" {
		t.Errorf("state-mismatch fixes = %v", got)
	}
	if got := kinds[FixRestoredIndex]; len(got) != 2 {
		t.Errorf("restored fixes = %v, want moved and unindexed", got)
	}
	if got := kinds[FixOrphanGenome]; len(got) != 1 || got[0] != "ghost" {
		t.Errorf("orphan fixes = %v", got)
	}

	// Every record now sits in exactly its own bucket.
	for name, record := range reg.Zooids {
		for niche, index := range reg.Niches {
			for _, state := range States {
				for _, entry := range index.Names(state) {
					if entry != name {
						continue
					}
					if niche != record.Niche || state != record.LifecycleState {
						t.Errorf("%s indexed under %s/%s, record says %s/%s", name, niche, state, record.Niche, record.LifecycleState)
					}
				}
			}
		}
	}

	again, err := Reconcile(reg)
	if err != nil {
		t.Fatal(err)
	}
	for _, fix := range again {
		if fix.Kind != FixOrphanGenome {
			t.Errorf("second pass still fixing: %s", fix)
		}
	}
}

func TestReconcileDuplicateBindingFails(t *testing.T) {
	reg := New()
	if err := reg.Register(newRecord("a", "housekeeping", Dormant, "h1")); err != nil {
		t.Fatal(err)
	}
	reg.Genomes["h2"] = "a"

	if _, err := Reconcile(reg); !errors.Is(err, ErrGenomeConflict) {
		t.Fatalf("Reconcile error = %v, want ErrGenomeConflict", err)
	}
	if reg.Genomes["h1"] != "a" || reg.Genomes["h2"] != "a" {
		t.Error("Reconcile altered a conflicting genome binding")
	}
}
