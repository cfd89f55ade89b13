// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"reflect"
	"testing"
)

func newRecord(name, niche string, state LifecycleState, hash string) *Zooid {
	return &Zooid{
		Name:           name,
		Ecosystem:      "ops",
		Niche:          niche,
		LifecycleState: state,
		GenomeHash:     hash,
		Phenotype:      map[string]any{},
	}
}

func TestIndexHelpersIdempotent(t *testing.T) {
	reg := New()
	reg.IndexAdd("latency_monitor", Dormant, "a")
	reg.IndexAdd("latency_monitor", Dormant, "a")
	if got := reg.Niches["latency_monitor"].Dormant; !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("after double add Dormant = %v", got)
	}

	reg.IndexRemove("latency_monitor", Dormant, "a")
	reg.IndexRemove("latency_monitor", Dormant, "a")
	reg.IndexRemove("no_such_niche", Active, "a")
	if got := reg.Niches["latency_monitor"].Dormant; len(got) != 0 {
		t.Errorf("after double remove Dormant = %v", got)
	}

	reg.IndexAdd("latency_monitor", Dormant, "b")
	reg.IndexAdd("latency_monitor", Probation, "b")
	reg.IndexSet("latency_monitor", Active, "b")
	reg.IndexSet("latency_monitor", Active, "b")
	index := reg.Niches["latency_monitor"]
	if index.Count(Dormant) != 0 || index.Count(Probation) != 0 || !reflect.DeepEqual(index.Active, []string{"b"}) {
		t.Errorf("IndexSet left %+v", index)
	}
}

func TestGenomeBind(t *testing.T) {
	reg := New()
	if err := reg.GenomeBind("h1", "a"); err != nil {
		t.Fatalf("GenomeBind: %v", err)
	}
	if err := reg.GenomeBind("h1", "a"); err != nil {
		t.Errorf("rebinding the same pair: %v", err)
	}
	if err := reg.GenomeBind("h1", "b"); !errors.Is(err, ErrGenomeConflict) {
		t.Errorf("GenomeBind to another name error = %v, want ErrGenomeConflict", err)
	}
	if reg.Genomes["h1"] != "a" {
		t.Errorf("conflicting bind overwrote the binding: %q", reg.Genomes["h1"])
	}

	reg.GenomeUnbind("h1", "b")
	if !reg.HasGenome("h1") {
		t.Error("GenomeUnbind removed a hash bound to a different name")
	}
	reg.GenomeUnbind("h1", "a")
	if reg.HasGenome("h1") {
		t.Error("GenomeUnbind left the binding")
	}
}

func TestRegister(t *testing.T) {
	reg := New()
	if err := reg.Register(newRecord("a", "housekeeping", Dormant, "h1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(newRecord("a", "housekeeping", Dormant, "h2")); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate name error = %v", err)
	}
	if err := reg.Register(newRecord("b", "housekeeping", Dormant, "h1")); !errors.Is(err, ErrGenomeConflict) {
		t.Errorf("duplicate genome error = %v", err)
	}
	if _, ok := reg.Zooids["b"]; ok {
		t.Error("failed Register left a record behind")
	}
	if reg.Niches["housekeeping"].Count(Dormant) != 1 {
		t.Errorf("Dormant = %v", reg.Niches["housekeeping"].Dormant)
	}
}

func TestSetStateKeepsIndexInSync(t *testing.T) {
	reg := New()
	record := newRecord("a", "housekeeping", Dormant, "")
	if err := reg.Register(record); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, state := range []LifecycleState{Probation, Active, Dormant, Retired} {
		reg.SetState(record, state)
		for _, bucket := range States {
			want := 0
			if bucket == state {
				want = 1
			}
			if got := reg.Niches["housekeeping"].Count(bucket); got != want {
				t.Errorf("after SetState(%s): %s count = %d, want %d", state, bucket.Bucket(), got, want)
			}
		}
	}
}

func TestParseState(t *testing.T) {
	if state, err := ParseState("probation"); err != nil || state != Probation {
		t.Errorf("ParseState(probation) = %q, %v", state, err)
	}
	if _, err := ParseState("zombie"); err == nil {
		t.Error("ParseState(zombie) succeeded")
	}
}
