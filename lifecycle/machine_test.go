// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/registry"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	started []string
	stopped []string
	events  []TransitionEvent
	failing map[string]bool
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStartService: func(name string) error {
			r.started = append(r.started, name)
			if r.failing[name] {
				return errors.New("exec failed")
			}
			return nil
		},
		OnStopService: func(name string) { r.stopped = append(r.stopped, name) },
		OnEvent:       func(event TransitionEvent) { r.events = append(r.events, event) },
	}
}

func newRegistry(t *testing.T, state registry.LifecycleState) *registry.Registry {
	t.Helper()
	reg := registry.New()
	err := reg.Register(&registry.Zooid{
		Name:           "lat-1",
		Ecosystem:      "ops",
		Niche:          "latency_monitor",
		LifecycleState: state,
		GenomeHash:     "h1",
		ParentLineage:  []string{"lat-0"},
		CreatedTS:      clock.Epoch(epoch),
		EnteredTS:      clock.Epoch(epoch),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func assertIndexed(t *testing.T, reg *registry.Registry, name string, state registry.LifecycleState) {
	t.Helper()
	record := reg.Zooids[name]
	if record.LifecycleState != state {
		t.Fatalf("%s state = %s, want %s", name, record.LifecycleState, state)
	}
	for _, bucket := range registry.States {
		count := 0
		for _, entry := range reg.Niches[record.Niche].Names(bucket) {
			if entry == name {
				count++
			}
		}
		want := 0
		if bucket == state {
			want = 1
		}
		if count != want {
			t.Errorf("%s appears %d times in %s, want %d", name, count, bucket.Bucket(), want)
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	reg := newRegistry(t, registry.Dormant)
	rec := &recorder{}
	machine := &Machine{Hooks: rec.hooks()}
	now := epoch

	now = now.Add(time.Hour)
	if !machine.StartProbation(reg, "lat-1", now, "batch-9") {
		t.Fatal("StartProbation failed")
	}
	assertIndexed(t, reg, "lat-1", registry.Probation)
	if reg.Zooids["lat-1"].Probation.BatchID != "batch-9" {
		t.Errorf("BatchID = %q", reg.Zooids["lat-1"].Probation.BatchID)
	}

	now = now.Add(2 * time.Hour)
	if !machine.PromoteToActive(reg, "lat-1", now) {
		t.Fatal("PromoteToActive failed")
	}
	assertIndexed(t, reg, "lat-1", registry.Active)
	if reg.Zooids["lat-1"].PromotedTS != clock.Epoch(now) {
		t.Errorf("PromotedTS = %v", reg.Zooids["lat-1"].PromotedTS)
	}

	now = now.Add(time.Hour)
	if !machine.DemoteToDormant(reg, "lat-1", now, "sla_violation") {
		t.Fatal("DemoteToDormant failed")
	}
	assertIndexed(t, reg, "lat-1", registry.Dormant)
	if reg.Zooids["lat-1"].Demotions != 1 {
		t.Errorf("Demotions = %d", reg.Zooids["lat-1"].Demotions)
	}

	if !machine.Retire(reg, "lat-1", now, "operator") {
		t.Fatal("Retire failed")
	}
	assertIndexed(t, reg, "lat-1", registry.Retired)

	if len(rec.started) != 1 || len(rec.stopped) != 1 {
		t.Errorf("started %v stopped %v, want one each", rec.started, rec.stopped)
	}
	wantEvents := []string{EventStartProbation, EventPromote, EventDemote, EventRetire}
	if len(rec.events) != len(wantEvents) {
		t.Fatalf("got %d events, want %d", len(rec.events), len(wantEvents))
	}
	for i, event := range rec.events {
		if event.Event != wantEvents[i] {
			t.Errorf("event %d = %s, want %s", i, event.Event, wantEvents[i])
		}
	}
	promote := rec.events[1]
	if promote.From != registry.Probation || promote.To != registry.Active || promote.ServiceAction != ServiceStart {
		t.Errorf("promote event = %+v", promote)
	}
	if promote.LifecyclePrevTS != (2 * time.Hour).Seconds() {
		t.Errorf("promote LifecyclePrevTS = %v, want 7200", promote.LifecyclePrevTS)
	}
	if promote.GenomeHash != "h1" || len(promote.ParentLineage) != 1 {
		t.Errorf("promote event lineage fields = %+v", promote)
	}
	if rec.events[3].ServiceAction != ServiceNone {
		t.Errorf("retire from DORMANT service_action = %s, want none", rec.events[3].ServiceAction)
	}
}

func TestTransitionsIdempotent(t *testing.T) {
	reg := newRegistry(t, registry.Active)
	rec := &recorder{}
	machine := &Machine{Hooks: rec.hooks()}

	if !machine.PromoteToActive(reg, "lat-1", epoch) {
		t.Error("PromoteToActive on ACTIVE returned false")
	}
	if len(rec.events) != 0 || len(rec.started) != 0 {
		t.Errorf("no-op promote had side effects: events %v started %v", rec.events, rec.started)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	tests := []struct {
		name  string
		from  registry.LifecycleState
		apply func(*Machine, *registry.Registry) bool
	}{
		{"probation from active", registry.Active, func(m *Machine, r *registry.Registry) bool {
			return m.StartProbation(r, "lat-1", epoch, "b")
		}},
		{"promote from dormant", registry.Dormant, func(m *Machine, r *registry.Registry) bool {
			return m.PromoteToActive(r, "lat-1", epoch)
		}},
		{"demote from probation", registry.Probation, func(m *Machine, r *registry.Registry) bool {
			return m.DemoteToDormant(r, "lat-1", epoch, "x")
		}},
		{"end probation from active", registry.Active, func(m *Machine, r *registry.Registry) bool {
			return m.EndProbation(r, "lat-1", epoch, "x")
		}},
		{"promote from retired", registry.Retired, func(m *Machine, r *registry.Registry) bool {
			return m.PromoteToActive(r, "lat-1", epoch)
		}},
		{"probation from retired", registry.Retired, func(m *Machine, r *registry.Registry) bool {
			return m.StartProbation(r, "lat-1", epoch, "b")
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reg := newRegistry(t, test.from)
			rec := &recorder{}
			machine := &Machine{Hooks: rec.hooks()}
			if test.apply(machine, reg) {
				t.Fatal("illegal transition returned true")
			}
			assertIndexed(t, reg, "lat-1", test.from)
			if len(rec.events) != 0 {
				t.Errorf("rejected transition emitted %v", rec.events)
			}
		})
	}
}

func TestUnknownZooidRejected(t *testing.T) {
	machine := &Machine{}
	if machine.Retire(registry.New(), "ghost", epoch, "x") {
		t.Error("Retire of unknown zooid returned true")
	}
}

func TestRetireStopsOnlyActive(t *testing.T) {
	for _, from := range []registry.LifecycleState{registry.Dormant, registry.Probation, registry.Active} {
		reg := newRegistry(t, from)
		rec := &recorder{}
		machine := &Machine{Hooks: rec.hooks()}
		if !machine.Retire(reg, "lat-1", epoch, "probation_retry_ceiling") {
			t.Fatalf("Retire from %s failed", from)
		}
		wantStops := 0
		if from == registry.Active {
			wantStops = 1
		}
		if len(rec.stopped) != wantStops {
			t.Errorf("Retire from %s stopped %d services, want %d", from, len(rec.stopped), wantStops)
		}
		if reg.Zooids["lat-1"].RetirementReason != "probation_retry_ceiling" {
			t.Errorf("RetirementReason = %q", reg.Zooids["lat-1"].RetirementReason)
		}
	}
}

func TestPromoteServiceStartFailureReverts(t *testing.T) {
	reg := newRegistry(t, registry.Probation)
	rec := &recorder{failing: map[string]bool{"lat-1": true}}
	machine := &Machine{Hooks: rec.hooks()}

	if machine.PromoteToActive(reg, "lat-1", epoch) {
		t.Fatal("PromoteToActive returned true despite start failure")
	}
	assertIndexed(t, reg, "lat-1", registry.Dormant)
	if reg.Zooids["lat-1"].LastReason != ReasonServiceStartFail {
		t.Errorf("LastReason = %q, want %q", reg.Zooids["lat-1"].LastReason, ReasonServiceStartFail)
	}
}

func TestEndProbationKeepsDemotions(t *testing.T) {
	reg := newRegistry(t, registry.Probation)
	machine := &Machine{}
	if !machine.EndProbation(reg, "lat-1", epoch, "prod_gate_not_met") {
		t.Fatal("EndProbation failed")
	}
	assertIndexed(t, reg, "lat-1", registry.Dormant)
	if reg.Zooids["lat-1"].Demotions != 0 {
		t.Errorf("Demotions = %d, want 0", reg.Zooids["lat-1"].Demotions)
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(registry.Retired, registry.Dormant); err == nil {
		t.Error("RETIRED -> DORMANT accepted")
	}
	if err := ValidateTransition(registry.Probation, registry.Dormant); err != nil {
		t.Errorf("PROBATION -> DORMANT: %v", err)
	}
	if err := ValidateTransition("LIMBO", registry.Dormant); err == nil {
		t.Error("unknown source state accepted")
	}
}

func TestEventFacts(t *testing.T) {
	facts := TransitionEvent{Event: EventRetire, Zooid: "a", ParentLineage: []string{"p"}}.Facts()
	if facts["zooid"] != "a" || facts["event"] != EventRetire {
		t.Errorf("facts = %v", facts)
	}
	if lineage, ok := facts["parent_lineage"].([]any); !ok || len(lineage) != 1 {
		t.Errorf("parent_lineage = %#v", facts["parent_lineage"])
	}
}
