// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"log/slog"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/registry"
)

// Reasons recorded by the transitions themselves.
const (
	ReasonGatesPassed      = "gates_passed"
	ReasonServiceStartFail = "service_start_failed"
)

// Hooks are the side effects a transition may trigger. Every field is
// optional.
type Hooks struct {
	// OnStartService starts the named zooid's service. An error
	// reverts the promotion to DORMANT.
	OnStartService func(name string) error

	// OnStopService stops the named zooid's service.
	OnStopService func(name string)

	// OnEvent receives every completed transition.
	OnEvent func(TransitionEvent)
}

// Machine applies transitions to a registry. Each transition:
//
//   - is a silent no-op returning true when the record is already in
//     the target state;
//   - logs a warning and returns false when the record is missing or
//     its state fails the guard;
//   - otherwise moves the record and its index entry together, runs
//     the hook for its service action, and emits one TransitionEvent.
//
// A Machine is not safe for concurrent use on the same registry; the
// caller holds the registry lock for the whole read-mutate-write span.
type Machine struct {
	Hooks  Hooks
	Logger *slog.Logger
}

func (m *Machine) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}

// StartProbation moves a DORMANT record to PROBATION tagged with
// batchID. The probation retry counter carries over.
func (m *Machine) StartProbation(reg *registry.Registry, name string, now time.Time, batchID string) bool {
	record, ok := m.target(reg, name, registry.Probation, CanStartProbation)
	if !ok || record == nil {
		return ok
	}
	retries := record.Probation.Retries
	record.Probation = registry.ProbationBlock{
		StartedTS: clock.Epoch(now),
		BatchID:   batchID,
		Retries:   retries,
	}
	m.apply(reg, record, EventStartProbation, registry.Probation, "batch:"+batchID, ServiceNone, now)
	return true
}

// PromoteToActive moves a PROBATION record to ACTIVE and starts its
// service. If OnStartService fails the record is demoted straight back
// to DORMANT with reason service_start_failed and false is returned.
func (m *Machine) PromoteToActive(reg *registry.Registry, name string, now time.Time) bool {
	record, ok := m.target(reg, name, registry.Active, CanPromote)
	if !ok || record == nil {
		return ok
	}
	record.PromotedTS = clock.Epoch(now)
	record.CooldownUntilTS = 0
	action := ServiceNone
	if m.Hooks.OnStartService != nil {
		action = ServiceStart
	}
	m.apply(reg, record, EventPromote, registry.Active, ReasonGatesPassed, action, now)

	if m.Hooks.OnStartService != nil {
		if err := m.Hooks.OnStartService(name); err != nil {
			m.logger().Error("service start failed, reverting promotion", "zooid", name, "error", err)
			m.DemoteToDormant(reg, name, now, ReasonServiceStartFail)
			return false
		}
	}
	return true
}

// EndProbation returns a PROBATION record to DORMANT without counting
// a demotion. Used when a candidate fails the production gate.
func (m *Machine) EndProbation(reg *registry.Registry, name string, now time.Time, reason string) bool {
	record, ok := m.target(reg, name, registry.Dormant, CanEndProbation)
	if !ok || record == nil {
		return ok
	}
	m.apply(reg, record, EventEndProbation, registry.Dormant, reason, ServiceNone, now)
	return true
}

// DemoteToDormant moves an ACTIVE record to DORMANT, counts the
// demotion, and stops its service.
func (m *Machine) DemoteToDormant(reg *registry.Registry, name string, now time.Time, reason string) bool {
	record, ok := m.target(reg, name, registry.Dormant, CanDemote)
	if !ok || record == nil {
		return ok
	}
	record.Demotions++
	m.apply(reg, record, EventDemote, registry.Dormant, reason, ServiceStop, now)
	if m.Hooks.OnStopService != nil {
		m.Hooks.OnStopService(name)
	}
	return true
}

// Retire moves any non-RETIRED record to RETIRED. The service is
// stopped only if the record was ACTIVE.
func (m *Machine) Retire(reg *registry.Registry, name string, now time.Time, reason string) bool {
	record, ok := m.target(reg, name, registry.Retired, CanRetire)
	if !ok || record == nil {
		return ok
	}
	wasActive := record.LifecycleState == registry.Active
	record.RetirementReason = reason
	action := ServiceNone
	if wasActive {
		action = ServiceStop
	}
	m.apply(reg, record, EventRetire, registry.Retired, reason, action, now)
	if wasActive && m.Hooks.OnStopService != nil {
		m.Hooks.OnStopService(name)
	}
	return true
}

// target resolves name and checks the guard. It returns (nil, true)
// when the record is already in state to.
func (m *Machine) target(reg *registry.Registry, name string, to registry.LifecycleState, guard func(string, registry.LifecycleState) GuardResult) (*registry.Zooid, bool) {
	record, ok := reg.Zooids[name]
	if !ok {
		m.logger().Warn("transition for unknown zooid", "zooid", name, "to", to)
		return nil, false
	}
	if record.LifecycleState == to {
		return nil, true
	}
	if result := guard(name, record.LifecycleState); !result.Allowed {
		m.logger().Warn("transition rejected", "zooid", name, "to", to, "reason", result.Reason)
		return nil, false
	}
	if err := ValidateTransition(record.LifecycleState, to); err != nil {
		m.logger().Warn("transition rejected", "zooid", name, "to", to, "reason", err)
		return nil, false
	}
	return record, true
}

func (m *Machine) apply(reg *registry.Registry, record *registry.Zooid, event string, to registry.LifecycleState, reason, action string, now time.Time) {
	from := record.LifecycleState
	ts := clock.Epoch(now)
	entered := record.EnteredTS
	if entered == 0 {
		entered = record.CreatedTS
	}
	var inPrevious float64
	if entered > 0 && ts > entered {
		inPrevious = ts - entered
	}

	reg.SetState(record, to)
	record.EnteredTS = ts
	record.LastTransitionTS = ts
	record.LastReason = reason

	m.logger().Info("lifecycle transition",
		"zooid", record.Name, "niche", record.Niche, "from", from, "to", to, "reason", reason)

	if m.Hooks.OnEvent != nil {
		m.Hooks.OnEvent(TransitionEvent{
			Event:           event,
			TS:              ts,
			Zooid:           record.Name,
			Ecosystem:       record.Ecosystem,
			Niche:           record.Niche,
			From:            from,
			To:              to,
			Reason:          reason,
			LifecyclePrevTS: inPrevious,
			GenomeHash:      record.GenomeHash,
			ParentLineage:   append([]string(nil), record.ParentLineage...),
			ServiceAction:   action,
		})
	}
}
