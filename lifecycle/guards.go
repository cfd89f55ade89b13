// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle holds the zooid state machine: pure guard
// functions, and transitions that mutate a loaded registry in place.
// It performs no I/O; side effects go through the injected Hooks.
package lifecycle

import (
	"fmt"

	"github.com/zooid-fleet/zooid/registry"
)

// GuardResult is the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts a denial to an error.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

var allowedTransitions = map[registry.LifecycleState]map[registry.LifecycleState]struct{}{
	registry.Dormant: {
		registry.Probation: {},
		registry.Retired:   {},
	},
	registry.Probation: {
		registry.Active:  {},
		registry.Dormant: {},
		registry.Retired: {},
	},
	registry.Active: {
		registry.Dormant: {},
		registry.Retired: {},
	},
	registry.Retired: {},
}

// ValidateTransition reports whether from -> to is a legal edge.
func ValidateTransition(from, to registry.LifecycleState) error {
	edges, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("invalid lifecycle state %q", from)
	}
	if _, ok := edges[to]; !ok {
		return fmt.Errorf("illegal lifecycle transition %s -> %s", from, to)
	}
	return nil
}

// CanStartProbation requires DORMANT.
func CanStartProbation(name string, from registry.LifecycleState) GuardResult {
	return requireState("start probation for", name, from, registry.Dormant)
}

// CanPromote requires PROBATION.
func CanPromote(name string, from registry.LifecycleState) GuardResult {
	return requireState("promote", name, from, registry.Probation)
}

// CanEndProbation requires PROBATION.
func CanEndProbation(name string, from registry.LifecycleState) GuardResult {
	return requireState("end probation for", name, from, registry.Probation)
}

// CanDemote requires ACTIVE.
func CanDemote(name string, from registry.LifecycleState) GuardResult {
	return requireState("demote", name, from, registry.Active)
}

// CanRetire allows any state but RETIRED.
func CanRetire(name string, from registry.LifecycleState) GuardResult {
	if from.Terminal() {
		return GuardResult{Reason: fmt.Sprintf("cannot retire %s: already retired", name)}
	}
	if !from.Valid() {
		return GuardResult{Reason: fmt.Sprintf("cannot retire %s: invalid state %q", name, from)}
	}
	return GuardResult{Allowed: true}
}

func requireState(action, name string, from, want registry.LifecycleState) GuardResult {
	if from != want {
		return GuardResult{
			Reason: fmt.Sprintf("cannot %s %s: state is %s, need %s", action, name, from, want),
		}
	}
	return GuardResult{Allowed: true}
}
