// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package graduator

import (
	"github.com/zooid-fleet/zooid/fitness"
	"github.com/zooid-fleet/zooid/lib/config"
)

// Decision is the outcome of evaluating one PROBATION record.
type Decision string

const (
	// DecisionSkip: no usable evidence yet.
	DecisionSkip Decision = "skip"

	// DecisionHold: Gate A failed; stay in PROBATION.
	DecisionHold Decision = "hold"

	// DecisionPromote: both gates passed.
	DecisionPromote Decision = "promote"

	// DecisionRetry: Gate A passed, Gate B failed, retries remain.
	DecisionRetry Decision = "retry"

	// DecisionRetire: Gate B failed once too often.
	DecisionRetire Decision = "retire"
)

// Rollback and retry reasons.
const (
	ReasonProdGateNotMet   = "prod_gate_not_met"
	ReasonRetryCeiling     = "probation_retry_ceiling"
	ReasonNoHeartbeat      = "rollback_no_heartbeat"
	ReasonInterrupted      = "rollback_interrupted"
	ReasonSLAViolation     = "sla_violation"
	ReasonServiceStartFail = "service_start_failed"
)

// Gates holds the two gate results.
type Gates struct {
	TrialFitness bool
	Production   bool
}

// EvaluateGates applies the thresholds in policy.
func EvaluateGates(policy config.GraduationConfig, trial fitness.Aggregate, prod fitness.ProdStats) Gates {
	return Gates{
		TrialFitness: trial.Mean >= policy.PhaseThreshold && trial.Count >= policy.MinPhaseEvidence,
		Production:   prod.Rate() >= policy.ProdOKThreshold && prod.Total >= policy.ProdMinEvidence,
	}
}

// Decide maps gate results and the record's prior retry count to a
// decision. hasEvidence is false when no trial row was usable.
func Decide(policy config.GraduationConfig, hasEvidence bool, gates Gates, retries int) Decision {
	switch {
	case !hasEvidence:
		return DecisionSkip
	case !gates.TrialFitness:
		return DecisionHold
	case gates.Production:
		return DecisionPromote
	case retries+1 >= policy.ProbationMaxRetries:
		return DecisionRetire
	default:
		return DecisionRetry
	}
}
