// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package graduator decides which probationary zooids go live.
//
// Each Tick evaluates every PROBATION record against two gates:
//
//   - Gate A (trial fitness): the decay-weighted mean of its fitness
//     rows reaches PhaseThreshold over at least MinPhaseEvidence rows.
//   - Gate B (production reliability): its production success rate
//     over ProdWindow reaches ProdOKThreshold over at least
//     ProdMinEvidence outcomes.
//
// Both pass: the record is promoted and persisted, the lock is
// released, then the service is started and the graduator waits up to
// HeartbeatSLO for its first heartbeat. A start failure or a missed
// heartbeat rolls the record back to DORMANT (service_start_failed,
// rollback_no_heartbeat) and counts as a failed probation: the retry
// counter grows, a cooldown starts, and at the retry ceiling the record
// is retired instead. A watchdog file covers the unlocked span: a
// later tick that finds an expired one rolls the record back with
// rollback_interrupted.
//
// Gate A passes and B fails: the record returns to DORMANT with reason
// prod_gate_not_met, its retry counter grows, and a cooldown starts.
// The ProbationMaxRetries-th such failure retires it with
// probation_retry_ceiling instead.
//
// Gate A fails: the record stays in PROBATION.
//
// BatchTrigger feeds PROBATION from DORMANT and EnforceSLA demotes
// ACTIVE records whose live success rate drops below SLAOKThreshold.
// Service hooks and transition events run after the registry lock is
// released.
package graduator
