// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package graduator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zooid-fleet/zooid/fitness"
	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/config"
	"github.com/zooid-fleet/zooid/lib/watchdog"
	"github.com/zooid-fleet/zooid/lifecycle"
	"github.com/zooid-fleet/zooid/registry"
)

// Evidence is the fitness stream the graduator reads.
// *fitness.Store implements it.
type Evidence interface {
	Rows(ctx context.Context, candidate string) ([]fitness.Row, error)
	ProdStats(ctx context.Context, candidate string, since, now time.Time) (fitness.ProdStats, error)
}

// Hooks connect the graduator to the process manager and the bus.
// Every hook runs outside the registry lock.
type Hooks struct {
	// StartService starts the named zooid. Required for promotion.
	StartService func(ctx context.Context, name string) error

	// StopService stops the named zooid.
	StopService func(ctx context.Context, name string)

	// WaitHeartbeat blocks until name heartbeats at or after since or
	// timeout elapses, reporting whether it did. Nil treats every
	// promotion as healthy.
	WaitHeartbeat func(ctx context.Context, name string, since time.Time, timeout time.Duration) bool

	// OnEvent receives every persisted lifecycle transition.
	OnEvent func(lifecycle.TransitionEvent)
}

// Config configures a Graduator.
type Config struct {
	Store    *registry.Store
	Evidence Evidence
	Policy   config.GraduationConfig
	Hooks    Hooks

	// WatchdogDir holds in-flight promotion files. Required.
	WatchdogDir string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Graduator runs graduation ticks. Ticks of one Graduator must not run
// concurrently; ticks of different processes serialize on the registry
// lock.
type Graduator struct {
	store       *registry.Store
	evidence    Evidence
	policy      config.GraduationConfig
	hooks       Hooks
	watchdogDir string
	clock       clock.Clock
	logger      *slog.Logger
}

// Result reports what a tick did with one record.
type Result struct {
	Zooid      string
	Decision   Decision
	Trial      fitness.Aggregate
	Prod       fitness.ProdStats
	FinalState registry.LifecycleState
	Reason     string
}

// New validates cfg.
func New(cfg Config) (*Graduator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("graduator: Store is required")
	}
	if cfg.Evidence == nil {
		return nil, fmt.Errorf("graduator: Evidence is required")
	}
	if cfg.WatchdogDir == "" {
		return nil, fmt.Errorf("graduator: WatchdogDir is required")
	}
	if cfg.Policy.ProbationMaxRetries <= 0 {
		return nil, fmt.Errorf("graduator: ProbationMaxRetries must be positive")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Graduator{
		store:       cfg.Store,
		evidence:    cfg.Evidence,
		policy:      cfg.Policy,
		hooks:       cfg.Hooks,
		watchdogDir: cfg.WatchdogDir,
		clock:       clk,
		logger:      logger,
	}, nil
}

// effects collects the side effects of a locked section so they can
// run after the lock is released, and only if the write succeeded.
// Service starts are recorded here and carried out by
// completePromotion, which also waits for the heartbeat.
type effects struct {
	events []lifecycle.TransitionEvent
	starts []string
	stops  []string
}

func (e *effects) machine(logger *slog.Logger) *lifecycle.Machine {
	return &lifecycle.Machine{
		Logger: logger,
		Hooks: lifecycle.Hooks{
			OnStartService: func(name string) error {
				e.starts = append(e.starts, name)
				return nil
			},
			OnStopService: func(name string) { e.stops = append(e.stops, name) },
			OnEvent:       func(event lifecycle.TransitionEvent) { e.events = append(e.events, event) },
		},
	}
}

func (g *Graduator) flush(ctx context.Context, pending *effects) {
	for _, name := range pending.stops {
		if g.hooks.StopService != nil {
			g.hooks.StopService(ctx, name)
		}
	}
	for _, event := range pending.events {
		if g.hooks.OnEvent != nil {
			g.hooks.OnEvent(event)
		}
	}
}

// update runs fn under the registry lock with a fresh effects buffer
// and flushes it once the lock is released. The returned buffer holds
// the service starts still to be performed.
func (g *Graduator) update(ctx context.Context, fn func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error)) (*effects, error) {
	pending := &effects{}
	err := g.store.Update(ctx, func(reg *registry.Registry) (bool, error) {
		return fn(reg, pending.machine(g.logger))
	})
	if err != nil {
		return nil, err
	}
	g.flush(ctx, pending)
	return pending, nil
}

// Tick recovers abandoned promotions, then evaluates every PROBATION
// record once.
func (g *Graduator) Tick(ctx context.Context) ([]Result, error) {
	if err := g.RecoverWatchdogs(ctx); err != nil {
		return nil, err
	}

	now := g.clock.Now()
	var results []Result

	pending, err := g.update(ctx, func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error) {
		changed := false
		for _, record := range reg.InState(registry.Probation) {
			result, recordChanged, err := g.evaluate(ctx, reg, machine, record, now)
			if err != nil {
				return false, err
			}
			changed = changed || recordChanged
			results = append(results, result)
		}
		return changed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graduation tick: %w", err)
	}

	for _, name := range pending.starts {
		for i := range results {
			if results[i].Zooid == name {
				g.completePromotion(ctx, &results[i], now)
			}
		}
	}
	return results, nil
}

func (g *Graduator) evaluate(ctx context.Context, reg *registry.Registry, machine *lifecycle.Machine, record *registry.Zooid, now time.Time) (Result, bool, error) {
	result := Result{Zooid: record.Name, FinalState: record.LifecycleState}

	rows, err := g.evidence.Rows(ctx, record.Name)
	if err != nil {
		return result, false, fmt.Errorf("reading evidence for %s: %w", record.Name, err)
	}
	trial, hasEvidence := fitness.Decay(rows, now, g.policy.HalfLife)
	result.Trial = trial
	if !hasEvidence {
		result.Decision = DecisionSkip
		return result, false, nil
	}
	prod, err := g.evidence.ProdStats(ctx, record.Name, now.Add(-g.policy.ProdWindow), now)
	if err != nil {
		return result, false, fmt.Errorf("reading production evidence for %s: %w", record.Name, err)
	}
	result.Prod = prod

	logArgs := []any{"zooid", record.Name, "mean", trial.Mean, "rows", trial.Count,
		"prod_rate", prod.Rate(), "prod_rows", prod.Total}
	if trial.HasCI {
		logArgs = append(logArgs, "ci_low", trial.CILow, "ci_high", trial.CIHigh)
	}
	g.logger.Debug("evaluated probation evidence", logArgs...)

	probationBefore, prodBefore := record.Probation, record.Prod
	record.Probation.EvidenceCount = trial.Count
	record.Prod.OKRateWindow = prod.Rate()
	record.Prod.EvidenceCount = prod.Total

	gates := EvaluateGates(g.policy, trial, prod)
	if gates.TrialFitness && record.Probation.PhaseSubmittedTS == 0 {
		record.Probation.PhaseSubmittedTS = clock.Epoch(now)
	}
	result.Decision = Decide(g.policy, true, gates, record.Probation.Retries)

	switch result.Decision {
	case DecisionHold:
		changed := record.Probation != probationBefore || record.Prod != prodBefore
		return result, changed, nil
	case DecisionPromote:
		if err := watchdog.Write(watchdog.Path(g.watchdogDir, record.Name), watchdog.State{
			Zooid:     record.Name,
			Niche:     record.Niche,
			Action:    "await_heartbeat",
			PID:       os.Getpid(),
			StartedAt: now,
			Deadline:  now.Add(2 * g.policy.HeartbeatSLO),
		}); err != nil {
			return result, false, fmt.Errorf("writing promotion watchdog for %s: %w", record.Name, err)
		}
		machine.PromoteToActive(reg, record.Name, now)
	case DecisionRetry:
		record.Probation.Retries++
		record.CooldownUntilTS = clock.Epoch(now.Add(g.policy.ProbationCooldown))
		machine.EndProbation(reg, record.Name, now, ReasonProdGateNotMet)
		result.Reason = ReasonProdGateNotMet
	case DecisionRetire:
		record.Probation.Retries++
		machine.Retire(reg, record.Name, now, ReasonRetryCeiling)
		result.Reason = ReasonRetryCeiling
	}
	result.FinalState = record.LifecycleState
	return result, true, nil
}

// completePromotion starts the service and waits for its heartbeat
// outside the lock, rolling back on failure.
func (g *Graduator) completePromotion(ctx context.Context, result *Result, promotedAt time.Time) {
	name := result.Zooid
	watchdogPath := watchdog.Path(g.watchdogDir, name)
	defer func() {
		if err := watchdog.Clear(watchdogPath); err != nil {
			g.logger.Error("clearing promotion watchdog", "zooid", name, "error", err)
		}
	}()

	reason := ""
	if g.hooks.StartService == nil {
		reason = ReasonServiceStartFail
		g.logger.Error("no StartService hook configured", "zooid", name)
	} else if err := g.hooks.StartService(ctx, name); err != nil {
		reason = ReasonServiceStartFail
		g.logger.Error("service start failed", "zooid", name, "error", err)
	} else if g.hooks.WaitHeartbeat != nil &&
		!g.hooks.WaitHeartbeat(ctx, name, promotedAt, g.policy.HeartbeatSLO) {
		reason = ReasonNoHeartbeat
		g.logger.Warn("no heartbeat within SLO", "zooid", name, "slo", g.policy.HeartbeatSLO)
	}

	now := g.clock.Now()
	finalState := registry.Active
	_, err := g.update(ctx, func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error) {
		record, ok := reg.Zooids[name]
		if !ok || record.LifecycleState != registry.Active {
			return false, nil
		}
		if reason == "" {
			record.Prod.LastHeartbeatTS = clock.Epoch(now)
			return true, nil
		}
		finalState, reason = g.rollback(reg, machine, record, now, reason)
		return true, nil
	})
	if err != nil {
		// The watchdog is cleared regardless; an ACTIVE record without a
		// heartbeat is caught by EnforceSLA or an operator.
		g.logger.Error("settling promotion", "zooid", name, "error", err)
		result.Reason = reason
		return
	}
	result.FinalState = finalState
	result.Reason = reason
}

// rollback takes a failed promotion out of ACTIVE. The failure counts
// as a probation retry: the record cools down in DORMANT, or retires
// once the retry ceiling is reached. It returns the resulting state and
// reason.
func (g *Graduator) rollback(reg *registry.Registry, machine *lifecycle.Machine, record *registry.Zooid, now time.Time, reason string) (registry.LifecycleState, string) {
	record.Probation.Retries++
	if record.Probation.Retries >= g.policy.ProbationMaxRetries {
		g.logger.Warn("promotion failures reached the retry ceiling",
			"zooid", record.Name, "retries", record.Probation.Retries, "last_failure", reason)
		machine.Retire(reg, record.Name, now, ReasonRetryCeiling)
		return registry.Retired, ReasonRetryCeiling
	}
	record.CooldownUntilTS = clock.Epoch(now.Add(g.policy.ProbationCooldown))
	machine.DemoteToDormant(reg, record.Name, now, reason)
	return registry.Dormant, reason
}

// RecoverWatchdogs rolls back promotions whose graduator died before
// settling them.
func (g *Graduator) RecoverWatchdogs(ctx context.Context) error {
	states, listErr := watchdog.List(g.watchdogDir)
	if listErr != nil {
		g.logger.Warn("reading promotion watchdogs", "error", listErr)
	}
	now := g.clock.Now()
	for _, state := range states {
		if !state.Expired(now) {
			continue
		}
		g.logger.Warn("rolling back interrupted promotion",
			"zooid", state.Zooid, "pid", state.PID, "started_at", state.StartedAt)
		_, err := g.update(ctx, func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error) {
			record, ok := reg.Zooids[state.Zooid]
			if !ok || record.LifecycleState != registry.Active {
				return false, nil
			}
			record.CooldownUntilTS = clock.Epoch(now.Add(g.policy.ProbationCooldown))
			return machine.DemoteToDormant(reg, state.Zooid, now, ReasonInterrupted), nil
		})
		if err != nil {
			return fmt.Errorf("recovering promotion of %s: %w", state.Zooid, err)
		}
		if err := watchdog.Clear(watchdog.Path(g.watchdogDir, state.Zooid)); err != nil {
			return err
		}
	}
	return nil
}
