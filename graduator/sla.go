// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package graduator

import (
	"context"
	"fmt"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lifecycle"
	"github.com/zooid-fleet/zooid/registry"
)

// EnforceSLA refreshes the prod block of every ACTIVE record and
// demotes those whose success rate over ProdWindow is below
// SLAOKThreshold, given at least ProdMinEvidence outcomes. Demoted
// records start a probation cooldown. It returns the demoted names.
func (g *Graduator) EnforceSLA(ctx context.Context) ([]string, error) {
	now := g.clock.Now()
	var demoted []string

	_, err := g.update(ctx, func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error) {
		changed := false
		for _, record := range reg.InState(registry.Active) {
			stats, err := g.evidence.ProdStats(ctx, record.Name, now.Add(-g.policy.ProdWindow), now)
			if err != nil {
				return false, fmt.Errorf("reading production evidence for %s: %w", record.Name, err)
			}
			before := record.Prod
			record.Prod.OKRateWindow = stats.Rate()
			record.Prod.EvidenceCount = stats.Total
			changed = changed || record.Prod != before

			if stats.Total < g.policy.ProdMinEvidence || stats.Rate() >= g.policy.SLAOKThreshold {
				continue
			}
			g.logger.Warn("SLA violation",
				"zooid", record.Name, "ok_rate", stats.Rate(), "evidence", stats.Total,
				"threshold", g.policy.SLAOKThreshold)
			record.CooldownUntilTS = clock.Epoch(now.Add(g.policy.ProbationCooldown))
			if machine.DemoteToDormant(reg, record.Name, now, ReasonSLAViolation) {
				demoted = append(demoted, record.Name)
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("SLA enforcement: %w", err)
	}
	return demoted, nil
}
