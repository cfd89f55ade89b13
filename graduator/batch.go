// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package graduator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lifecycle"
	"github.com/zooid-fleet/zooid/registry"
)

// Batch reports one BatchTrigger run.
type Batch struct {
	ID      string
	Started []string
}

// BatchTrigger moves up to Policy.BatchSize DORMANT records whose
// cooldown has expired into PROBATION under one new batch id. A niche
// already holding Policy.MaxProbation probationers receives none.
// Oldest records go first.
func (g *Graduator) BatchTrigger(ctx context.Context) (Batch, error) {
	batch := Batch{ID: uuid.NewString()}
	now := g.clock.Now()
	nowTS := clock.Epoch(now)

	_, err := g.update(ctx, func(reg *registry.Registry, machine *lifecycle.Machine) (bool, error) {
		for _, niche := range reg.NicheNames() {
			if len(batch.Started) >= g.policy.BatchSize {
				break
			}
			index := reg.Niches[niche]
			room := g.policy.MaxProbation - index.Count(registry.Probation)
			if g.policy.MaxProbation <= 0 {
				room = g.policy.BatchSize
			}

			var eligible []*registry.Zooid
			for _, name := range index.Names(registry.Dormant) {
				record, ok := reg.Zooids[name]
				if !ok || record.CooldownUntilTS > nowTS {
					continue
				}
				eligible = append(eligible, record)
			}
			sort.Slice(eligible, func(i, j int) bool {
				if eligible[i].CreatedTS != eligible[j].CreatedTS {
					return eligible[i].CreatedTS < eligible[j].CreatedTS
				}
				return eligible[i].Name < eligible[j].Name
			})

			for _, record := range eligible {
				if room <= 0 || len(batch.Started) >= g.policy.BatchSize {
					break
				}
				if machine.StartProbation(reg, record.Name, now, batch.ID) {
					batch.Started = append(batch.Started, record.Name)
					room--
				}
			}
		}
		return len(batch.Started) > 0, nil
	})
	if err != nil {
		return Batch{}, fmt.Errorf("batch trigger: %w", err)
	}
	if len(batch.Started) > 0 {
		g.logger.Info("probation batch started", "batch_id", batch.ID, "zooids", batch.Started)
	}
	return batch, nil
}
