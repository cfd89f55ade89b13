// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package spawner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"text/template"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/genome"
	"github.com/zooid-fleet/zooid/registry"
)

// nameHashPrefix is how many hex characters of the genome hash go into
// a spawned zooid's name.
const nameHashPrefix = 12

// Config configures a Spawner.
type Config struct {
	Store *registry.Store

	// Ranges defaults to DefaultRanges.
	Ranges Ranges

	// Template defaults to DefaultTemplate.
	Template *template.Template

	// JournalPath is the NDJSON spawn journal. Empty disables the
	// journal.
	JournalPath string

	// Seed fixes the mutation RNG when non-zero. Two spawners with the
	// same seed draw the same phenotypes in the same order.
	Seed int64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Spawner generates DORMANT variants and registers them.
type Spawner struct {
	store    *registry.Store
	ranges   Ranges
	template *template.Template
	journal  string
	clock    clock.Clock
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates cfg and returns a Spawner.
func New(cfg Config) (*Spawner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("spawner: Store is required")
	}
	if cfg.Ranges == nil {
		cfg.Ranges = DefaultRanges()
	}
	if cfg.Template == nil {
		cfg.Template = DefaultTemplate
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	seed := uint64(cfg.Seed)
	if cfg.Seed == 0 {
		seed = rand.Uint64()
	}
	return &Spawner{
		store:    cfg.Store,
		ranges:   cfg.Ranges,
		template: cfg.Template,
		journal:  cfg.JournalPath,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Variant is one rendered candidate.
type Variant struct {
	Record   *registry.Zooid
	Artifact []byte
}

// SpawnVariants renders m candidates for niche. The records are
// DORMANT and unregistered. A non-nil parent contributes its lineage
// followed by its own name.
func (s *Spawner) SpawnVariants(niche, ecosystem string, m int, parent *registry.Zooid) ([]Variant, error) {
	if niche == "" {
		return nil, fmt.Errorf("spawning variants: niche is required")
	}
	var lineage []string
	parentName := ""
	if parent != nil {
		lineage = append(append(lineage, parent.ParentLineage...), parent.Name)
		parentName = parent.Name
	}
	nowTS := clock.Epoch(s.clock.Now())

	variants := make([]Variant, 0, m)
	for range m {
		s.mu.Lock()
		phenotype := MutateParams(s.rng, s.ranges, niche)
		s.mu.Unlock()

		artifact, err := Render(s.template, niche, ecosystem, parentName, phenotype)
		if err != nil {
			return nil, err
		}
		// encoding/json sorts map keys, which makes this canonical.
		serialized, err := json.Marshal(phenotype)
		if err != nil {
			return nil, fmt.Errorf("serializing phenotype for %s: %w", niche, err)
		}
		hash := genome.Compute(artifact, serialized).String()

		variants = append(variants, Variant{
			Artifact: artifact,
			Record: &registry.Zooid{
				Name:             fmt.Sprintf("%s-%s", niche, hash[:nameHashPrefix]),
				Ecosystem:        ecosystem,
				Niche:            niche,
				LifecycleState:   registry.Dormant,
				GenomeHash:       hash,
				ParentLineage:    append([]string(nil), lineage...),
				CreatedTS:        nowTS,
				EnteredTS:        nowTS,
				LastTransitionTS: nowTS,
				Phenotype:        phenotype,
			},
		})
	}
	return variants, nil
}

// NichePolicy bounds one niche's population.
type NichePolicy struct {
	Ecosystem  string
	MinActive  int
	MaxDormant int
}

// Policy drives DreamSpawnTick.
type Policy struct {
	PerNiche int
	Niches   map[string]NichePolicy
}

// TickResult reports one DreamSpawnTick.
type TickResult struct {
	Registered []string
	// Skipped counts candidates whose genome hash was already
	// registered.
	Skipped int
}

// DreamSpawnTick tops up every under-populated niche. A niche is
// under-populated when it has fewer than MinActive active zooids and
// fewer than MaxDormant dormant ones. Candidates whose genome is
// already registered are skipped. The registry is written once, and
// the journal is appended after the write succeeds.
func (s *Spawner) DreamSpawnTick(ctx context.Context, policy Policy) (TickResult, error) {
	result, err := s.registerUnderLock(ctx, func(reg *registry.Registry, accept func([]Variant) error) error {
		for _, niche := range sortedNiches(policy.Niches) {
			nichePolicy := policy.Niches[niche]
			index := reg.Niche(niche)
			if index.Count(registry.Active) >= nichePolicy.MinActive ||
				index.Count(registry.Dormant) >= nichePolicy.MaxDormant {
				continue
			}
			variants, err := s.SpawnVariants(niche, nichePolicy.Ecosystem, policy.PerNiche, nil)
			if err != nil {
				return err
			}
			if err := accept(variants); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("dream spawn tick: %w", err)
	}
	if len(result.Registered) > 0 || result.Skipped > 0 {
		s.logger.Info("dream spawn tick",
			"registered", len(result.Registered),
			"skipped", result.Skipped,
		)
	}
	return result, nil
}

// Spawn registers m variants of niche regardless of population. A
// non-empty parent must name a registered zooid, whose lineage the
// variants inherit.
func (s *Spawner) Spawn(ctx context.Context, niche, ecosystem string, m int, parent string) (TickResult, error) {
	result, err := s.registerUnderLock(ctx, func(reg *registry.Registry, accept func([]Variant) error) error {
		var parentRecord *registry.Zooid
		if parent != "" {
			record, ok := reg.Zooids[parent]
			if !ok {
				return fmt.Errorf("parent %q is not registered", parent)
			}
			parentRecord = record
			if ecosystem == "" {
				ecosystem = record.Ecosystem
			}
		}
		variants, err := s.SpawnVariants(niche, ecosystem, m, parentRecord)
		if err != nil {
			return err
		}
		return accept(variants)
	})
	if err != nil {
		return result, fmt.Errorf("spawning %s: %w", niche, err)
	}
	return result, nil
}

// registerUnderLock runs generate inside one registry update. accept
// registers variants whose genome is new and queues their journal
// entries, which are written only after the registry is persisted.
func (s *Spawner) registerUnderLock(ctx context.Context, generate func(reg *registry.Registry, accept func([]Variant) error) error) (TickResult, error) {
	var result TickResult
	var entries []JournalEntry

	err := s.store.Update(ctx, func(reg *registry.Registry) (bool, error) {
		accept := func(variants []Variant) error {
			for _, variant := range variants {
				record := variant.Record
				if reg.HasGenome(record.GenomeHash) {
					result.Skipped++
					continue
				}
				if err := reg.Register(record); err != nil {
					if errors.Is(err, registry.ErrDuplicateName) {
						s.logger.Warn("spawn name collision", "zooid", record.Name, "genome_hash", record.GenomeHash)
						result.Skipped++
						continue
					}
					return err
				}
				result.Registered = append(result.Registered, record.Name)
				entries = append(entries, JournalEntry{
					TS:         record.CreatedTS,
					Event:      JournalEvent,
					Zooid:      record.Name,
					Niche:      record.Niche,
					Ecosystem:  record.Ecosystem,
					GenomeHash: record.GenomeHash,
					Phenotype:  record.Phenotype,
				})
			}
			return nil
		}
		if err := generate(reg, accept); err != nil {
			return false, err
		}
		return len(result.Registered) > 0, nil
	})
	if err != nil {
		return TickResult{}, err
	}

	if s.journal != "" {
		if err := AppendJournal(s.journal, entries...); err != nil {
			return result, err
		}
	}
	return result, nil
}

func sortedNiches(niches map[string]NichePolicy) []string {
	names := make([]string, 0, len(niches))
	for niche := range niches {
		names = append(names, niche)
	}
	slices.Sort(names)
	return names
}
