// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package colony assembles the fleet's components from one
// configuration. An Env is built once per process and handed to
// whatever needs the registry, the bus, the evidence store, the
// graduator, or the spawner. There are no package-level singletons.
package colony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zooid-fleet/zooid/bus"
	"github.com/zooid-fleet/zooid/fitness"
	"github.com/zooid-fleet/zooid/graduator"
	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/config"
	"github.com/zooid-fleet/zooid/registry"
	"github.com/zooid-fleet/zooid/spawner"
)

// Options are the process-level inputs that do not come from the
// configuration file.
type Options struct {
	// Name identifies this process on the bus.
	Name string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Env holds every component of one process.
type Env struct {
	Config *config.Config
	Name   string
	Clock  clock.Clock
	Logger *slog.Logger

	Registry   *registry.Store
	Evidence   *fitness.Store
	Publisher  *bus.Publisher
	Heartbeats *bus.HeartbeatWatcher
	Graduator  *graduator.Graduator
	Spawner    *spawner.Spawner

	watcher *bus.Subscriber
}

// Open builds an Env from cfg. Nothing connects to the bus until the
// first publish or WatchHeartbeats.
func Open(cfg *config.Config, opts Options) (*Env, error) {
	if cfg == nil {
		return nil, fmt.Errorf("colony: Config is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("colony: Name is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	env := &Env{
		Config:     cfg,
		Name:       opts.Name,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		Heartbeats: bus.NewHeartbeatWatcher(opts.Clock),
	}

	var err error
	env.Registry, err = registry.NewStore(registry.StoreConfig{
		Directory: cfg.Paths.State,
		Clock:     opts.Clock,
		Logger:    opts.Logger.With("component", "registry"),
	})
	if err != nil {
		return nil, err
	}

	for _, directory := range []string{filepath.Dir(cfg.Paths.EvidenceDB), cfg.Paths.Watchdog} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	env.Evidence, err = fitness.Open(fitness.StoreConfig{
		Path:   cfg.Paths.EvidenceDB,
		Logger: opts.Logger.With("component", "evidence"),
	})
	if err != nil {
		return nil, err
	}

	env.Publisher, err = bus.NewPublisher(bus.PublisherConfig{
		Directory:     cfg.Paths.Bus,
		Clock:         opts.Clock,
		Logger:        opts.Logger.With("component", "publisher"),
		SlowJoinerGap: cfg.Bus.SlowJoinerGap,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Graduator, err = graduator.New(graduator.Config{
		Store:       env.Registry,
		Evidence:    env.Evidence,
		Policy:      cfg.Graduation,
		Hooks:       env.serviceHooks(),
		WatchdogDir: cfg.Paths.Watchdog,
		Clock:       opts.Clock,
		Logger:      opts.Logger.With("component", "graduator"),
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	ranges, err := spawner.LoadRanges(cfg.Spawn.Ranges)
	if err != nil {
		env.Close()
		return nil, err
	}
	template, err := spawner.LoadTemplate(cfg.Spawn.Template)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Spawner, err = spawner.New(spawner.Config{
		Store:       env.Registry,
		Ranges:      ranges,
		Template:    template,
		JournalPath: cfg.Paths.SpawnJournal,
		Seed:        cfg.Spawn.Seed,
		Clock:       opts.Clock,
		Logger:      opts.Logger.With("component", "spawner"),
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	return env, nil
}

// SpawnPolicy converts the spawn section into a DreamSpawnTick policy.
func (e *Env) SpawnPolicy() spawner.Policy {
	policy := spawner.Policy{
		PerNiche: e.Config.Spawn.PerNiche,
		Niches:   make(map[string]spawner.NichePolicy, len(e.Config.Spawn.Niches)),
	}
	for niche, nichePolicy := range e.Config.Spawn.Niches {
		policy.Niches[niche] = spawner.NichePolicy{
			Ecosystem:  nichePolicy.Ecosystem,
			MinActive:  nichePolicy.MinActive,
			MaxDormant: nichePolicy.MaxDormant,
		}
	}
	return policy
}

// SubscribeConfig returns a SubscribeConfig carrying this Env's bus
// settings. Callers fill in Topic and Handler.
func (e *Env) SubscribeConfig() bus.SubscribeConfig {
	return bus.SubscribeConfig{
		Directory:         e.Config.Paths.Bus,
		Name:              e.Name,
		Publisher:         e.Publisher,
		Clock:             e.Clock,
		Logger:            e.Logger.With("component", "subscriber"),
		ReplayWindow:      e.Config.Bus.ReplayWindow,
		HeartbeatInterval: e.Config.Bus.HeartbeatInterval,
		RetryDelay:        e.Config.Bus.RetryDelay,
	}
}

// WatchHeartbeats subscribes the Env's heartbeat watcher to the bus.
// Promotions wait on it, so a process that runs graduation ticks calls
// this first. Calling it again is a no-op.
func (e *Env) WatchHeartbeats(ctx context.Context) error {
	if e.watcher != nil {
		return nil
	}
	subscriber, err := bus.WatchHeartbeats(ctx, e.SubscribeConfig(), e.Heartbeats)
	if err != nil {
		return fmt.Errorf("watching heartbeats: %w", err)
	}
	e.watcher = subscriber
	return nil
}

// Close releases everything Open acquired.
func (e *Env) Close() error {
	if e.watcher != nil {
		e.watcher.Close()
	}
	var errs []error
	if e.Publisher != nil {
		errs = append(errs, e.Publisher.Close())
	}
	if e.Evidence != nil {
		errs = append(errs, e.Evidence.Close())
	}
	return errors.Join(errs...)
}
