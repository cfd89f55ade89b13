// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/colony"
	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/lib/process"
)

// repeat runs tick once, or every interval until interrupted when
// interval is positive. A failed tick is logged and does not stop the
// loop.
func repeat(ctx context.Context, env *colony.Env, interval time.Duration, tick func(context.Context) error) error {
	if interval <= 0 {
		return tick(ctx)
	}
	ticker := env.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := tick(ctx); err != nil {
			env.Logger.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func spawnCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Niche     string
		Ecosystem string
		Count     int
		Parent    string
		Every     time.Duration
	}
	return &cli.Command{
		Name:    "spawn",
		Summary: "Run the dream spawn tick, or spawn variants of one niche",
		Description: `Without --niche, run the dream spawn tick: every configured niche below
its active floor and dormant ceiling gets spawn.per_niche new DORMANT
variants. With --niche, spawn --count variants of that niche directly,
optionally descending from --parent.

Variants whose genome is already registered are skipped.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("spawn", &params.global)
			flagSet.StringVar(&params.Niche, "niche", "", "spawn into this niche only")
			flagSet.StringVar(&params.Ecosystem, "ecosystem", "", "ecosystem for --niche variants")
			flagSet.IntVarP(&params.Count, "count", "n", 1, "variants to spawn with --niche")
			flagSet.StringVar(&params.Parent, "parent", "", "registered zooid the variants descend from")
			flagSet.DurationVar(&params.Every, "every", 0, "repeat the dream tick at this interval until interrupted")
			params.AddFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Top up every niche", Command: "zooidctl spawn"},
			{Description: "Three children of one zooid", Command: "zooidctl spawn --niche housekeeping --count 3 --parent housekeeping-3f2a9c01d4e7"},
		},
		Run: func(args []string) error {
			env, err := params.global.open("spawn")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			if params.Niche != "" {
				result, err := env.Spawner.Spawn(ctx, params.Niche, params.Ecosystem, params.Count, params.Parent)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(result); done {
					return err
				}
				fmt.Printf("registered %d, skipped %d\n", len(result.Registered), result.Skipped)
				return nil
			}

			return repeat(ctx, env, params.Every, func(ctx context.Context) error {
				result, err := env.Spawner.DreamSpawnTick(ctx, env.SpawnPolicy())
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(result); done {
					return err
				}
				for _, name := range result.Registered {
					fmt.Println(name)
				}
				fmt.Printf("registered %d, skipped %d\n", len(result.Registered), result.Skipped)
				return nil
			})
		},
	}
}

func batchCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Every time.Duration
	}
	return &cli.Command{
		Name:    "batch",
		Summary: "Move eligible DORMANT zooids into a new probation batch",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("batch", &params.global)
			flagSet.DurationVar(&params.Every, "every", 0, "repeat at this interval until interrupted")
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("batch")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			return repeat(ctx, env, params.Every, func(ctx context.Context) error {
				batch, err := env.Graduator.BatchTrigger(ctx)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(batch); done {
					return err
				}
				fmt.Printf("batch %s: %d started\n", batch.ID, len(batch.Started))
				for _, name := range batch.Started {
					fmt.Printf("  %s\n", name)
				}
				return nil
			})
		},
	}
}

func graduateCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Every time.Duration
	}
	return &cli.Command{
		Name:    "graduate",
		Summary: "Evaluate every PROBATION zooid against the graduation gates",
		Description: `Run one graduation tick. Interrupted promotions left behind by a dead
process are rolled back first. Each PROBATION zooid is then promoted,
held, sent back to DORMANT, or retired according to its trial fitness
and production evidence.

Promotion publishes a service start request on the bus and waits for
the zooid's heartbeat, so zooid-busd must be running.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("graduate", &params.global)
			flagSet.DurationVar(&params.Every, "every", 0, "repeat at this interval until interrupted")
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("graduate")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			if err := env.WatchHeartbeats(ctx); err != nil {
				return err
			}
			return repeat(ctx, env, params.Every, func(ctx context.Context) error {
				results, err := env.Graduator.Tick(ctx)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(results); done {
					return err
				}
				for _, result := range results {
					fmt.Printf("%-32s %-8s %-10s trial=%.3f (n=%d) prod=%d/%d %s\n",
						result.Zooid, result.Decision, result.FinalState,
						result.Trial.Mean, result.Trial.Count,
						result.Prod.OK, result.Prod.Total, result.Reason)
				}
				return nil
			})
		},
	}
}

func slaCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Every time.Duration
	}
	return &cli.Command{
		Name:    "sla",
		Summary: "Demote ACTIVE zooids whose production ok-rate fell below the SLA",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("sla", &params.global)
			flagSet.DurationVar(&params.Every, "every", 0, "repeat at this interval until interrupted")
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("sla")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			return repeat(ctx, env, params.Every, func(ctx context.Context) error {
				demoted, err := env.Graduator.EnforceSLA(ctx)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(demoted); done {
					return err
				}
				for _, name := range demoted {
					fmt.Printf("demoted %s\n", name)
				}
				return nil
			})
		},
	}
}

func runCommand() *cli.Command {
	var params struct {
		global globalFlags
		Only   []string
	}
	return &cli.Command{
		Name:    "run",
		Summary: "Run every periodic tick on its configured schedule",
		Description: `Run the SLA, graduation, batch, spawn, and archive ticks in one
process on the cron schedules in the config's schedule section, until
interrupted. Ticks never overlap. A failed tick is logged and retried
at its next scheduled time.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("run", &params.global)
			flagSet.StringSliceVar(&params.Only, "only", nil, "run only these ticks (sla, graduate, batch, spawn, archive)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Graduation and SLA only", Command: "zooidctl run --only graduate,sla"},
		},
		Run: func(args []string) error {
			env, err := params.global.open("run")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			jobs, err := env.Jobs()
			if err != nil {
				return err
			}
			if len(params.Only) > 0 {
				var selected []colony.Job
				for _, job := range jobs {
					if slices.Contains(params.Only, job.Name) {
						selected = append(selected, job)
					}
				}
				jobs = selected
			}
			for _, job := range jobs {
				if job.Name == "graduate" {
					if err := env.WatchHeartbeats(ctx); err != nil {
						return err
					}
				}
			}
			return env.RunSchedule(ctx, jobs)
		},
	}
}
