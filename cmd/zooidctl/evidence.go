// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/fitness"
	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/lib/clock"
)

func evidenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "evidence",
		Summary: "Record and inspect fitness evidence",
		Subcommands: []*cli.Command{
			evidenceAddCommand(),
			evidenceOutcomeCommand(),
			evidenceImportCommand(),
			evidenceShowCommand(),
		},
	}
}

func evidenceAddCommand() *cli.Command {
	var params struct {
		global  globalFlags
		Fitness float64
		TS      float64
	}
	return &cli.Command{
		Name:    "add",
		Summary: "Append one trial fitness row",
		Usage:   "zooidctl evidence add <zooid> --fitness <score> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("add", &params.global)
			flagSet.Float64Var(&params.Fitness, "fitness", 0, "composite fitness score")
			flagSet.Float64Var(&params.TS, "ts", 0, "epoch seconds (default now)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one zooid name, got %d arguments", len(args))
			}
			env, err := params.global.open("evidence/add")
			if err != nil {
				return err
			}
			defer env.Close()

			ts := params.TS
			if ts == 0 {
				ts = clock.Epoch(env.Clock.Now())
			}
			return env.Evidence.Append(context.Background(), fitness.Row{
				Candidate:        args[0],
				TS:               ts,
				CompositeFitness: params.Fitness,
			})
		},
	}
}

func evidenceOutcomeCommand() *cli.Command {
	var params struct {
		global globalFlags
		Failed bool
	}
	return &cli.Command{
		Name:    "outcome",
		Summary: "Record one production request outcome",
		Usage:   "zooidctl evidence outcome <zooid> [--failed]",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("outcome", &params.global)
			flagSet.BoolVar(&params.Failed, "failed", false, "record a failed request")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one zooid name, got %d arguments", len(args))
			}
			env, err := params.global.open("evidence/outcome")
			if err != nil {
				return err
			}
			defer env.Close()
			return env.Evidence.AppendOutcomes(context.Background(), fitness.Outcome{
				Candidate: args[0],
				TS:        clock.Epoch(env.Clock.Now()),
				OK:        !params.Failed,
			})
		},
	}
}

func evidenceImportCommand() *cli.Command {
	var params struct {
		global globalFlags
	}
	return &cli.Command{
		Name:    "import",
		Summary: "Import trial fitness rows from NDJSON",
		Description: `Import {"candidate", "ts", "composite_fitness"} rows, one JSON object
per line, from a file or "-" for stdin.`,
		Usage: "zooidctl evidence import <file|->",
		Flags: func() *pflag.FlagSet {
			return newFlagSet("import", &params.global)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one input file, got %d arguments", len(args))
			}
			var input io.Reader = os.Stdin
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				input = file
			}

			env, err := params.global.open("evidence/import")
			if err != nil {
				return err
			}
			defer env.Close()

			count, err := fitness.ImportNDJSON(context.Background(), env.Evidence, input)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d rows\n", count)
			return nil
		},
	}
}

func evidenceShowCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "show",
		Summary: "Show a zooid's decayed trial fitness and production ok-rate",
		Usage:   "zooidctl evidence show <zooid>",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("show", &params.global)
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one zooid name, got %d arguments", len(args))
			}
			env, err := params.global.open("evidence/show")
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := context.Background()
			now := env.Clock.Now()
			policy := env.Config.Graduation
			rows, err := env.Evidence.Rows(ctx, args[0])
			if err != nil {
				return err
			}
			aggregate, ok := fitness.Decay(rows, now, policy.HalfLife)
			prod, err := env.Evidence.ProdStats(ctx, args[0], now.Add(-policy.ProdWindow), now)
			if err != nil {
				return err
			}

			summary := struct {
				Zooid       string            `json:"zooid"`
				HasEvidence bool              `json:"has_evidence"`
				Trial       fitness.Aggregate `json:"trial"`
				ProdOK      int               `json:"prod_ok"`
				ProdTotal   int               `json:"prod_total"`
				ProdRate    float64           `json:"prod_rate"`
			}{args[0], ok, aggregate, prod.OK, prod.Total, prod.Rate()}
			if done, err := params.EmitJSON(summary); done {
				return err
			}

			if !ok {
				fmt.Printf("%s: no trial evidence\n", args[0])
			} else {
				fmt.Printf("%s: trial mean %.3f over %d rows (%d discarded)", args[0], aggregate.Mean, aggregate.Count, aggregate.Discarded)
				if aggregate.HasCI {
					fmt.Printf(", 95%% CI [%.3f, %.3f]", aggregate.CILow, aggregate.CIHigh)
				}
				fmt.Println()
			}
			fmt.Printf("%s: production %d/%d ok (%.1f%%) over %s\n", args[0], prod.OK, prod.Total, 100*prod.Rate(), policy.ProdWindow)
			return nil
		},
	}
}
