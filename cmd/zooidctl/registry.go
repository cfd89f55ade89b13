// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/registry"
)

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:    "registry",
		Summary: "Inspect and repair the niche map",
		Subcommands: []*cli.Command{
			registryShowCommand(),
			registryReconcileCommand(),
			registryArchiveCommand(),
		},
	}
}

func registryShowCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Niche string
		State string
	}
	return &cli.Command{
		Name:    "show",
		Summary: "List zooids by niche and state",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("show", &params.global)
			flagSet.StringVar(&params.Niche, "niche", "", "only this niche")
			flagSet.StringVar(&params.State, "state", "", "only this lifecycle state")
			params.AddFlag(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Active latency monitors", Command: "zooidctl registry show --niche latency_monitor --state active"},
		},
		Run: func(args []string) error {
			env, err := params.global.open("registry/show")
			if err != nil {
				return err
			}
			defer env.Close()

			var state registry.LifecycleState
			if params.State != "" {
				if state, err = registry.ParseState(params.State); err != nil {
					return err
				}
			}
			reg, err := env.Registry.Load()
			if err != nil {
				return err
			}

			var records []*registry.Zooid
			for _, candidate := range registry.States {
				if state != "" && candidate != state {
					continue
				}
				for _, record := range reg.InState(candidate) {
					if params.Niche == "" || record.Niche == params.Niche {
						records = append(records, record)
					}
				}
			}
			if done, err := params.EmitJSON(records); done {
				return err
			}
			renderRegistry(os.Stdout, reg.Version, records, cli.IsTerminal())
			return nil
		},
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	stateStyles = map[registry.LifecycleState]lipgloss.Style{
		registry.Active:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		registry.Probation: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		registry.Dormant:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		registry.Retired:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Faint(true),
	}
)

// maxReasonWidth bounds the REASON column in terminal cells.
const maxReasonWidth = 40

func renderRegistry(w io.Writer, version int64, records []*registry.Zooid, styled bool) {
	headers := []string{"NAME", "NICHE", "STATE", "GENOME", "DEMOTIONS", "RETRIES", "REASON"}
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		genomePrefix := record.GenomeHash
		if len(genomePrefix) > 12 {
			genomePrefix = genomePrefix[:12]
		}
		rows = append(rows, []string{
			record.Name,
			record.Niche,
			string(record.LifecycleState),
			genomePrefix,
			fmt.Sprint(record.Demotions),
			fmt.Sprint(record.Probation.Retries),
			ansi.Truncate(record.LastReason, maxReasonWidth, "…"),
		})
	}

	widths := make([]int, len(headers))
	for column, header := range headers {
		widths[column] = lipgloss.Width(header)
		for _, row := range rows {
			widths[column] = max(widths[column], lipgloss.Width(row[column]))
		}
	}

	cell := func(text string, column int, style *lipgloss.Style) string {
		padded := text + strings.Repeat(" ", widths[column]-lipgloss.Width(text))
		if styled && style != nil {
			return style.Render(padded)
		}
		return padded
	}

	line := make([]string, len(headers))
	for column, header := range headers {
		line[column] = cell(header, column, &headerStyle)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(line, "  "), " "))
	for i, row := range rows {
		stateStyle := stateStyles[records[i].LifecycleState]
		for column, text := range row {
			var style *lipgloss.Style
			if column == 2 {
				style = &stateStyle
			}
			line[column] = cell(text, column, style)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(line, "  "), " "))
	}
	fmt.Fprintf(w, "\n%d zooids, registry version %d\n", len(records), version)
}

func registryReconcileCommand() *cli.Command {
	var params struct {
		global globalFlags
		cli.JSONOutput
		Check bool
	}
	return &cli.Command{
		Name:    "reconcile",
		Summary: "Repair index entries that disagree with their records",
		Description: `Rebuild the niche index from the records it describes. Index entries
naming a missing record, or sitting in the wrong bucket, are removed;
records missing from their bucket are added back. Genome bindings that
point at missing records are reported but kept.

With --check nothing is written and the command exits 1 when repairs
would be made.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("reconcile", &params.global)
			flagSet.BoolVar(&params.Check, "check", false, "report without writing")
			params.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("registry/reconcile")
			if err != nil {
				return err
			}
			defer env.Close()

			var fixes []registry.Fix
			if params.Check {
				reg, err := env.Registry.Load()
				if err != nil {
					return err
				}
				if fixes, err = registry.Reconcile(reg); err != nil {
					return err
				}
			} else {
				err = env.Registry.Update(context.Background(), func(reg *registry.Registry) (bool, error) {
					var err error
					fixes, err = registry.Reconcile(reg)
					if err != nil {
						return false, err
					}
					for _, fix := range fixes {
						if fix.Kind != registry.FixOrphanGenome {
							return true, nil
						}
					}
					return false, nil
				})
				if err != nil {
					return err
				}
			}

			if done, err := params.EmitJSON(fixes); done {
				return err
			}
			for _, fix := range fixes {
				fmt.Printf("%-22s %-18s %-10s %s%s\n", fix.Kind, fix.Niche, fix.Bucket, fix.Name, fix.Hash)
			}
			if len(fixes) == 0 {
				fmt.Println("registry consistent")
			}
			if params.Check && len(fixes) > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func registryArchiveCommand() *cli.Command {
	var params struct {
		global globalFlags
		Keep   int
	}
	return &cli.Command{
		Name:    "archive",
		Summary: "Compress old versioned snapshots",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("archive", &params.global)
			flagSet.IntVar(&params.Keep, "keep", 20, "number of newest snapshots to leave uncompressed")
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("registry/archive")
			if err != nil {
				return err
			}
			defer env.Close()

			archived, err := env.Registry.ArchiveSnapshots(params.Keep)
			if err != nil {
				return err
			}
			fmt.Printf("archived %d snapshots\n", len(archived))
			return nil
		},
	}
}
