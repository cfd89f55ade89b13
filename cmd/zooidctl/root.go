// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/colony"
	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/lib/config"
	"github.com/zooid-fleet/zooid/lib/version"
)

func root() *cli.Command {
	return &cli.Command{
		Name:        "zooidctl",
		Description: "Operate a zooid fleet: registry, lifecycle ticks, evidence, and the signal bus.",
		Subcommands: []*cli.Command{
			registryCommand(),
			spawnCommand(),
			batchCommand(),
			graduateCommand(),
			slaCommand(),
			runCommand(),
			evidenceCommand(),
			emitCommand(),
			listenCommand(),
			killCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					version.Print("zooidctl")
					return nil
				},
			},
		},
	}
}

// globalFlags are accepted by every command that opens the fleet.
type globalFlags struct {
	ConfigPath string
	LogLevel   string
	Name       string
}

func (g *globalFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.ConfigPath, "config", os.Getenv(config.EnvConfigPath), "path to zooid.yaml")
	flagSet.StringVar(&g.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&g.Name, "name", "zooidctl", "name this process uses on the bus")
}

func newFlagSet(name string, global *globalFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	global.add(flagSet)
	return flagSet
}

func (g *globalFlags) logger(command string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", g.LogLevel, err)
	}
	return cli.NewCommandLogger(level).With("command", command), nil
}

func (g *globalFlags) config() (*config.Config, error) {
	if g.ConfigPath == "" {
		return config.Parse(nil)
	}
	return config.LoadFile(g.ConfigPath)
}

// open builds the colony environment for command.
func (g *globalFlags) open(command string) (*colony.Env, error) {
	logger, err := g.logger(command)
	if err != nil {
		return nil, err
	}
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	return colony.Open(cfg, colony.Options{Name: g.Name, Logger: logger})
}
