// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Zooid-busd runs the signal bus hub: the affect broadcast socket and
// the trophic work-queue socket in the configured bus directory.
// Reflex endpoints are served by the zooids themselves and do not pass
// through the hub.
//
// On SIGINT or SIGTERM it closes both sockets, waits for connection
// handlers to finish, and removes the socket files.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/bus"
	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/lib/config"
	"github.com/zooid-fleet/zooid/lib/process"
	"github.com/zooid-fleet/zooid/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		directory     string
		logLevel      string
		statsInterval time.Duration
		showVersion   bool
	)
	flags := pflag.NewFlagSet("zooid-busd", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to zooid.yaml")
	flags.StringVar(&directory, "directory", "", "socket directory (overrides paths.bus)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.DurationVar(&statsInterval, "stats-interval", time.Minute, "how often to log hub statistics (0 disables)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("zooid-busd")
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := cli.NewCommandLogger(level).With("binary", "zooid-busd")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if directory == "" {
		directory = cfg.Paths.Bus
	}

	hub, err := bus.NewHub(bus.HubConfig{
		Directory:  directory,
		QueueDepth: cfg.Bus.QueueDepth,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := process.SignalContext()
	defer stop()

	if statsInterval > 0 {
		go func() {
			select {
			case <-hub.Ready():
			case <-ctx.Done():
				return
			}
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stats := hub.Stats()
					logger.Info("hub stats",
						"subscribers", stats.Subscribers,
						"published", stats.Published,
						"dropped", stats.Dropped,
						"queued", stats.Queued,
					)
				}
			}
		}()
	}

	logger.Info("bus hub starting", "directory", directory, "version", version.Info())
	if err := hub.Serve(ctx); err != nil {
		return err
	}
	logger.Info("bus hub stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.LoadFile(path)
}
