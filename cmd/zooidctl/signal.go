// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/zooid-fleet/zooid/bus"
	"github.com/zooid-fleet/zooid/lib/cli"
	"github.com/zooid-fleet/zooid/lib/process"
)

// parseFacts turns key=value pairs into envelope facts. Values that
// parse as JSON keep their type; anything else is a string.
func parseFacts(pairs []string) (bus.Facts, error) {
	facts := bus.Facts{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("fact %q is not key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			facts[key] = decoded
		} else {
			facts[key] = value
		}
	}
	return facts, nil
}

type emitParams struct {
	global     globalFlags
	Topic      string
	Signal     string
	Ecosystem  string
	Intensity  float64
	Facts      []string
	IncidentID string
	Trace      string
	Trophic    bool
	Reflex     string
}

func (p *emitParams) options() (bus.EmitOptions, error) {
	facts, err := parseFacts(p.Facts)
	if err != nil {
		return bus.EmitOptions{}, err
	}
	return bus.EmitOptions{
		Signal:     p.Signal,
		Ecosystem:  p.Ecosystem,
		Intensity:  p.Intensity,
		Facts:      facts,
		IncidentID: p.IncidentID,
		Trace:      p.Trace,
	}, nil
}

func emitCommand() *cli.Command {
	var params emitParams
	return &cli.Command{
		Name:    "emit",
		Summary: "Send one signal on the bus",
		Description: `Send one signal envelope. By default it is broadcast on the affect
channel to every subscriber of --topic. --trophic queues it for exactly
one puller of --topic instead, and --reflex sends it to one zooid's
reflex socket and waits for the acknowledgement.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("emit", &params.global)
			flagSet.StringVar(&params.Topic, "topic", "", "topic to publish on")
			flagSet.StringVar(&params.Signal, "signal", "", "signal name (required)")
			flagSet.StringVar(&params.Ecosystem, "ecosystem", "", "ecosystem")
			flagSet.Float64Var(&params.Intensity, "intensity", 0, "intensity (default 1.0)")
			flagSet.StringArrayVar(&params.Facts, "fact", nil, "fact as key=value (repeatable)")
			flagSet.StringVar(&params.IncidentID, "incident", "", "incident id (default: generated)")
			flagSet.StringVar(&params.Trace, "trace", "", "trace id")
			flagSet.BoolVar(&params.Trophic, "trophic", false, "queue for one puller instead of broadcasting")
			flagSet.StringVar(&params.Reflex, "reflex", "", "send to this reflex address and wait for the ack")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "zooidctl emit --topic latency. --signal LATENCY_SPIKE --ecosystem ops --fact p99_ms=840"},
			{Command: "zooidctl emit --reflex housekeeping-3f2a9c01d4e7 --signal FLUSH"},
		},
		Run: func(args []string) error {
			if params.Signal == "" {
				return fmt.Errorf("--signal is required")
			}
			if params.Reflex == "" && params.Topic == "" {
				return fmt.Errorf("--topic or --reflex is required")
			}
			opts, err := params.options()
			if err != nil {
				return err
			}
			env, err := params.global.open("emit")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			switch {
			case params.Reflex != "":
				client := bus.ReflexClient{
					Directory: env.Config.Paths.Bus,
					Clock:     env.Clock,
					Timeout:   env.Config.Bus.RequestTimeout,
				}
				ack, err := client.Request(ctx, params.Reflex, opts)
				if err != nil {
					return err
				}
				return cli.WriteJSON(ack)
			case params.Trophic:
				envelope, err := env.Publisher.Push(ctx, params.Topic, opts)
				if err != nil {
					return err
				}
				fmt.Println(envelope.IncidentID)
			default:
				envelope, err := env.Publisher.Emit(ctx, params.Topic, opts)
				if err != nil {
					return err
				}
				fmt.Println(envelope.IncidentID)
			}
			return nil
		},
	}
}

func listenCommand() *cli.Command {
	var params struct {
		global    globalFlags
		Topic     string
		Niche     string
		Ecosystem string
		Trophic   bool
		Reflex    string
	}
	return &cli.Command{
		Name:    "listen",
		Summary: "Print signals as they arrive",
		Description: `Subscribe to --topic and print every envelope as one JSON line until
interrupted or killed. The listener heartbeats under --name like any
other subscriber. --trophic pulls work items from --topic instead, and
--reflex serves a reflex socket at the given address, acknowledging
every request.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("listen", &params.global)
			flagSet.StringVar(&params.Topic, "topic", "", "topic prefix (empty: every topic)")
			flagSet.StringVar(&params.Niche, "niche", "", "niche stamped on heartbeats")
			flagSet.StringVar(&params.Ecosystem, "ecosystem", "", "ecosystem stamped on heartbeats")
			flagSet.BoolVar(&params.Trophic, "trophic", false, "pull work items instead of subscribing")
			flagSet.StringVar(&params.Reflex, "reflex", "", "serve the reflex socket at this address")
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("listen")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			encoder := json.NewEncoder(os.Stdout)
			printEnvelope := func(_ context.Context, envelope bus.Envelope) error {
				return encoder.Encode(envelope)
			}

			switch {
			case params.Reflex != "":
				err = bus.ServeReflex(ctx, bus.ReflexConfig{
					Directory:    env.Config.Paths.Bus,
					Address:      params.Reflex,
					Handler:      printEnvelope,
					Clock:        env.Clock,
					Logger:       env.Logger,
					ReplayWindow: env.Config.Bus.ReplayWindow,
				})
			case params.Trophic:
				if params.Topic == "" {
					return fmt.Errorf("--trophic requires --topic")
				}
				err = bus.Pull(ctx, bus.PullConfig{
					Directory:    env.Config.Paths.Bus,
					Topic:        params.Topic,
					Name:         env.Name,
					Handler:      printEnvelope,
					Clock:        env.Clock,
					Logger:       env.Logger,
					ReplayWindow: env.Config.Bus.ReplayWindow,
					RetryDelay:   env.Config.Bus.RetryDelay,
				})
			default:
				cfg := env.SubscribeConfig()
				cfg.Topic = params.Topic
				cfg.Niche = params.Niche
				cfg.Ecosystem = params.Ecosystem
				cfg.Handler = printEnvelope
				subscriber, subscribeErr := bus.Subscribe(ctx, cfg)
				if subscribeErr != nil {
					return subscribeErr
				}
				select {
				case <-ctx.Done():
					subscriber.Close()
				case <-subscriber.Killed():
					subscriber.Close()
					err = bus.ErrKilled
				}
			}
			if errors.Is(err, bus.ErrKilled) {
				env.Logger.Info("listener killed")
				return nil
			}
			return err
		},
	}
}

func killCommand() *cli.Command {
	var params struct {
		global globalFlags
		Target string
		Reflex string
		Reason string
	}
	return &cli.Command{
		Name:    "kill",
		Summary: "Broadcast the governance kill switch",
		Description: `Broadcast governance.kill. Every subscriber stops its receive loop
unless --target names a different receiver. --reflex delivers the kill
to one reflex server instead.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("kill", &params.global)
			flagSet.StringVar(&params.Target, "target", "", "only the receiver with this name")
			flagSet.StringVar(&params.Reflex, "reflex", "", "kill the reflex server at this address")
			flagSet.StringVar(&params.Reason, "reason", "", "reason recorded in the kill's facts")
			return flagSet
		},
		Run: func(args []string) error {
			env, err := params.global.open("kill")
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := process.SignalContext()
			defer stop()

			facts := bus.Facts{"issued_by": env.Name}
			if params.Target != "" {
				facts["target"] = params.Target
			}
			if params.Reason != "" {
				facts["reason"] = params.Reason
			}
			opts := bus.EmitOptions{Signal: bus.SignalKill, Facts: facts}

			if params.Reflex != "" {
				client := bus.ReflexClient{
					Directory: env.Config.Paths.Bus,
					Clock:     env.Clock,
					Timeout:   env.Config.Bus.RequestTimeout,
				}
				_, err := client.Request(ctx, params.Reflex, opts)
				return err
			}
			_, err = env.Publisher.Emit(ctx, bus.SignalKill, opts)
			return err
		},
	}
}
