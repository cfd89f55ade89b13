// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/codec"
)

// PullConfig configures Pull.
type PullConfig struct {
	Directory string
	Topic     string

	// Name is matched against kill targets.
	Name string

	Handler Handler

	Clock  clock.Clock
	Logger *slog.Logger

	ReplayWindow time.Duration
	RetryDelay   time.Duration
}

// Pull takes work items for topic from the trophic channel one at a
// time, running each through the same decode, kill, and replay rules
// as an affect subscriber. The hub hands each item to exactly one
// puller. Pull returns nil when ctx is cancelled and ErrKilled when a
// kill item reaches it.
func Pull(ctx context.Context, cfg PullConfig) error {
	if cfg.Directory == "" {
		return fmt.Errorf("bus pull: Directory is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("bus pull: Topic is required")
	}
	if cfg.Handler == nil {
		return fmt.Errorf("bus pull: Handler is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger.With("puller", cfg.Name, "topic", cfg.Topic)
	recv := newReceiver(cfg.Name, ChannelTrophic, cfg.Handler, cfg.ReplayWindow, cfg.Clock, logger)

	for {
		err := pullSession(ctx, cfg.Directory, cfg.Topic, recv)
		if errors.Is(err, ErrKilled) {
			return ErrKilled
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("trophic session ended", "error", err)
		if !sleep(ctx, cfg.Clock, cfg.RetryDelay) {
			return nil
		}
	}
}

func pullSession(ctx context.Context, directory, topic string, recv *receiver) error {
	conn, err := dial(ctx, TrophicSocket(directory))
	if err != nil {
		return fmt.Errorf("connecting to trophic channel: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	encoder := codec.NewEncoder(conn)
	decoder := codec.NewDecoder(conn)
	for {
		if err := encoder.Encode(frame{Kind: kindPull, Topic: topic}); err != nil {
			return fmt.Errorf("requesting work: %w", err)
		}
		var work frame
		if err := decoder.Decode(&work); err != nil {
			return fmt.Errorf("receiving work: %w", err)
		}
		if work.Kind != kindWork {
			continue
		}
		if _, result, err := recv.deliver(ctx, work.Topic, work.Payload); result == outcomeKilled {
			return err
		}
	}
}
