// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

// DefaultReplayWindow is how long incident ids are remembered.
const DefaultReplayWindow = 60 * time.Second

// DefaultRetryDelay is the pause before reconnecting after a socket
// error.
const DefaultRetryDelay = 500 * time.Millisecond

// ErrKilled is returned by receive loops stopped by governance.kill.
var ErrKilled = errors.New("killed by governance.kill")

// Handler processes one decoded envelope. A returned error is logged
// (and, on the reflex channel, sent back as a nack); it never stops the
// receive loop.
type Handler func(ctx context.Context, envelope Envelope) error

// outcome is what a receiver did with one payload.
type outcome int

const (
	outcomeHandled outcome = iota
	outcomeDropped
	outcomeDuplicate
	outcomeFailed
	outcomeKilled
)

// receiver applies the rules shared by every receive loop: decode, the
// kill switch, replay defense, then the handler.
type receiver struct {
	name    string
	channel Channel
	handler Handler
	guard   *ReplayGuard
	clock   clock.Clock
	logger  *slog.Logger

	killOnce sync.Once
	killed   chan struct{}
}

func newReceiver(name string, channel Channel, handler Handler, window time.Duration, clk clock.Clock, logger *slog.Logger) *receiver {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &receiver{
		name:    name,
		channel: channel,
		handler: handler,
		guard:   NewReplayGuard(window),
		clock:   clk,
		logger:  logger,
		killed:  make(chan struct{}),
	}
}

func (r *receiver) isKilled() bool {
	select {
	case <-r.killed:
		return true
	default:
		return false
	}
}

func (r *receiver) kill() {
	r.killOnce.Do(func() { close(r.killed) })
}

// deliver runs one payload through the receive rules. The returned
// envelope is zero when decoding failed.
func (r *receiver) deliver(ctx context.Context, topic string, payload []byte) (Envelope, outcome, error) {
	if r.isKilled() {
		return Envelope{}, outcomeKilled, ErrKilled
	}

	envelope, err := DecodeEnvelope(payload)
	if err != nil {
		r.logger.Warn("dropping malformed payload",
			"channel", r.channel, "topic", topic, "error", err)
		return Envelope{}, outcomeDropped, err
	}

	if envelope.Signal == SignalKill {
		if target, ok := envelope.Facts.String("target"); ok && target != "" && target != r.name {
			return envelope, outcomeDropped, nil
		}
		r.logger.Warn("kill switch received",
			"channel", r.channel, "name", r.name, "incident_id", envelope.IncidentID)
		r.kill()
		return envelope, outcomeKilled, ErrKilled
	}

	if envelope.IncidentID != "" && r.guard.Seen(envelope.IncidentID, r.clock.Now()) {
		r.logger.Debug("dropping duplicate incident",
			"channel", r.channel, "incident_id", envelope.IncidentID)
		return envelope, outcomeDuplicate, nil
	}

	handlerErr := r.invoke(ctx, envelope)
	if envelope.IncidentID != "" {
		r.guard.Record(envelope.IncidentID, r.clock.Now())
	}
	if handlerErr != nil {
		r.logger.Error("handler failed",
			"channel", r.channel, "signal", envelope.Signal, "topic", topic, "error", handlerErr)
		return envelope, outcomeFailed, handlerErr
	}
	return envelope, outcomeHandled, nil
}

func (r *receiver) invoke(ctx context.Context, envelope Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return r.handler(ctx, envelope)
}

// sleep waits for d or until ctx is done, reporting false on
// cancellation.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	select {
	case <-clk.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
