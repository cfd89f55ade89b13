// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package colony

import (
	"context"
	"fmt"
	"time"

	"github.com/zooid-fleet/zooid/bus"
	"github.com/zooid-fleet/zooid/graduator"
	"github.com/zooid-fleet/zooid/lifecycle"
)

// Service control signals. A supervisor subscribed to TopicService
// starts or stops the named zooid's process when it sees them.
const (
	TopicService       = "service."
	SignalServiceStart = "SERVICE_START"
	SignalServiceStop  = "SERVICE_STOP"
)

// serviceHooks connects the graduator to the bus. Starting and
// stopping a service is a request published to the supervisor;
// liveness is confirmed by the zooid's own heartbeat.
func (e *Env) serviceHooks() graduator.Hooks {
	return graduator.Hooks{
		StartService: func(ctx context.Context, name string) error {
			return e.emitService(ctx, SignalServiceStart, name)
		},
		StopService: func(ctx context.Context, name string) {
			if err := e.emitService(ctx, SignalServiceStop, name); err != nil {
				e.Logger.Error("stop request failed", "zooid", name, "error", err)
			}
		},
		WaitHeartbeat: e.Heartbeats.Wait,
		OnEvent:       e.publishTransition,
	}
}

func (e *Env) emitService(ctx context.Context, signal, name string) error {
	_, err := e.Publisher.Emit(ctx, TopicService+name, bus.EmitOptions{
		Signal: signal,
		Facts:  bus.Facts{"zooid": name, "requested_by": e.Name},
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", signal, name, err)
	}
	return nil
}

// publishTransition broadcasts a persisted transition on the lifecycle
// topic. Delivery is best effort: the registry is the record.
func (e *Env) publishTransition(event lifecycle.TransitionEvent) {
	timeout := e.Config.Bus.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := e.Publisher.Emit(ctx, bus.TopicLifecycle+event.Zooid, bus.EmitOptions{
		Signal:    event.Event,
		Ecosystem: event.Ecosystem,
		Facts:     bus.Facts(event.Facts()),
	})
	if err != nil {
		e.Logger.Warn("lifecycle event not published",
			"zooid", event.Zooid,
			"event", event.Event,
			"error", err,
		)
	}
}
