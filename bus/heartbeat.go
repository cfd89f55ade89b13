// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

// HeartbeatWatcher tracks the latest heartbeat seen from each named
// subscriber. Feed it from a subscription on TopicHeartbeat (see
// WatchHeartbeats) or call Observe directly.
type HeartbeatWatcher struct {
	clock clock.Clock

	mu       sync.Mutex
	lastSeen map[string]time.Time
	changed  chan struct{}
}

// NewHeartbeatWatcher returns an empty watcher.
func NewHeartbeatWatcher(clk clock.Clock) *HeartbeatWatcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &HeartbeatWatcher{
		clock:    clk,
		lastSeen: make(map[string]time.Time),
		changed:  make(chan struct{}),
	}
}

// Observe records a heartbeat envelope. Envelopes that are not
// heartbeats or carry no name are ignored.
func (w *HeartbeatWatcher) Observe(envelope Envelope) {
	if envelope.Signal != SignalHeartbeat {
		return
	}
	name, ok := envelope.Facts.String("name")
	if !ok || name == "" {
		return
	}
	at := clock.FromEpoch(envelope.TS)

	w.mu.Lock()
	defer w.mu.Unlock()
	if previous, ok := w.lastSeen[name]; ok && !at.After(previous) {
		return
	}
	w.lastSeen[name] = at
	close(w.changed)
	w.changed = make(chan struct{})
}

// LastSeen returns the timestamp of name's newest heartbeat.
func (w *HeartbeatWatcher) LastSeen(name string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.lastSeen[name]
	return at, ok
}

// Wait blocks until name heartbeats at or after since, the timeout
// elapses, or ctx ends. It reports whether the heartbeat arrived.
func (w *HeartbeatWatcher) Wait(ctx context.Context, name string, since time.Time, timeout time.Duration) bool {
	deadline := w.clock.After(timeout)
	for {
		w.mu.Lock()
		at, ok := w.lastSeen[name]
		changed := w.changed
		w.mu.Unlock()
		if ok && !at.Before(since) {
			return true
		}

		select {
		case <-changed:
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Handler returns a bus Handler feeding the watcher.
func (w *HeartbeatWatcher) Handler() Handler {
	return func(_ context.Context, envelope Envelope) error {
		w.Observe(envelope)
		return nil
	}
}

// WatchHeartbeats subscribes watcher to the heartbeat topic. The
// returned subscriber emits no heartbeats of its own.
func WatchHeartbeats(ctx context.Context, cfg SubscribeConfig, watcher *HeartbeatWatcher) (*Subscriber, error) {
	cfg.Topic = TopicHeartbeat
	cfg.Handler = watcher.Handler()
	cfg.Publisher = nil
	return Subscribe(ctx, cfg)
}
