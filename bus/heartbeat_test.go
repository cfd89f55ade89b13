// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/testutil"
)

func heartbeatFrom(name string, at time.Time) Envelope {
	return Envelope{
		Signal: SignalHeartbeat,
		Facts:  Facts{"name": name},
		TS:     clock.Epoch(at),
	}
}

func TestHeartbeatWatcherWait(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	watcher := NewHeartbeatWatcher(fake)

	result := make(chan bool, 1)
	go func() {
		result <- watcher.Wait(context.Background(), "lat-1", start, 30*time.Second)
	}()
	fake.WaitForTimers(1)

	watcher.Observe(heartbeatFrom("other", start.Add(time.Second)))
	watcher.Observe(heartbeatFrom("lat-1", start.Add(-time.Second)))
	testutil.RequireNoReceive(t, result, 20*time.Millisecond, "stale heartbeat satisfied Wait")

	watcher.Observe(heartbeatFrom("lat-1", start.Add(2*time.Second)))
	if !testutil.RequireReceive(t, result, testTimeout) {
		t.Error("Wait = false after a fresh heartbeat")
	}
	if at, ok := watcher.LastSeen("lat-1"); !ok || !at.Equal(start.Add(2*time.Second)) {
		t.Errorf("LastSeen = %v, %v", at, ok)
	}
}

func TestHeartbeatWatcherTimeout(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	watcher := NewHeartbeatWatcher(fake)

	result := make(chan bool, 1)
	go func() {
		result <- watcher.Wait(context.Background(), "silent", start, 30*time.Second)
	}()
	fake.WaitForTimers(1)
	fake.Advance(30 * time.Second)

	if testutil.RequireReceive(t, result, testTimeout) {
		t.Error("Wait = true with no heartbeat")
	}
}

func TestHeartbeatWatcherIgnoresOtherSignals(t *testing.T) {
	watcher := NewHeartbeatWatcher(nil)
	watcher.Observe(Envelope{Signal: "STATE", Facts: Facts{"name": "x"}, TS: 1})
	watcher.Observe(Envelope{Signal: SignalHeartbeat, Facts: Facts{"name": 3}, TS: 1})
	if _, ok := watcher.LastSeen("x"); ok {
		t.Error("non-heartbeat envelope recorded")
	}
}
