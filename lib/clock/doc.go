// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used across the
// zooid fleet: heartbeat cadence on the bus, replay-window pruning,
// fitness decay, probation cooldowns, and the heartbeat SLO during
// promotion.
//
// Production code receives a Clock through its config struct and never
// calls time.Now or time.Sleep directly. Tests construct Fake() and
// move time with Advance, using WaitForTimers to make sure a goroutine
// has registered its sleep or ticker first:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(c)
//	c.WaitForTimers(1)
//	c.Advance(10 * time.Second)
//
// Epoch and FromEpoch convert between time.Time and the float epoch
// seconds carried on the wire and in registry records.
package clock
