// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the bus, the graduator,
// and the spawner. Production code injects Real(); tests inject Fake()
// and drive time explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C and call Stop when
// done. C has capacity 1; ticks are dropped when the reader lags.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Epoch converts t to float epoch seconds, the timestamp encoding used
// by signal envelopes and registry records.
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpoch converts float epoch seconds back to a time.Time.
func FromEpoch(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
