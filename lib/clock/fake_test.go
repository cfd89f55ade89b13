// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(5*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeTickerReschedules(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(10 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", c.PendingCount())
	}
}

func TestFakeSleepWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	<-done
}

func TestEpochRoundTrip(t *testing.T) {
	seconds := Epoch(epoch)
	if got := FromEpoch(seconds); !got.Equal(epoch) {
		t.Errorf("FromEpoch(Epoch(t)) = %v, want %v", got, epoch)
	}
}
