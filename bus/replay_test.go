// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"testing"
	"time"
)

func TestReplayGuardWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := NewReplayGuard(60 * time.Second)

	if guard.Seen("inc-1", start) {
		t.Fatal("fresh id reported as seen")
	}
	guard.Record("inc-1", start)
	guard.Record("inc-2", start.Add(30*time.Second))

	if !guard.Seen("inc-1", start.Add(59*time.Second)) {
		t.Error("inc-1 not seen inside the window")
	}
	if guard.Seen("inc-1", start.Add(61*time.Second)) {
		t.Error("inc-1 still seen after the window")
	}
	if guard.Len() != 1 {
		t.Errorf("Len = %d after pruning, want 1", guard.Len())
	}
	if !guard.Seen("inc-2", start.Add(61*time.Second)) {
		t.Error("inc-2 pruned too early")
	}
	if guard.Deduped() != 2 {
		t.Errorf("Deduped = %d, want 2", guard.Deduped())
	}
}

func TestReplayGuardRecordIsIdempotent(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard := NewReplayGuard(time.Minute)
	guard.Record("inc", start)
	guard.Record("inc", start.Add(50*time.Second))

	// The first record time governs expiry.
	if guard.Seen("inc", start.Add(70*time.Second)) {
		t.Error("re-recording extended the window")
	}
}
