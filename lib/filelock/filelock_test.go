// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package filelock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
)

func TestTryAcquireContended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "niche_map.lock")

	held, err := Acquire(context.Background(), path, clock.Real())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// flock locks belong to the open file description, so a second
	// open in the same process contends like another process would.
	second, ok, err := TryAcquire(path)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ok {
		second.Release()
		t.Fatal("TryAcquire succeeded while the lock was held")
	}

	if err := held.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	third, ok, err := TryAcquire(path)
	if err != nil || !ok {
		t.Fatalf("TryAcquire after release: ok=%v err=%v", ok, err)
	}
	third.Release()
}

func TestAcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "niche_map.lock")
	held, err := Acquire(context.Background(), path, clock.Real())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Acquire(ctx, path, clock.Real())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire on held lock: err = %v, want context.DeadlineExceeded", err)
	}
}
