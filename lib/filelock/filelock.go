// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package filelock provides a scoped exclusive advisory lock on a file,
// used to serialize registry read-mutate-write cycles across OS
// processes.
//
// The lock is flock(2)-based: it belongs to the open file description,
// is released automatically when the holding process exits, and never
// blocks readers that do not take it. Acquire polls with LOCK_NB so a
// cancelled context interrupts the wait.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zooid-fleet/zooid/lib/clock"
)

// pollInterval is how often Acquire retries a contended lock.
const pollInterval = 25 * time.Millisecond

// Lock is a held exclusive lock. Release it exactly once.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if needed) the lock file at path and takes an
// exclusive flock on it, waiting until the lock is free or ctx is done.
func Acquire(ctx context.Context, path string, clk clock.Clock) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file, path: path}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-clk.After(pollInterval):
		}
	}
}

// TryAcquire takes the lock without waiting. It returns (nil, false,
// nil) when another holder has it.
func TryAcquire(path string) (*Lock, bool, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{file: file, path: path}, true, nil
}

// Release drops the lock and closes the lock file.
func (l *Lock) Release() error {
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing lock file %s: %w", l.path, closeErr)
	}
	return nil
}
