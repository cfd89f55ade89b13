// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/filelock"
)

// File names inside the state directory.
const (
	LiveFile = "niche_map.json"
	LockFile = "niche_map.lock"
)

// ErrCorrupt marks an existing registry file that cannot be parsed.
// It is fatal: the file is never silently replaced.
var ErrCorrupt = errors.New("registry file is corrupt")

// StoreConfig configures a Store.
type StoreConfig struct {
	// Directory holds the live file, snapshots, and lock file. It is
	// created on first write.
	Directory string

	// Clock paces lock polling.
	Clock clock.Clock

	Logger *slog.Logger
}

// Store loads and persists a Registry.
type Store struct {
	directory string
	clock     clock.Clock
	logger    *slog.Logger

	// beforeRename runs after the temp file is synced and before it is
	// renamed over the live file. Tests use it to simulate a crash.
	beforeRename func() error
}

// NewStore validates cfg.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("registry store: Directory is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{directory: cfg.Directory, clock: clk, logger: logger}, nil
}

// Directory returns the state directory.
func (s *Store) Directory() string { return s.directory }

// LivePath returns the path of niche_map.json.
func (s *Store) LivePath() string { return filepath.Join(s.directory, LiveFile) }

// SnapshotPath returns the audit snapshot path for version.
func (s *Store) SnapshotPath(version int64) string {
	return filepath.Join(s.directory, fmt.Sprintf("niche_map.v%d.json", version))
}

// Load reads the live registry without taking the lock. A missing file
// yields an empty registry; an unparseable one an error wrapping
// ErrCorrupt.
func (s *Store) Load() (*Registry, error) {
	data, err := os.ReadFile(s.LivePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return decode(data, s.LivePath())
}

func decode(data []byte, path string) (*Registry, error) {
	registry := New()
	if err := json.Unmarshal(data, registry); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	registry.normalize()
	return registry, nil
}

// Write increments reg.Version, writes the immutable snapshot
// niche_map.v{N}.json, then replaces the live file by writing a synced
// temp file and renaming it into place. On failure reg.Version is
// restored and the live file is untouched.
//
// Snapshots are never overwritten. A snapshot left by a write whose
// live rename failed keeps its version number, and the next write
// takes the first free version after it.
func (s *Store) Write(reg *Registry) error {
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	previous := reg.Version
	var data []byte
	for {
		reg.Version++
		encoded, err := json.MarshalIndent(reg, "", "  ")
		if err != nil {
			reg.Version = previous
			return fmt.Errorf("encoding registry: %w", err)
		}
		data = append(encoded, '\n')

		err = writeAtomic(s.SnapshotPath(reg.Version), data, nil, true)
		if errors.Is(err, fs.ErrExist) {
			s.logger.Warn("registry snapshot left by an unfinished write, skipping version",
				"version", reg.Version)
			continue
		}
		if err != nil {
			failed := reg.Version
			reg.Version = previous
			return fmt.Errorf("writing registry snapshot v%d: %w", failed, err)
		}
		break
	}
	if err := writeAtomic(s.LivePath(), data, s.beforeRename, false); err != nil {
		reg.Version = previous
		return fmt.Errorf("writing registry: %w", err)
	}
	s.logger.Debug("registry written", "version", reg.Version)
	return nil
}

// writeAtomic writes data to path via a synced temp file and rename,
// then syncs the directory so the rename is durable. With exclusive set
// the temp file is hard-linked into place instead, failing with an
// fs.ErrExist error when path already exists.
func writeAtomic(path string, data []byte, beforeRename func() error, exclusive bool) error {
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporaryPath, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	if beforeRename != nil {
		if err := beforeRename(); err != nil {
			return err
		}
	}
	if exclusive {
		err := os.Link(temporaryPath, path)
		os.Remove(temporaryPath)
		if err != nil {
			return fmt.Errorf("linking %s into place: %w", path, err)
		}
	} else if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Lock takes the exclusive registry lock, waiting until it is free or
// ctx is done. Release the returned lock when the write is finished.
func (s *Store) Lock(ctx context.Context) (*filelock.Lock, error) {
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return filelock.Acquire(ctx, filepath.Join(s.directory, LockFile), s.clock)
}

// WithLock runs fn while holding the registry lock.
func (s *Store) WithLock(ctx context.Context, fn func() error) error {
	lock, err := s.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Error("releasing registry lock", "error", err)
		}
	}()
	return fn()
}

// Update runs one read-mutate-write cycle under the lock: it loads the
// registry, calls fn, and writes the result if fn reports a change.
func (s *Store) Update(ctx context.Context, fn func(reg *Registry) (changed bool, err error)) error {
	return s.WithLock(ctx, func() error {
		reg, err := s.Load()
		if err != nil {
			return err
		}
		changed, err := fn(reg)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return s.Write(reg)
	})
}
