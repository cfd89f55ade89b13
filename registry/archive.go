// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// Shared zstd coders; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("registry: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("registry: zstd decoder initialization failed: " + err.Error())
	}
}

var snapshotPattern = regexp.MustCompile(`^niche_map\.v(\d+)\.json(\.zst)?$`)

// Snapshot describes one audit snapshot on disk.
type Snapshot struct {
	Version    int64
	Path       string
	Compressed bool
}

// Snapshots lists the audit snapshots in the state directory, oldest
// first.
func (s *Store) Snapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing registry directory: %w", err)
	}
	var snapshots []Snapshot
	for _, entry := range entries {
		match := snapshotPattern.FindStringSubmatch(entry.Name())
		if match == nil || entry.IsDir() {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Version:    version,
			Path:       filepath.Join(s.directory, entry.Name()),
			Compressed: match[2] != "",
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Version < snapshots[j].Version })
	return snapshots, nil
}

// ArchiveSnapshots compresses every uncompressed snapshot except the
// newest keep into niche_map.v{N}.json.zst and removes the original.
// It returns the versions archived. Archival does not change registry
// state, so it does not take the lock.
func (s *Store) ArchiveSnapshots(keep int) ([]int64, error) {
	if keep < 0 {
		return nil, fmt.Errorf("archiving snapshots: keep must be non-negative, got %d", keep)
	}
	snapshots, err := s.Snapshots()
	if err != nil {
		return nil, err
	}

	var plain []Snapshot
	for _, snapshot := range snapshots {
		if !snapshot.Compressed {
			plain = append(plain, snapshot)
		}
	}
	if len(plain) <= keep {
		return nil, nil
	}

	var archived []int64
	for _, snapshot := range plain[:len(plain)-keep] {
		data, err := os.ReadFile(snapshot.Path)
		if err != nil {
			return archived, fmt.Errorf("reading snapshot v%d: %w", snapshot.Version, err)
		}
		compressed := zstdEncoder.EncodeAll(data, nil)
		if err := writeAtomic(snapshot.Path+".zst", compressed, nil, false); err != nil {
			return archived, fmt.Errorf("archiving snapshot v%d: %w", snapshot.Version, err)
		}
		if err := os.Remove(snapshot.Path); err != nil {
			return archived, fmt.Errorf("removing archived snapshot v%d: %w", snapshot.Version, err)
		}
		archived = append(archived, snapshot.Version)
	}
	s.logger.Info("archived registry snapshots", "count", len(archived), "kept", keep)
	return archived, nil
}

// ReadSnapshot loads the audit snapshot for version, compressed or
// not.
func (s *Store) ReadSnapshot(version int64) (*Registry, error) {
	path := s.SnapshotPath(version)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		path += ".zst"
		var compressed []byte
		compressed, err = os.ReadFile(path)
		if err == nil {
			data, err = zstdDecoder.DecodeAll(compressed, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: decompressing %s: %v", ErrCorrupt, path, err)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot v%d: %w", version, err)
	}
	return decode(data, path)
}
