// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fileSuffix marks watchdog state files inside the watchdog directory.
const fileSuffix = ".watchdog.json"

// State describes one in-flight promotion.
type State struct {
	// Zooid is the worker being promoted.
	Zooid string `json:"zooid"`

	// Niche is carried for operator diagnostics.
	Niche string `json:"niche"`

	// Action names the step in progress ("await_heartbeat").
	Action string `json:"action"`

	// PID is the graduator process that wrote the state.
	PID int `json:"pid"`

	// StartedAt is when the promotion began.
	StartedAt time.Time `json:"started_at"`

	// Deadline is when the promotion must have settled. A state read
	// after its deadline belongs to an abandoned promotion.
	Deadline time.Time `json:"deadline"`
}

// Path returns the state file path for zooid inside directory.
func Path(directory, zooid string) string {
	return filepath.Join(directory, zooid+fileSuffix)
}

// Write atomically writes state to path. The parent directory must
// exist.
func Write(path string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Read parses a watchdog state file. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog file %s: %w", path, err)
	}
	return state, nil
}

// List reads every state file in directory, sorted by StartedAt. A
// missing directory yields an empty list. Unparseable files are
// returned in the error alongside the states that did parse.
func List(directory string) ([]State, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing watchdog directory %s: %w", directory, err)
	}

	var states []State
	var readErrors []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		state, err := Read(filepath.Join(directory, entry.Name()))
		if err != nil {
			readErrors = append(readErrors, err)
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states, errors.Join(readErrors...)
}

// Expired reports whether the promotion described by state should have
// settled by now.
func (s State) Expired(now time.Time) bool {
	return now.After(s.Deadline)
}

// Clear removes a state file. Removing a missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
