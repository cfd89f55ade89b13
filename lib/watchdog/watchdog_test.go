// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var started = time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC)

func TestWriteRead(t *testing.T) {
	path := Path(t.TempDir(), "latency-a1")
	state := State{
		Zooid:     "latency-a1",
		Niche:     "latency_monitor",
		Action:    "await_heartbeat",
		PID:       4242,
		StartedAt: started,
		Deadline:  started.Add(30 * time.Second),
	}
	if err := Write(path, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Zooid != state.Zooid || got.Niche != state.Niche || got.PID != state.PID {
		t.Errorf("Read = %+v, want %+v", got, state)
	}
	if !got.Deadline.Equal(state.Deadline) {
		t.Errorf("Deadline = %v, want %v", got.Deadline, state.Deadline)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing"+fileSuffix))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing: err = %v, want os.ErrNotExist", err)
	}
}

func TestListSortsAndSkipsForeignFiles(t *testing.T) {
	directory := t.TempDir()
	for i, name := range []string{"b", "a"} {
		state := State{Zooid: name, StartedAt: started.Add(time.Duration(1-i) * time.Minute)}
		if err := Write(Path(directory, name), state); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(directory, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	states, err := List(directory)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("List returned %d states, want 2", len(states))
	}
	if states[0].Zooid != "a" || states[1].Zooid != "b" {
		t.Errorf("order = %s,%s, want a,b", states[0].Zooid, states[1].Zooid)
	}
}

func TestListMissingDirectory(t *testing.T) {
	states, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(states) != 0 {
		t.Errorf("List absent dir = %v, %v; want empty, nil", states, err)
	}
}

func TestExpired(t *testing.T) {
	state := State{Deadline: started}
	if state.Expired(started) {
		t.Error("state expired exactly at its deadline")
	}
	if !state.Expired(started.Add(time.Second)) {
		t.Error("state not expired after its deadline")
	}
}

func TestClearIdempotent(t *testing.T) {
	path := Path(t.TempDir(), "gone")
	if err := Clear(path); err != nil {
		t.Fatalf("Clear missing: %v", err)
	}
	if err := Write(path, State{Zooid: "gone"}); err != nil {
		t.Fatal(err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still present after Clear")
	}
}
