// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package spawner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JournalEvent is the event name of every spawn journal entry.
const JournalEvent = "dream_spawn"

// JournalEntry is one accepted spawn.
type JournalEntry struct {
	TS         float64        `json:"ts"`
	Event      string         `json:"event"`
	Zooid      string         `json:"zooid"`
	Niche      string         `json:"niche"`
	Ecosystem  string         `json:"ecosystem"`
	GenomeHash string         `json:"genome_hash"`
	Phenotype  map[string]any `json:"phenotype"`
}

// AppendJournal appends entries to the NDJSON journal at path, creating
// it (and its directory) if needed, and syncs the file.
func AppendJournal(path string, entries ...JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening spawn journal: %w", err)
	}
	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			return fmt.Errorf("encoding journal entry for %s: %w", entry.Zooid, err)
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("writing spawn journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing spawn journal: %w", err)
	}
	return file.Close()
}

// ReadJournal returns every entry in the journal at path. A missing
// journal is empty.
func ReadJournal(path string) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening spawn journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry JournalEntry
		if err := decoder.Decode(&entry); err != nil {
			return entries, fmt.Errorf("reading spawn journal entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
