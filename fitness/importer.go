// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// importBatch bounds how many rows one transaction carries.
const importBatch = 500

// ImportNDJSON reads newline-delimited {candidate, ts,
// composite_fitness} objects from r and appends them to store. Blank
// lines are skipped. The first invalid line aborts the import; rows
// from earlier batches stay written. It returns the number of rows
// appended.
func ImportNDJSON(ctx context.Context, store *Store, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	imported := 0
	var batch []Row
	flush := func() error {
		if err := store.Append(ctx, batch...); err != nil {
			return err
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var row Row
		if err := json.Unmarshal(text, &row); err != nil {
			return imported, fmt.Errorf("evidence import: line %d: %w", line, err)
		}
		if row.Candidate == "" {
			return imported, fmt.Errorf("evidence import: line %d: missing candidate", line)
		}
		if math.IsNaN(row.CompositeFitness) || math.IsInf(row.CompositeFitness, 0) {
			return imported, fmt.Errorf("evidence import: line %d: non-finite composite_fitness", line)
		}
		batch = append(batch, row)
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return imported, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("evidence import: reading input: %w", err)
	}
	if err := flush(); err != nil {
		return imported, err
	}
	return imported, nil
}
