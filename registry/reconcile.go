// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"sort"
	"strings"
)

// FixKind classifies a Reconcile finding.
type FixKind string

const (
	// FixMissingRecord: an index entry names no record. Removed.
	FixMissingRecord FixKind = "index_missing_record"

	// FixStateMismatch: an index entry sits in a bucket or niche that
	// does not match its record. Removed.
	FixStateMismatch FixKind = "index_state_mismatch"

	// FixRestoredIndex: a record had no entry in its own bucket.
	// Added.
	FixRestoredIndex FixKind = "index_restored"

	// FixOrphanGenome: a genome hash points at a missing record.
	// Reported only; the binding still blocks respawning that genome.
	FixOrphanGenome FixKind = "genome_orphan"
)

// Fix is one finding of Reconcile.
type Fix struct {
	Kind   FixKind
	Niche  string
	Bucket string
	Name   string
	Hash   string
}

func (f Fix) String() string {
	if f.Kind == FixOrphanGenome {
		return fmt.Sprintf("%s: %s -> %s", f.Kind, f.Hash, f.Name)
	}
	return fmt.Sprintf("%s: %s/%s %s", f.Kind, f.Niche, f.Bucket, f.Name)
}

// Reconcile checks reg against its invariants, repairing the index in
// place and returning what it did. A name bound under two different
// genome hashes is a broken bijection that cannot be repaired
// automatically: Reconcile returns the fixes made so far and an error
// wrapping ErrGenomeConflict, and the caller must not persist reg.
func Reconcile(reg *Registry) ([]Fix, error) {
	var fixes []Fix

	for _, niche := range reg.NicheNames() {
		index := reg.Niches[niche]
		for _, state := range States {
			for _, name := range append([]string(nil), index.Names(state)...) {
				record, ok := reg.Zooids[name]
				switch {
				case !ok:
					fixes = append(fixes, Fix{Kind: FixMissingRecord, Niche: niche, Bucket: state.Bucket(), Name: name})
				case record.LifecycleState != state || record.Niche != niche:
					fixes = append(fixes, Fix{Kind: FixStateMismatch, Niche: niche, Bucket: state.Bucket(), Name: name})
				default:
					continue
				}
				reg.IndexRemove(niche, state, name)
			}
		}
	}

	names := make([]string, 0, len(reg.Zooids))
	for name := range reg.Zooids {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		record := reg.Zooids[name]
		if !record.LifecycleState.Valid() {
			continue
		}
		index := reg.Niche(record.Niche)
		found := false
		for _, entry := range index.Names(record.LifecycleState) {
			if entry == name {
				found = true
				break
			}
		}
		if !found {
			reg.IndexAdd(record.Niche, record.LifecycleState, name)
			fixes = append(fixes, Fix{Kind: FixRestoredIndex, Niche: record.Niche, Bucket: record.LifecycleState.Bucket(), Name: name})
		}
	}

	hashes := make([]string, 0, len(reg.Genomes))
	for hash := range reg.Genomes {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	boundBy := make(map[string]string, len(hashes))
	var conflicts []string
	for _, hash := range hashes {
		name := reg.Genomes[hash]
		if _, ok := reg.Zooids[name]; !ok {
			fixes = append(fixes, Fix{Kind: FixOrphanGenome, Hash: hash, Name: name})
		}
		if other, ok := boundBy[name]; ok {
			conflicts = append(conflicts, fmt.Sprintf("%s bound by %s and %s", name, other, hash))
			continue
		}
		boundBy[name] = hash
	}
	if len(conflicts) > 0 {
		return fixes, fmt.Errorf("%w: %s", ErrGenomeConflict, strings.Join(conflicts, "; "))
	}
	return fixes, nil
}
