// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrGenomeConflict marks a violation of the genome bijection.
	ErrGenomeConflict = errors.New("genome hash conflict")

	// ErrDuplicateName is returned by Register for a name already in
	// use.
	ErrDuplicateName = errors.New("zooid name already registered")
)

// IndexAdd appends name to the state list of niche. Adding a name that
// is already present is a no-op.
func (r *Registry) IndexAdd(niche string, state LifecycleState, name string) {
	list := r.Niche(niche).list(state)
	if list == nil || slices.Contains(*list, name) {
		return
	}
	*list = append(*list, name)
}

// IndexRemove deletes name from the state list of niche. Removing an
// absent name is a no-op.
func (r *Registry) IndexRemove(niche string, state LifecycleState, name string) {
	index, ok := r.Niches[niche]
	if !ok {
		return
	}
	list := index.list(state)
	if list == nil {
		return
	}
	*list = slices.DeleteFunc(*list, func(entry string) bool { return entry == name })
}

// IndexSet makes state's list the only list of niche containing name.
func (r *Registry) IndexSet(niche string, state LifecycleState, name string) {
	for _, other := range States {
		if other != state {
			r.IndexRemove(niche, other, name)
		}
	}
	r.IndexAdd(niche, state, name)
}

// SetState changes a record's lifecycle state and its index membership
// together. It is the only code path that writes LifecycleState on a
// registered record.
func (r *Registry) SetState(record *Zooid, state LifecycleState) {
	record.LifecycleState = state
	r.IndexSet(record.Niche, state, record.Name)
}

// GenomeBind records hash -> name. Rebinding the same pair is a no-op;
// a hash already bound to another name fails with ErrGenomeConflict.
func (r *Registry) GenomeBind(hash, name string) error {
	if bound, ok := r.Genomes[hash]; ok {
		if bound == name {
			return nil
		}
		return fmt.Errorf("%w: %s is bound to %q, refusing %q", ErrGenomeConflict, hash, bound, name)
	}
	r.Genomes[hash] = name
	return nil
}

// GenomeUnbind removes hash if it is bound to name.
func (r *Registry) GenomeUnbind(hash, name string) {
	if r.Genomes[hash] == name {
		delete(r.Genomes, hash)
	}
}

// HasGenome reports whether hash is bound.
func (r *Registry) HasGenome(hash string) bool {
	_, ok := r.Genomes[hash]
	return ok
}

// Register adds a new record: its genome binding, the record, and its
// index entry. Nothing is changed when any step would fail.
func (r *Registry) Register(record *Zooid) error {
	if record.Name == "" || record.Niche == "" {
		return fmt.Errorf("registering zooid: name and niche are required")
	}
	if !record.LifecycleState.Valid() {
		return fmt.Errorf("registering %s: invalid lifecycle state %q", record.Name, record.LifecycleState)
	}
	if _, exists := r.Zooids[record.Name]; exists {
		return fmt.Errorf("registering %s: %w", record.Name, ErrDuplicateName)
	}
	if record.GenomeHash != "" {
		if err := r.GenomeBind(record.GenomeHash, record.Name); err != nil {
			return fmt.Errorf("registering %s: %w", record.Name, err)
		}
	}
	r.Zooids[record.Name] = record
	r.IndexSet(record.Niche, record.LifecycleState, record.Name)
	return nil
}
