// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the durable store of zooid records.
//
// A Registry holds three maps: the per-niche lifecycle index (niche ->
// active/probation/dormant/retired name lists), the records themselves,
// and the genome map (content hash -> name). Two invariants hold after
// every mutation made through this package:
//
//   - each record's name appears in exactly one index list, the one
//     under its own niche whose key is its lifecycle state lower-cased;
//   - the genome map is a bijection. Binding a hash that is already
//     bound to a different name fails with ErrGenomeConflict.
//
// Store persists a Registry as niche_map.json in a state directory.
// Every Write bumps the version, leaves an immutable audit snapshot
// niche_map.v{N}.json, and replaces the live file by rename, so a
// reader never observes a partial write. Mutations from every process
// serialize on an exclusive flock of niche_map.lock held for the whole
// read-mutate-write span (see Store.Update). Reads do not take the
// lock and may observe a stale but consistent snapshot.
//
// Reconcile is the periodic integrity sweep.
package registry
