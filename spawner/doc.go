// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawner generates new zooid variants. A variant is a
// phenotype drawn from per-niche parameter ranges, rendered through a
// text/template into an artifact, and identified by the genome hash of
// artifact and phenotype together. DreamSpawnTick keeps each niche's
// population topped up, registering only genomes the registry has not
// seen and recording each accepted spawn in an append-only journal.
package spawner
