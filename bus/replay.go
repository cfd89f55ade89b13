// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"sync"
	"time"
)

// ReplayGuard remembers incident ids for a rolling window. Entries are
// kept in insertion order so pruning only inspects the oldest ones.
type ReplayGuard struct {
	mu      sync.Mutex
	window  time.Duration
	order   []seenIncident
	seen    map[string]time.Time
	deduped uint64
}

type seenIncident struct {
	id string
	at time.Time
}

// NewReplayGuard returns a guard remembering ids for window.
func NewReplayGuard(window time.Duration) *ReplayGuard {
	return &ReplayGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen prunes expired ids and reports whether id was recorded within
// the window before now. A true result counts as one deduplication.
func (g *ReplayGuard) Seen(id string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)
	if _, ok := g.seen[id]; ok {
		g.deduped++
		return true
	}
	return false
}

// Record marks id as processed at now.
func (g *ReplayGuard) Record(id string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return
	}
	g.seen[id] = now
	g.order = append(g.order, seenIncident{id: id, at: now})
}

// Deduped returns how many envelopes Seen has rejected.
func (g *ReplayGuard) Deduped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deduped
}

// Len returns the number of remembered ids.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *ReplayGuard) pruneLocked(now time.Time) {
	expired := 0
	for expired < len(g.order) && now.Sub(g.order[expired].at) > g.window {
		delete(g.seen, g.order[expired].id)
		expired++
	}
	if expired > 0 {
		g.order = append(g.order[:0:0], g.order[expired:]...)
	}
}
