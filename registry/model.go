// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"sort"
	"strings"
)

// LifecycleState is a zooid's position in its lifecycle. The zero
// value is invalid.
type LifecycleState string

const (
	Dormant   LifecycleState = "DORMANT"
	Probation LifecycleState = "PROBATION"
	Active    LifecycleState = "ACTIVE"
	Retired   LifecycleState = "RETIRED"
)

// States lists every lifecycle state in index order.
var States = []LifecycleState{Active, Probation, Dormant, Retired}

// ParseState accepts a state name in either case.
func ParseState(s string) (LifecycleState, error) {
	state := LifecycleState(strings.ToUpper(s))
	if !state.Valid() {
		return "", fmt.Errorf("unknown lifecycle state %q", s)
	}
	return state, nil
}

// Valid reports whether s is one of the four states.
func (s LifecycleState) Valid() bool {
	switch s {
	case Dormant, Probation, Active, Retired:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s LifecycleState) Terminal() bool { return s == Retired }

// Bucket is the niche-index key holding names in state s.
func (s LifecycleState) Bucket() string { return strings.ToLower(string(s)) }

// Zooid is one worker record. Timestamps are float epoch seconds.
type Zooid struct {
	Name             string         `json:"name"`
	Ecosystem        string         `json:"ecosystem"`
	Niche            string         `json:"niche"`
	LifecycleState   LifecycleState `json:"lifecycle_state"`
	GenomeHash       string         `json:"genome_hash"`
	ParentLineage    []string       `json:"parent_lineage"`
	CreatedTS        float64        `json:"created_ts"`
	EnteredTS        float64        `json:"entered_ts"`
	LastTransitionTS float64        `json:"last_transition_ts"`
	PromotedTS       float64        `json:"promoted_ts,omitempty"`
	Phenotype        map[string]any `json:"phenotype"`
	Probation        ProbationBlock `json:"probation"`
	Prod             ProdBlock      `json:"prod"`
	Demotions        int            `json:"demotions"`
	CooldownUntilTS  float64        `json:"cooldown_until_ts,omitempty"`
	RetirementReason string         `json:"retirement_reason,omitempty"`
	LastReason       string         `json:"last_reason,omitempty"`
}

// ProbationBlock tracks the trial phase. Retries counts production
// gate failures and survives demotion so the retry ceiling holds
// across probation cycles.
type ProbationBlock struct {
	StartedTS        float64 `json:"started_ts,omitempty"`
	PhaseSubmittedTS float64 `json:"phase_submitted_ts,omitempty"`
	EvidenceCount    int     `json:"evidence_count"`
	BatchID          string  `json:"batch_id,omitempty"`
	Retries          int     `json:"retries"`
}

// ProdBlock summarizes live-traffic evidence.
type ProdBlock struct {
	OKRateWindow    float64 `json:"ok_rate_window"`
	EvidenceCount   int     `json:"evidence_count"`
	LastHeartbeatTS float64 `json:"last_heartbeat_ts,omitempty"`
}

// NicheIndex lists the zooids of one niche by lifecycle state.
type NicheIndex struct {
	Active    []string `json:"active"`
	Probation []string `json:"probation"`
	Dormant   []string `json:"dormant"`
	Retired   []string `json:"retired"`
}

func (n *NicheIndex) list(state LifecycleState) *[]string {
	switch state {
	case Active:
		return &n.Active
	case Probation:
		return &n.Probation
	case Dormant:
		return &n.Dormant
	case Retired:
		return &n.Retired
	}
	return nil
}

// Names returns the names in the state's list.
func (n *NicheIndex) Names(state LifecycleState) []string {
	list := n.list(state)
	if list == nil {
		return nil
	}
	return *list
}

// Count returns the length of the state's list.
func (n *NicheIndex) Count(state LifecycleState) int { return len(n.Names(state)) }

// Registry is the full persisted state.
type Registry struct {
	Niches  map[string]*NicheIndex `json:"niches"`
	Zooids  map[string]*Zooid      `json:"zooids"`
	Genomes map[string]string      `json:"genomes"`
	Version int64                  `json:"version"`
}

// New returns an empty, well-formed registry.
func New() *Registry {
	return &Registry{
		Niches:  make(map[string]*NicheIndex),
		Zooids:  make(map[string]*Zooid),
		Genomes: make(map[string]string),
	}
}

// normalize fills nil maps left by a sparse JSON file.
func (r *Registry) normalize() {
	if r.Niches == nil {
		r.Niches = make(map[string]*NicheIndex)
	}
	if r.Zooids == nil {
		r.Zooids = make(map[string]*Zooid)
	}
	if r.Genomes == nil {
		r.Genomes = make(map[string]string)
	}
	for niche, index := range r.Niches {
		if index == nil {
			r.Niches[niche] = &NicheIndex{}
		}
	}
}

// Niche returns the index for niche, creating it if absent.
func (r *Registry) Niche(niche string) *NicheIndex {
	index, ok := r.Niches[niche]
	if !ok {
		index = &NicheIndex{}
		r.Niches[niche] = index
	}
	return index
}

// NicheNames returns every niche name, sorted.
func (r *Registry) NicheNames() []string {
	names := make([]string, 0, len(r.Niches))
	for niche := range r.Niches {
		names = append(names, niche)
	}
	sort.Strings(names)
	return names
}

// InState returns the records in state across all niches, sorted by
// name.
func (r *Registry) InState(state LifecycleState) []*Zooid {
	var records []*Zooid
	for _, record := range r.Zooids {
		if record.LifecycleState == state {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}
