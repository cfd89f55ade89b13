// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "github.com/zooid-fleet/zooid/registry"

// Event names carried in TransitionEvent.Event.
const (
	EventStartProbation = "start_probation"
	EventPromote        = "promote_to_active"
	EventEndProbation   = "end_probation"
	EventDemote         = "demote_to_dormant"
	EventRetire         = "retire"
)

// Service actions carried in TransitionEvent.ServiceAction.
const (
	ServiceNone  = "none"
	ServiceStart = "start"
	ServiceStop  = "stop"
)

// TransitionEvent describes one completed transition. LifecyclePrevTS
// is the time spent in the previous state, in seconds.
type TransitionEvent struct {
	Event           string                  `json:"event"`
	TS              float64                 `json:"ts"`
	Zooid           string                  `json:"zooid"`
	Ecosystem       string                  `json:"ecosystem"`
	Niche           string                  `json:"niche"`
	From            registry.LifecycleState `json:"from"`
	To              registry.LifecycleState `json:"to"`
	Reason          string                  `json:"reason"`
	LifecyclePrevTS float64                 `json:"lifecycle_prev_ts"`
	GenomeHash      string                  `json:"genome_hash"`
	ParentLineage   []string                `json:"parent_lineage"`
	ServiceAction   string                  `json:"service_action"`
}

// Facts flattens the event into envelope facts.
func (e TransitionEvent) Facts() map[string]any {
	lineage := make([]any, len(e.ParentLineage))
	for i, ancestor := range e.ParentLineage {
		lineage[i] = ancestor
	}
	return map[string]any{
		"event":             e.Event,
		"ts":                e.TS,
		"zooid":             e.Zooid,
		"ecosystem":         e.Ecosystem,
		"niche":             e.Niche,
		"from":              string(e.From),
		"to":                string(e.To),
		"reason":            e.Reason,
		"lifecycle_prev_ts": e.LifecyclePrevTS,
		"genome_hash":       e.GenomeHash,
		"parent_lineage":    lineage,
		"service_action":    e.ServiceAction,
	}
}
