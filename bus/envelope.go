// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// SchemaVersion is the envelope schema this package writes. Envelopes
// with a newer schema are rejected as malformed; a missing version is
// read as 1.
const SchemaVersion = 1

// Well-known signals and topics.
const (
	// SignalKill stops every receiver it reaches, unless its facts
	// carry a target naming a different receiver.
	SignalKill = "governance.kill"

	// SignalHeartbeat is emitted periodically by every subscriber.
	SignalHeartbeat = "HEARTBEAT"

	// TopicHeartbeat is the affect topic heartbeats are published on.
	TopicHeartbeat = "HEARTBEAT"

	// TopicGovernance is the affect topic every subscriber listens to
	// in addition to its own, so that kills always reach it.
	TopicGovernance = "governance."

	// TopicLifecycle carries lifecycle transition events.
	TopicLifecycle = "lifecycle."
)

// ErrMalformed marks a payload that could not be decoded into a valid
// envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the signal record carried on every channel.
type Envelope struct {
	Signal        string  `json:"signal"`
	Ecosystem     string  `json:"ecosystem"`
	Intensity     float64 `json:"intensity"`
	Facts         Facts   `json:"facts"`
	IncidentID    string  `json:"incident_id,omitempty"`
	Trace         string  `json:"trace,omitempty"`
	TS            float64 `json:"ts"`
	SchemaVersion int     `json:"schema_version"`
}

// Encode serializes the envelope as UTF-8 JSON.
func (e Envelope) Encode() ([]byte, error) {
	if e.Facts == nil {
		e.Facts = Facts{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope %q: %w", e.Signal, err)
	}
	return data, nil
}

// DecodeEnvelope parses and validates a JSON payload. A missing
// intensity defaults to 1.0. Every failure wraps ErrMalformed.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	envelope := Envelope{Intensity: 1.0}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Signal == "" {
		return Envelope{}, fmt.Errorf("%w: missing signal", ErrMalformed)
	}
	if envelope.SchemaVersion == 0 {
		envelope.SchemaVersion = 1
	}
	if envelope.SchemaVersion > SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: schema_version %d is newer than supported %d",
			ErrMalformed, envelope.SchemaVersion, SchemaVersion)
	}
	if math.IsNaN(envelope.Intensity) || math.IsInf(envelope.Intensity, 0) {
		return Envelope{}, fmt.Errorf("%w: non-finite intensity", ErrMalformed)
	}
	if envelope.Facts == nil {
		envelope.Facts = Facts{}
	}
	return envelope, nil
}

// Facts is the open extension map of an envelope. Code reading facts
// goes through the typed accessors, which report false when the key is
// absent or holds a value of the wrong type.
type Facts map[string]any

// String returns the string value stored under key.
func (f Facts) String(key string) (string, bool) {
	value, ok := f[key].(string)
	return value, ok
}

// Float returns the numeric value stored under key.
func (f Facts) Float(key string) (float64, bool) {
	switch value := f[key].(type) {
	case float64:
		return value, !math.IsNaN(value) && !math.IsInf(value, 0)
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

// Int returns the integral value stored under key. JSON numbers decode
// as float64, so a float with no fractional part is accepted.
func (f Facts) Int(key string) (int64, bool) {
	switch value := f[key].(type) {
	case int:
		return int64(value), true
	case int64:
		return value, true
	case uint64:
		if value > math.MaxInt64 {
			return 0, false
		}
		return int64(value), true
	case float64:
		if value != math.Trunc(value) || math.Abs(value) > 1<<53 {
			return 0, false
		}
		return int64(value), true
	default:
		return 0, false
	}
}
