// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/codec"
)

// DefaultSlowJoinerGap is the pause between the two copies of the first
// message sent on a topic.
const DefaultSlowJoinerGap = 150 * time.Millisecond

// EmitOptions are the caller-supplied envelope fields. Zero Intensity
// means the default 1.0. An empty IncidentID is filled with a fresh
// UUID so that receivers can deduplicate the slow-joiner resend.
type EmitOptions struct {
	Signal     string
	Ecosystem  string
	Intensity  float64
	Facts      Facts
	IncidentID string
	Trace      string
}

// NewEnvelope stamps opts with the current time and schema version.
func NewEnvelope(clk clock.Clock, opts EmitOptions) Envelope {
	intensity := opts.Intensity
	if intensity == 0 {
		intensity = 1.0
	}
	facts := opts.Facts
	if facts == nil {
		facts = Facts{}
	}
	incidentID := opts.IncidentID
	if incidentID == "" {
		incidentID = uuid.NewString()
	}
	return Envelope{
		Signal:        opts.Signal,
		Ecosystem:     opts.Ecosystem,
		Intensity:     intensity,
		Facts:         facts,
		IncidentID:    incidentID,
		Trace:         opts.Trace,
		TS:            clock.Epoch(clk.Now()),
		SchemaVersion: SchemaVersion,
	}
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Directory is the hub's socket directory.
	Directory string

	Clock  clock.Clock
	Logger *slog.Logger

	// SlowJoinerGap overrides DefaultSlowJoinerGap. Negative disables
	// the resend.
	SlowJoinerGap time.Duration
}

// Publisher sends envelopes to the hub on the affect and trophic
// channels. Connections are opened on first use and dropped on a write
// error; the next call reconnects. Delivery is never retried. A
// Publisher is safe for concurrent use.
type Publisher struct {
	directory string
	clock     clock.Clock
	logger    *slog.Logger
	gap       time.Duration

	mu         sync.Mutex
	affect     *hubConn
	trophic    *hubConn
	seenTopics map[string]struct{}
}

type hubConn struct {
	conn    net.Conn
	encoder *codec.Encoder
}

// NewPublisher validates cfg. No connection is made until the first
// send.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("bus publisher: Directory is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gap := cfg.SlowJoinerGap
	if gap == 0 {
		gap = DefaultSlowJoinerGap
	}
	return &Publisher{
		directory:  cfg.Directory,
		clock:      clk,
		logger:     logger,
		gap:        gap,
		seenTopics: make(map[string]struct{}),
	}, nil
}

// Emit broadcasts an envelope on the affect channel and returns it.
// The first emit on a topic this publisher has not yet delivered to the
// hub is sent twice, gap apart, for subscribers still registering. A
// failed send leaves the topic unseen.
func (p *Publisher) Emit(ctx context.Context, topic string, opts EmitOptions) (Envelope, error) {
	envelope, payload, err := p.build(opts)
	if err != nil {
		return Envelope{}, err
	}

	p.mu.Lock()
	_, seen := p.seenTopics[topic]
	p.mu.Unlock()

	message := frame{Kind: kindPublish, Topic: topic, Payload: payload}
	if err := p.send(ctx, ChannelAffect, message); err != nil {
		return envelope, err
	}
	if !seen {
		p.mu.Lock()
		p.seenTopics[topic] = struct{}{}
		p.mu.Unlock()
	}
	if !seen && p.gap > 0 {
		select {
		case <-p.clock.After(p.gap):
		case <-ctx.Done():
			return envelope, nil
		}
		if err := p.send(ctx, ChannelAffect, message); err != nil {
			return envelope, err
		}
	}
	return envelope, nil
}

// Push enqueues an envelope on the trophic channel for exactly one
// puller of topic.
func (p *Publisher) Push(ctx context.Context, topic string, opts EmitOptions) (Envelope, error) {
	envelope, payload, err := p.build(opts)
	if err != nil {
		return Envelope{}, err
	}
	return envelope, p.send(ctx, ChannelTrophic, frame{Kind: kindPush, Topic: topic, Payload: payload})
}

func (p *Publisher) build(opts EmitOptions) (Envelope, []byte, error) {
	if opts.Signal == "" {
		return Envelope{}, nil, fmt.Errorf("bus publisher: Signal is required")
	}
	envelope := NewEnvelope(p.clock, opts)
	payload, err := envelope.Encode()
	if err != nil {
		return Envelope{}, nil, err
	}
	return envelope, payload, nil
}

func (p *Publisher) send(ctx context.Context, channel Channel, message frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := &p.affect
	path := AffectSocket(p.directory)
	if channel == ChannelTrophic {
		slot = &p.trophic
		path = TrophicSocket(p.directory)
	}

	if *slot == nil {
		conn, err := dial(ctx, path)
		if err != nil {
			return fmt.Errorf("connecting to %s channel: %w", channel, err)
		}
		*slot = &hubConn{conn: conn, encoder: codec.NewEncoder(conn)}
	}

	if deadline, ok := ctx.Deadline(); ok {
		(*slot).conn.SetWriteDeadline(deadline)
		defer func() {
			if *slot != nil {
				(*slot).conn.SetWriteDeadline(time.Time{})
			}
		}()
	}
	if err := (*slot).encoder.Encode(message); err != nil {
		(*slot).conn.Close()
		*slot = nil
		return fmt.Errorf("sending on %s channel: %w", channel, err)
	}
	p.logger.Debug("bus send", "channel", channel, "topic", message.Topic)
	return nil
}

// Close drops any open hub connections.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range []**hubConn{&p.affect, &p.trophic} {
		if *slot != nil {
			(*slot).conn.Close()
			*slot = nil
		}
	}
	return nil
}
