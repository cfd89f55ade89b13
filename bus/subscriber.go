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

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/codec"
)

// DefaultHeartbeatInterval is the subscriber heartbeat cadence.
const DefaultHeartbeatInterval = 10 * time.Second

// SubscribeConfig configures Subscribe.
type SubscribeConfig struct {
	// Directory is the hub's socket directory.
	Directory string

	// Topic is the prefix to subscribe to. Empty receives every topic.
	// The governance prefix is always added so kills are delivered.
	Topic string

	// Name and Niche identify the subscriber in heartbeats and kill
	// targeting.
	Name  string
	Niche string

	// Ecosystem is stamped on heartbeats.
	Ecosystem string

	Handler Handler

	// Publisher sends heartbeats. Nil disables them.
	Publisher *Publisher

	Clock  clock.Clock
	Logger *slog.Logger

	ReplayWindow      time.Duration
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
}

// Subscriber is a running affect subscription.
type Subscriber struct {
	config   SubscribeConfig
	receiver *receiver
	logger   *slog.Logger
	started  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn net.Conn
}

// Subscribe connects to the hub, registers the subscription, and
// starts the receive and heartbeat goroutines. It returns once the hub
// has confirmed the subscription, so a message published after
// Subscribe returns is delivered. The goroutines run until ctx is
// cancelled, Close is called, or a kill arrives.
func Subscribe(ctx context.Context, cfg SubscribeConfig) (*Subscriber, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("bus subscribe: Directory is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("bus subscribe: Name is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("bus subscribe: Handler is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger.With("subscriber", cfg.Name, "topic", cfg.Topic)

	conn, decoder, err := subscribeConn(ctx, cfg.Directory, cfg.Topic)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	subscriber := &Subscriber{
		config:   cfg,
		receiver: newReceiver(cfg.Name, ChannelAffect, cfg.Handler, cfg.ReplayWindow, cfg.Clock, logger),
		logger:   logger,
		started:  cfg.Clock.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
		conn:     conn,
	}

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		subscriber.receiveLoop(runCtx, conn, decoder)
	}()
	if cfg.Publisher != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			subscriber.heartbeatLoop(runCtx)
		}()
	}
	go func() {
		select {
		case <-subscriber.receiver.killed:
			cancel()
		case <-runCtx.Done():
		}
	}()
	go func() {
		loops.Wait()
		cancel()
		close(subscriber.done)
	}()

	return subscriber, nil
}

// subscribeConn dials the affect socket, sends the subscribe frame, and
// waits for the hub's confirmation.
func subscribeConn(ctx context.Context, directory, topic string) (net.Conn, *codec.Decoder, error) {
	conn, err := dial(ctx, AffectSocket(directory))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to affect channel: %w", err)
	}
	topics := []string{topic}
	if topic != "" && topic != TopicGovernance {
		topics = append(topics, TopicGovernance)
	}
	if err := codec.NewEncoder(conn).Encode(frame{Kind: kindSubscribe, Topics: topics}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribing to %q: %w", topic, err)
	}

	decoder := codec.NewDecoder(conn)
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	var confirm frame
	if err := decoder.Decode(&confirm); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("waiting for subscription confirmation: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if confirm.Kind != kindAck {
		conn.Close()
		return nil, nil, fmt.Errorf("expected subscription confirmation, got %q frame", confirm.Kind)
	}
	return conn, decoder, nil
}

func (s *Subscriber) receiveLoop(ctx context.Context, conn net.Conn, decoder *codec.Decoder) {
	for {
		s.drain(ctx, conn, decoder)
		conn.Close()
		if ctx.Err() != nil || s.receiver.isKilled() {
			return
		}

		// Reconnect until the hub is back or we are stopped.
		for {
			if !sleep(ctx, s.config.Clock, s.config.RetryDelay) {
				return
			}
			var err error
			conn, decoder, err = subscribeConn(ctx, s.config.Directory, s.config.Topic)
			if err == nil {
				s.mu.Lock()
				s.conn = conn
				s.mu.Unlock()
				s.logger.Info("resubscribed")
				break
			}
			s.logger.Warn("resubscribe failed", "error", err)
		}
	}
}

// drain receives until the connection fails, ctx ends, or a kill
// arrives.
func (s *Subscriber) drain(ctx context.Context, conn net.Conn, decoder *codec.Decoder) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if ctx.Err() == nil && !s.receiver.isKilled() {
				s.logger.Warn("affect receive failed", "error", err)
			}
			return
		}
		if incoming.Kind != kindMessage {
			continue
		}
		_, result, _ := s.receiver.deliver(ctx, incoming.Topic, incoming.Payload)
		if result == outcomeKilled {
			return
		}
	}
}

func (s *Subscriber) heartbeatLoop(ctx context.Context) {
	ticker := s.config.Clock.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.receiver.killed:
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *Subscriber) beat(ctx context.Context) {
	if s.receiver.isKilled() {
		return
	}
	uptime := s.config.Clock.Now().Sub(s.started).Seconds()
	_, err := s.config.Publisher.Emit(ctx, TopicHeartbeat, EmitOptions{
		Signal:    SignalHeartbeat,
		Ecosystem: s.config.Ecosystem,
		Facts: Facts{
			"name":     s.config.Name,
			"niche":    s.config.Niche,
			"uptime_s": uptime,
			"deduped":  s.receiver.guard.Deduped(),
		},
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("heartbeat emit failed", "error", err)
	}
}

// Killed is closed when a governance.kill stops the subscriber.
func (s *Subscriber) Killed() <-chan struct{} { return s.receiver.killed }

// Done is closed once the receive and heartbeat goroutines have exited.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Deduped returns how many duplicate incidents were dropped.
func (s *Subscriber) Deduped() uint64 { return s.receiver.guard.Deduped() }

// Close stops the subscriber and waits for its goroutines.
func (s *Subscriber) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}
