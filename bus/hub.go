// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/zooid-fleet/zooid/lib/codec"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Directory holds affect.sock and trophic.sock. Created if absent.
	Directory string

	// QueueDepth bounds each subscriber's outbox and each trophic
	// topic queue. Defaults to 1024.
	QueueDepth int

	Logger *slog.Logger
}

// Hub routes affect broadcasts and trophic work items between local
// processes. It holds no registry state; restarting it loses only
// queued trophic items and in-flight broadcasts.
type Hub struct {
	directory  string
	queueDepth int
	logger     *slog.Logger

	mu          sync.Mutex
	subscribers map[*affectSubscriber]struct{}
	queues      map[string]chan []byte

	published atomic.Uint64
	dropped   atomic.Uint64

	ready       chan struct{}
	activeConns sync.WaitGroup
}

// HubStats is a point-in-time view of hub counters.
type HubStats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
	Queued      map[string]int
}

// NewHub validates cfg and returns a hub ready to Serve.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("bus hub: Directory is required")
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		directory:   cfg.Directory,
		queueDepth:  queueDepth,
		logger:      logger,
		subscribers: make(map[*affectSubscriber]struct{}),
		queues:      make(map[string]chan []byte),
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once both sockets are listening.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Serve listens on the affect and trophic sockets until ctx is
// cancelled, then closes every connection and removes the socket files.
func (h *Hub) Serve(ctx context.Context) error {
	if err := os.MkdirAll(h.directory, 0o755); err != nil {
		return fmt.Errorf("creating bus directory %s: %w", h.directory, err)
	}

	affect, err := listenUnix(AffectSocket(h.directory))
	if err != nil {
		return err
	}
	trophic, err := listenUnix(TrophicSocket(h.directory))
	if err != nil {
		affect.Close()
		return err
	}
	defer func() {
		affect.Close()
		trophic.Close()
		os.Remove(AffectSocket(h.directory))
		os.Remove(TrophicSocket(h.directory))
	}()

	stop := context.AfterFunc(ctx, func() {
		affect.Close()
		trophic.Close()
	})
	defer stop()

	h.logger.Info("bus hub listening", "directory", h.directory)
	close(h.ready)

	var acceptors sync.WaitGroup
	acceptors.Add(2)
	go func() {
		defer acceptors.Done()
		h.acceptLoop(ctx, affect, ChannelAffect, h.serveAffect)
	}()
	go func() {
		defer acceptors.Done()
		h.acceptLoop(ctx, trophic, ChannelTrophic, h.serveTrophic)
	}()
	acceptors.Wait()
	h.activeConns.Wait()
	return nil
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return listener, nil
}

func (h *Hub) acceptLoop(ctx context.Context, listener net.Listener, channel Channel, serve func(context.Context, net.Conn)) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Error("accept failed", "channel", channel, "error", err)
			continue
		}
		h.activeConns.Add(1)
		go func() {
			defer h.activeConns.Done()
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			defer conn.Close()
			serve(ctx, conn)
		}()
	}
}

// affectSubscriber is one subscribed affect connection. The hub never
// writes to the connection directly; it hands frames to outbox and a
// dedicated writer drains it, so one slow subscriber cannot stall the
// fan-out.
type affectSubscriber struct {
	mu     sync.Mutex
	topics []string
	outbox chan frame
}

func (s *affectSubscriber) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return topicMatches(s.topics, topic)
}

func (h *Hub) serveAffect(ctx context.Context, conn net.Conn) {
	decoder := codec.NewDecoder(conn)
	var subscriber *affectSubscriber
	writerDone := make(chan struct{})

	defer func() {
		if subscriber != nil {
			h.mu.Lock()
			delete(h.subscribers, subscriber)
			h.mu.Unlock()
			close(subscriber.outbox)
			<-writerDone
		}
	}()

	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if !isClosed(err) {
				h.logger.Warn("affect connection dropped", "error", err)
			}
			return
		}

		switch incoming.Kind {
		case kindSubscribe:
			if subscriber == nil {
				subscriber = &affectSubscriber{outbox: make(chan frame, h.queueDepth)}
				go h.writeAffect(conn, subscriber, writerDone)
				h.mu.Lock()
				h.subscribers[subscriber] = struct{}{}
				h.mu.Unlock()
			}
			subscriber.mu.Lock()
			subscriber.topics = append(subscriber.topics, incoming.Topics...)
			subscriber.mu.Unlock()
			// Confirm only after the topics are visible to fanOut.
			subscriber.outbox <- frame{Kind: kindAck}
			h.logger.Debug("affect subscription", "topics", incoming.Topics)

		case kindPublish:
			h.fanOut(incoming.Topic, incoming.Payload)

		default:
			h.logger.Warn("unexpected affect frame", "kind", incoming.Kind)
		}
	}
}

func (h *Hub) writeAffect(conn net.Conn, subscriber *affectSubscriber, done chan<- struct{}) {
	defer close(done)
	encoder := codec.NewEncoder(conn)
	failed := false
	for outgoing := range subscriber.outbox {
		if failed {
			continue
		}
		if err := encoder.Encode(outgoing); err != nil {
			// Keep draining so fanOut never blocks; the reader side
			// notices the closed connection and unregisters us.
			failed = true
			conn.Close()
		}
	}
}

func (h *Hub) fanOut(topic string, payload []byte) {
	h.published.Add(1)
	message := frame{Kind: kindMessage, Topic: topic, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for subscriber := range h.subscribers {
		if !subscriber.matches(topic) {
			continue
		}
		select {
		case subscriber.outbox <- message:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber outbox full, dropping message", "topic", topic)
		}
	}
}

func (h *Hub) queue(topic string) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	queue, ok := h.queues[topic]
	if !ok {
		queue = make(chan []byte, h.queueDepth)
		h.queues[topic] = queue
	}
	return queue
}

// serveTrophic handles pushers and pullers. A puller sends one pull
// frame per item it is ready to process and receives exactly one work
// frame in return.
func (h *Hub) serveTrophic(ctx context.Context, conn net.Conn) {
	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	for {
		var incoming frame
		if err := decoder.Decode(&incoming); err != nil {
			if !isClosed(err) {
				h.logger.Warn("trophic connection dropped", "error", err)
			}
			return
		}

		switch incoming.Kind {
		case kindPush:
			select {
			case h.queue(incoming.Topic) <- incoming.Payload:
			default:
				h.dropped.Add(1)
				h.logger.Warn("trophic queue full, dropping item", "topic", incoming.Topic)
			}

		case kindPull:
			queue := h.queue(incoming.Topic)
			var payload []byte
			select {
			case payload = <-queue:
			case <-ctx.Done():
				return
			}
			if err := encoder.Encode(frame{Kind: kindWork, Topic: incoming.Topic, Payload: payload}); err != nil {
				// The puller left while we waited; hand the item to
				// the next one.
				select {
				case queue <- payload:
				default:
					h.dropped.Add(1)
				}
				return
			}

		default:
			h.logger.Warn("unexpected trophic frame", "kind", incoming.Kind)
		}
	}
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	queued := make(map[string]int, len(h.queues))
	for topic, queue := range h.queues {
		queued[topic] = len(queue)
	}
	return HubStats{
		Subscribers: len(h.subscribers),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Queued:      queued,
	}
}
