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
	"path/filepath"
	"sync"
	"time"

	"github.com/zooid-fleet/zooid/lib/clock"
	"github.com/zooid-fleet/zooid/lib/codec"
)

// DefaultRequestTimeout bounds a reflex request when the caller's
// context carries no deadline.
const DefaultRequestTimeout = 5 * time.Second

var (
	// ErrNack wraps the error text of a negative acknowledgment.
	ErrNack = errors.New("reflex request rejected")

	// ErrNoAck means no ack frame was observed. The command may or may
	// not have been processed.
	ErrNoAck = errors.New("no reflex acknowledgment")
)

// Ack is the reply to every reflex request.
type Ack struct {
	Ack        bool    `cbor:"ack"`
	Signal     string  `cbor:"signal,omitempty"`
	IncidentID string  `cbor:"incident_id,omitempty"`
	Error      string  `cbor:"error,omitempty"`
	TS         float64 `cbor:"ts"`
}

// ReflexConfig configures ServeReflex.
type ReflexConfig struct {
	Directory string

	// Address names this endpoint; the socket is
	// <Directory>/reflex/<Address>.sock.
	Address string

	Handler Handler

	Clock        clock.Clock
	Logger       *slog.Logger
	ReplayWindow time.Duration
}

// ServeReflex accepts reflex requests at cfg.Address until ctx is
// cancelled or a kill request arrives. Every request is answered with
// an Ack. A duplicate incident is acknowledged without re-running the
// handler. A kill is acknowledged, then the server stops and returns
// ErrKilled.
func ServeReflex(ctx context.Context, cfg ReflexConfig) error {
	if cfg.Directory == "" {
		return fmt.Errorf("bus reflex: Directory is required")
	}
	if cfg.Address == "" {
		return fmt.Errorf("bus reflex: Address is required")
	}
	if cfg.Handler == nil {
		return fmt.Errorf("bus reflex: Handler is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	logger := cfg.Logger.With("reflex", cfg.Address)

	socketPath := ReflexSocket(cfg.Directory, cfg.Address)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("creating reflex directory: %w", err)
	}
	listener, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(socketPath)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(serveCtx, func() { listener.Close() })
	defer stop()

	recv := newReceiver(cfg.Address, ChannelReflex, cfg.Handler, cfg.ReplayWindow, cfg.Clock, logger)
	go func() {
		select {
		case <-recv.killed:
			cancel()
		case <-serveCtx.Done():
		}
	}()

	logger.Info("reflex listening", "socket", socketPath)

	var active sync.WaitGroup
	defer active.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if recv.isKilled() {
				return ErrKilled
			}
			if serveCtx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		active.Add(1)
		go func() {
			defer active.Done()
			defer conn.Close()
			connStop := context.AfterFunc(serveCtx, func() { conn.Close() })
			defer connStop()
			serveReflexConn(serveCtx, conn, recv, cfg.Clock)
		}()
	}
}

func serveReflexConn(ctx context.Context, conn net.Conn, recv *receiver, clk clock.Clock) {
	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)
	for {
		var request frame
		if err := decoder.Decode(&request); err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				recv.logger.Warn("reflex connection dropped", "error", err)
			}
			return
		}
		if request.Kind != kindRequest {
			continue
		}

		envelope, result, err := recv.deliver(ctx, request.Topic, request.Payload)
		ack := Ack{TS: clock.Epoch(clk.Now())}
		switch result {
		case outcomeDropped:
			if err != nil {
				ack.Error = err.Error()
			} else {
				// A kill addressed to someone else.
				ack.Ack = true
				ack.Signal = envelope.Signal
				ack.IncidentID = envelope.IncidentID
			}
		case outcomeFailed:
			ack.Error = err.Error()
		case outcomeKilled:
			if envelope.Signal == SignalKill {
				ack.Ack = true
				ack.Signal = envelope.Signal
				ack.IncidentID = envelope.IncidentID
			} else {
				// Killed earlier; this request was never handled.
				ack.Error = ErrKilled.Error()
			}
		default:
			ack.Ack = true
			ack.Signal = envelope.Signal
			ack.IncidentID = envelope.IncidentID
		}
		if err := encoder.Encode(frame{Kind: kindAck, Ack: &ack}); err != nil {
			recv.logger.Warn("sending reflex ack failed", "error", err)
			return
		}
		if result == outcomeKilled {
			return
		}
	}
}

// ReflexClient sends acknowledged commands to reflex endpoints.
type ReflexClient struct {
	Directory string
	Clock     clock.Clock

	// Timeout applies when the request context has no deadline.
	// Defaults to DefaultRequestTimeout.
	Timeout time.Duration
}

// Request sends one envelope to address and waits for its ack. It
// returns the ack on success, an error wrapping ErrNack when the
// endpoint rejected the request, and an error wrapping ErrNoAck when no
// ack arrived in time.
func (c ReflexClient) Request(ctx context.Context, address string, opts EmitOptions) (Ack, error) {
	if opts.Signal == "" {
		return Ack{}, fmt.Errorf("bus reflex request: Signal is required")
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := NewEnvelope(clk, opts).Encode()
	if err != nil {
		return Ack{}, err
	}

	conn, err := dial(ctx, ReflexSocket(c.Directory, address))
	if err != nil {
		return Ack{}, fmt.Errorf("%w: connecting to %s: %v", ErrNoAck, address, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(frame{Kind: kindRequest, Topic: address, Payload: payload}); err != nil {
		return Ack{}, fmt.Errorf("%w: sending to %s: %v", ErrNoAck, address, err)
	}
	var reply frame
	if err := codec.NewDecoder(conn).Decode(&reply); err != nil {
		return Ack{}, fmt.Errorf("%w: waiting for %s: %v", ErrNoAck, address, err)
	}
	if reply.Kind != kindAck || reply.Ack == nil {
		return Ack{}, fmt.Errorf("%w: unexpected %q frame from %s", ErrNoAck, reply.Kind, address)
	}
	if !reply.Ack.Ack {
		return *reply.Ack, fmt.Errorf("%w by %s: %s", ErrNack, address, reply.Ack.Error)
	}
	return *reply.Ack, nil
}
