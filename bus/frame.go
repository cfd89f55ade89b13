// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"time"
)

// Channel names a bus channel in logs and errors.
type Channel string

const (
	ChannelAffect  Channel = "affect"
	ChannelReflex  Channel = "reflex"
	ChannelTrophic Channel = "trophic"
)

// Frame kinds.
const (
	kindSubscribe = "subscribe"
	kindPublish   = "publish"
	kindMessage   = "message"
	kindPush      = "push"
	kindPull      = "pull"
	kindWork      = "work"
	kindRequest   = "request"
	kindAck       = "ack"
)

// frame is the unit carried on every bus socket.
type frame struct {
	Kind    string   `cbor:"kind"`
	Topics  []string `cbor:"topics,omitempty"`
	Topic   string   `cbor:"topic,omitempty"`
	Payload []byte   `cbor:"payload,omitempty"`
	Ack     *Ack     `cbor:"ack,omitempty"`
}

// dialTimeout bounds the connect phase of every bus dial.
const dialTimeout = 5 * time.Second

// AffectSocket returns the hub's broadcast socket path under directory.
func AffectSocket(directory string) string {
	return filepath.Join(directory, "affect.sock")
}

// TrophicSocket returns the hub's work-queue socket path under
// directory.
func TrophicSocket(directory string) string {
	return filepath.Join(directory, "trophic.sock")
}

// ReflexSocket returns the socket path a reflex server for address
// binds under directory.
func ReflexSocket(directory, address string) string {
	return filepath.Join(directory, "reflex", address+".sock")
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "unix", path)
}

// topicMatches applies prefix subscription semantics: an empty prefix
// matches every topic.
func topicMatches(prefixes []string, topic string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// isClosed reports whether err is the normal result of a peer hanging
// up or of our own shutdown closing the socket.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
