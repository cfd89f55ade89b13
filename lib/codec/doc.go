// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for the fleet's
// internal wire protocols.
//
// Two formats meet at a fixed boundary:
//
//   - JSON for external contracts: the signal envelope payload, the
//     registry files (niche_map.json and its snapshots), the spawn
//     journal, and CLI output.
//   - CBOR for internal framing: bus frames on the affect and trophic
//     hub sockets, and reflex request/ack frames.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same frame always produces the same bytes. CBOR values are
// self-delimiting, which lets a socket carry a plain stream of frames
// without a length prefix:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only travel as CBOR use `cbor` struct tags.
package codec
