// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus is the fleet's local-host signal transport. It offers
// three channels with different delivery contracts:
//
//   - Affect: broadcast pub/sub through the [Hub]. Publishers send to
//     the hub's affect socket; the hub fans each message out to every
//     subscriber whose topic prefix matches. At-most-once: a subscriber
//     that falls behind loses messages rather than slowing the hub.
//     State-change notifications and HEARTBEAT signals travel here.
//   - Reflex: addressable request/ack. A [ReflexServer] binds
//     reflex/<address>.sock and answers every request with an ack or a
//     nack frame. [Request] returns an error unless an ack is observed.
//   - Trophic: a work queue through the hub. Pushers enqueue per topic;
//     each connected puller asks for one item at a time, so work flows
//     to whichever puller is idle.
//
// Every socket carries a stream of CBOR frames (lib/codec). The frame
// holds the topic as its routing key and the signal [Envelope] as a
// UTF-8 JSON payload.
//
// Receivers share one processing rule (see [Subscribe] and [Pull]):
// a governance.kill envelope stops the receiver; an envelope whose
// incident_id was processed within the replay window is dropped; any
// other envelope goes to the handler. Malformed payloads are logged and
// dropped. Socket errors are logged and the receiver reconnects after a
// short delay. Delivery is never retried by the bus itself; retry and
// backoff belong to the sender.
//
// Shutdown is context-driven: cancelling the context passed to Serve,
// Subscribe, or Pull closes the underlying sockets, which unblocks any
// pending receive.
package bus
