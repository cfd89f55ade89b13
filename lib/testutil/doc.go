// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for the fleet's tests.
//
// [SocketDir] returns a short directory under /tmp for bus sockets,
// since unix socket paths are limited to 108 bytes and t.TempDir()
// paths can exceed that.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests that wait on subscriber handlers or heartbeats
// do not hang forever when something is broken.
//
// [UniqueID] produces monotonically increasing identifiers for incident
// ids and zooid names.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
