// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records in-flight promotions so that a crash between
// "registry says ACTIVE" and "heartbeat observed" is detectable.
//
// The graduator writes a [State] file before starting a promoted
// zooid's service and clears it once the promotion is settled
// (heartbeat observed or rolled back). If the graduator process dies in
// between, the file survives. A later tick lists the directory with
// [List], treats any state older than its deadline as abandoned, and
// rolls the zooid back.
//
// Files are written atomically (temporary file, fsync, rename, fsync
// parent directory), so readers never see a partial state.
package watchdog
