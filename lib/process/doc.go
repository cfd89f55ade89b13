// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the zooid
// binaries.
package process
