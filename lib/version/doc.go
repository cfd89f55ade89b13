// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build version information for the zooid
// binaries, injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/zooid-fleet/zooid/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
