// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind zooidctl.
// A Command either runs or dispatches to subcommands by name, parses its
// own pflag flag set, and prints structured help. Unknown commands and
// flags get an edit-distance suggestion.
package cli
