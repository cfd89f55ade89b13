// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger returns a stderr logger: text when stderr is a
// terminal, JSON otherwise, so that logs from cron-driven ticks stay
// machine-parseable.
func NewCommandLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// IsTerminal reports whether stdout is a terminal. Commands use it to
// decide whether to style their tables.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
