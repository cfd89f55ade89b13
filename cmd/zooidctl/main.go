// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

// Zooidctl is the operator CLI for a zooid fleet. It inspects and
// repairs the registry, runs the periodic spawn, batch, graduation, and
// SLA ticks, records fitness evidence, and talks on the signal bus.
//
// Every command reads the same zooid.yaml (--config or ZOOID_CONFIG);
// with neither, the built-in defaults under ~/.local/state/zooid apply.
package main

import (
	"os"

	"github.com/zooid-fleet/zooid/lib/process"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}
