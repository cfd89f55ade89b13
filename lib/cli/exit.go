// Copyright 2026 The Zooid Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError asks main to exit with Code without printing anything. The
// command has already written its own output; "registry reconcile
// --check" returns one when repairs would be needed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns Code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
