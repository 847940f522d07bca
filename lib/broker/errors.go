// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "fmt"

// InitError is returned by Cell.Enable when constructing the agent
// instance fails.
type InitError struct {
	Agent string
	Err   error
}

func (e *InitError) Error() string { return fmt.Sprintf("initializing agent %s: %v", e.Agent, e.Err) }
func (e *InitError) Unwrap() error { return e.Err }

// HandlerError terminates the run loop when an agent's handler fails.
type HandlerError struct {
	Agent string
	Err   error
}

func (e *HandlerError) Error() string { return fmt.Sprintf("agent %s handler: %v", e.Agent, e.Err) }
func (e *HandlerError) Unwrap() error { return e.Err }

// PollExtraError wraps a failure of the broker's extra poll hook,
// distinct from handler failures so callers can tell which side of
// the loop broke.
type PollExtraError struct {
	Err error
}

func (e *PollExtraError) Error() string { return fmt.Sprintf("extra poll: %v", e.Err) }
func (e *PollExtraError) Unwrap() error { return e.Err }

// TerminatedError terminates the run loop when an enabled agent's
// port closes without the agent having been asked to stop.
type TerminatedError struct {
	Agent string
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("agent %s terminated unexpectedly", e.Agent)
}
