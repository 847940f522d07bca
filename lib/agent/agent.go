// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"os"
	"syscall"

	"github.com/cortex-robotics/cortex/lib/port"
)

// Agent names a worker. Names must be unique within a broker and are
// used in log lines, error values, thread names, and the argv[0] of
// spawned agent processes.
type Agent interface {
	AgentName() string
}

// Task is an agent running as a goroutine in the broker's process.
// Run receives inputs from the inner port and sends outputs into it,
// returning when ctx is cancelled or the agent is done. The runner
// closes the port after Run returns.
type Task[I, O any] interface {
	Agent
	RunTask(ctx context.Context, p *port.Inner[I, O]) error
}

// Thread is an agent running on a goroutine pinned to a dedicated OS
// thread named after the agent.
type Thread[I, O any] interface {
	Agent
	RunThread(ctx context.Context, p *port.Inner[I, O]) error
}

// Proc is an agent running in a dedicated subprocess. The implementing
// type must be a pointer to a CBOR-serializable struct: its value at
// spawn time is the initial state shipped to the child through the
// shared region, and the child decodes it into a fresh instance before
// calling RunRemote.
//
// RunRemote is the agent's blocking loop inside the child. It runs to
// completion or error; either way the child exits and the supervisor's
// exit strategy decides what happens next.
type Proc[I, O any] interface {
	Agent
	SharedSpec() port.SharedSpec
	RunRemote(remote *port.Remote[I, O]) error
}

// ExitStrategy is the supervisor's decision after an agent subprocess
// exits.
type ExitStrategy int

const (
	// ExitRetry respawns the agent and replays every input it never
	// consumed. The default.
	ExitRetry ExitStrategy = iota

	// ExitRestart respawns the agent with a clean slate, discarding
	// unconsumed inputs.
	ExitRestart

	// ExitClose stops supervision permanently. The agent's port
	// closes and the broker observes termination.
	ExitClose
)

// String returns the strategy name for log lines.
func (s ExitStrategy) String() string {
	switch s {
	case ExitRetry:
		return "retry"
	case ExitRestart:
		return "restart"
	case ExitClose:
		return "close"
	default:
		return "unknown"
	}
}

// ExitClassifier is optionally implemented by Proc agents to map a
// child exit to a strategy. signal is 0 when the child exited normally
// (in which case code is its exit status); otherwise signal is what
// killed it and code is -1. Agents without a classifier get ExitRetry
// for every exit.
//
// A child killed by SIGINT is always treated as an intentional
// shutdown and never reaches the classifier.
type ExitClassifier interface {
	ClassifyExit(code int, signal syscall.Signal) ExitStrategy
}

// Initializer is optionally implemented by Proc agents to customize
// how their subprocess is launched.
type Initializer interface {
	// Executable overrides the binary to launch. Empty means the
	// current process image. An override lets agents with conflicting
	// native dependencies live in separate binaries.
	Executable() string

	// ExtraEnv returns additional environment entries ("KEY=value")
	// for the child.
	ExtraEnv() []string

	// KeepFiles returns descriptors to pass to the child beyond the
	// shared-memory set. Everything else is closed across the exec.
	KeepFiles() []*os.File
}
