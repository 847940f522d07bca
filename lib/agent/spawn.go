// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cortex-robotics/cortex/lib/port"
)

// SpawnTask runs a task agent on a goroutine. The returned outer port
// is the broker's end; cancel stops the agent. The agent's inner port
// closes when its run function returns, so the broker observes
// termination whether the agent finished, failed, or was cancelled.
func SpawnTask[I, O any](ctx context.Context, logger *slog.Logger, a Task[I, O], inputCap, outputCap int) (*port.Outer[I, O], context.CancelFunc) {
	inner, outer := port.New[I, O](inputCap, outputCap)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer inner.Close()
		if err := a.RunTask(ctx, inner); err != nil && ctx.Err() == nil {
			logger.Error("task agent failed", "agent", a.AgentName(), "error", err)
		}
	}()
	return outer, cancel
}

// SpawnThread runs a thread agent on a goroutine locked to a dedicated
// OS thread carrying the agent's name.
func SpawnThread[I, O any](ctx context.Context, logger *slog.Logger, a Thread[I, O], inputCap, outputCap int) (*port.Outer[I, O], context.CancelFunc) {
	inner, outer := port.New[I, O](inputCap, outputCap)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		// The lock is never released: letting a thread that carried
		// agent-specific state back into the scheduler pool would
		// leak that state to unrelated goroutines, so the thread is
		// discarded when the goroutine exits.
		runtime.LockOSThread()
		setThreadName(a.AgentName())
		defer inner.Close()
		if err := a.RunThread(ctx, inner); err != nil && ctx.Err() == nil {
			logger.Error("thread agent failed", "agent", a.AgentName(), "error", err)
		}
	}()
	return outer, cancel
}

// setThreadName labels the current OS thread so the agent shows up by
// name in ps and /proc. The kernel caps thread names at 15 bytes.
func setThreadName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	buf := append([]byte(name), 0)
	unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
