// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the three agent execution models and the
// machinery that runs them.
//
// An agent is a named worker connected to the broker through a port
// (lib/port). It runs under one of three models:
//
//   - Task: a goroutine in the broker's process.
//   - Thread: a goroutine pinned to a dedicated OS thread, for agents
//     that need thread-local state or specific scheduling.
//   - Proc: a dedicated OS subprocess, supervised and respawned on
//     crash, communicating over a shared-memory port.
//
// Process agents require InitProcesses to run at the very top of main,
// before any other program state is constructed. It detects whether
// the current process was spawned as an agent child (via environment
// markers set by the supervisor) and, if so, diverts into the agent's
// blocking loop instead of the normal program.
package agent
