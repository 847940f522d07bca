// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox isolates agent subprocesses.
//
// A Policy has two halves: Configure runs in the supervisor and shapes
// the exec.Cmd (clone flags for namespace isolation), and ApplyInChild
// runs in the spawned child before the agent loop, the hook point for
// measures that can only be taken from inside the new process (seccomp
// filters, filesystem pivoting). The default Namespaces policy puts
// every agent in fresh user and IPC namespaces, optionally a network
// namespace, with no in-child step.
//
// Policies for a fleet of agents can be declared in a YAML profile and
// loaded with LoadProfile.
package sandbox
