// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker multiplexes agent outputs into a single control loop.
//
// A broker owns a fixed set of slots, one per agent, declared in
// priority order. Each slot is a Cell holding the agent's lifecycle
// state (vacant, enabled, disabled) and, once enabled, the broker-side
// end of its port. Run scans enabled slots in priority order, drains
// ready outputs, and dispatches each to the slot's handler against the
// shared plan value.
//
// Scheduling is strict priority: whenever a handler reports
// FlowContinue, the scan restarts from the highest-priority slot
// instead of moving on. A high-priority agent can therefore starve
// lower ones by producing continuously, but never the reverse.
//
// Outputs stamped at or before the run's fence are stale (typically
// backlog replayed after a process agent crash) and are dropped
// without dispatch.
package broker
