// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package port provides the bi-directional channel between an agent
// and the broker.
//
// A port has an inner end (held by the agent) and an outer end (held
// by the broker). The broker sends inputs through the outer end and
// receives timestamped outputs from it; the agent sees the mirror
// image. Task- and thread-based agents use a port backed by ordinary
// in-memory channels. Process-based agents use a port materialized
// into a shared-memory region: a memfd carrying CBOR-encoded message
// frames, synchronized by eventfd semaphores that both sides of the
// process boundary can block on.
//
// A shared port survives the death of the process on its inner end.
// Tearing the region down hands back the reusable inner end together
// with every input frame that was written but never consumed, so a
// supervisor can respawn the agent and replay the backlog.
//
// Every message carries a source timestamp (a Stamp, nanoseconds on
// the system monotonic clock). The broker uses these stamps to fence
// off messages that predate its run loop.
package port
