// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration
// shared by every Cortex package that serializes data.
//
// CBOR is the wire format for everything that crosses a process
// boundary: shared-memory message frames between the broker and
// process agents, the serialized initial agent state handed to a
// spawned child, and recovered input backlogs carried across a
// respawn. Using one shared configuration means every package encodes
// identically without duplicating options.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes.
//
// For buffer-oriented operations (shared-memory frames, state blobs):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
