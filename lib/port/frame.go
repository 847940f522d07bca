// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// Frame layout inside a shared-memory slot:
//
//	[0:8)   payload length, little-endian
//	[8:24)  truncated BLAKE3-256 checksum of the payload
//	[24:)   CBOR payload
//
// The checksum lets backlog recovery validate frames read back from
// the region after the consumer died: a frame that fails verification
// is dropped instead of being replayed to the respawned agent.
const (
	frameLengthSize   = 8
	frameChecksumSize = 16
	frameOverhead     = frameLengthSize + frameChecksumSize
)

// writeFrame writes payload into slot. slot must be a full frame slot
// (overhead plus payload capacity).
func writeFrame(slot []byte, payload []byte) error {
	if len(payload) > len(slot)-frameOverhead {
		return fmt.Errorf("message of %d bytes exceeds the slot payload capacity of %d bytes",
			len(payload), len(slot)-frameOverhead)
	}
	binary.LittleEndian.PutUint64(slot[:frameLengthSize], uint64(len(payload)))
	sum := blake3.Sum256(payload)
	copy(slot[frameLengthSize:frameOverhead], sum[:frameChecksumSize])
	copy(slot[frameOverhead:], payload)
	return nil
}

// readFrame extracts and verifies the payload from slot. The returned
// slice is a copy; it stays valid after the region is unmapped.
func readFrame(slot []byte) ([]byte, error) {
	length := binary.LittleEndian.Uint64(slot[:frameLengthSize])
	if length > uint64(len(slot)-frameOverhead) {
		return nil, fmt.Errorf("frame length %d exceeds the slot payload capacity of %d bytes",
			length, len(slot)-frameOverhead)
	}
	payload := make([]byte, length)
	copy(payload, slot[frameOverhead:frameOverhead+int(length)])
	sum := blake3.Sum256(payload)
	if string(sum[:frameChecksumSize]) != string(slot[frameLengthSize:frameOverhead]) {
		return nil, fmt.Errorf("frame checksum mismatch (torn write)")
	}
	return payload, nil
}
