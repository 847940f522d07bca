// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cortex-robotics/cortex/lib/codec"
)

// Remote is the agent-side end of a shared port, used inside the
// spawned process. It reads inputs from the ring the broker side
// writes and publishes outputs into the output slot.
type Remote[I, O any] struct {
	spec   SharedSpec
	files  *SharedFiles
	region []byte
}

// OpenRemote maps the inherited shared region. The region size is
// checked against the spec so a mismatched parent and child binary
// fail loudly instead of corrupting frames.
func OpenRemote[I, O any](spec SharedSpec, files *SharedFiles) (*Remote[I, O], error) {
	fd := int(files.Region.Fd())
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("fstat shared region: %w", err)
	}
	size := spec.regionSize()
	if stat.Size != int64(size) {
		return nil, fmt.Errorf("shared region is %d bytes, expected %d", stat.Size, size)
	}
	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap shared region: %w", err)
	}
	return &Remote[I, O]{spec: spec, files: files, region: region}, nil
}

// InitState decodes the initial agent state written by the broker side
// into the given pointer.
func (r *Remote[I, O]) InitState(state any) error {
	payload, err := readFrame(r.spec.initSlot(r.region))
	if err != nil {
		return fmt.Errorf("initial state frame: %w", err)
	}
	if err := codec.Unmarshal(payload, state); err != nil {
		return fmt.Errorf("decoding initial state: %w", err)
	}
	return nil
}

// Recv blocks until an input message is available and consumes it.
func (r *Remote[I, O]) Recv() (Input[I], error) {
	if err := semWait(r.files.InputReady); err != nil {
		return Input[I]{}, err
	}
	return r.takeInput()
}

// TryRecv consumes an input message if one is available.
func (r *Remote[I, O]) TryRecv() (Input[I], bool, error) {
	ready, err := semTryWait(r.files.InputReady)
	if err != nil || !ready {
		return Input[I]{}, false, err
	}
	in, err := r.takeInput()
	return in, err == nil, err
}

// takeInput reads the frame at the ring head and advances it. The slot
// is released even when the frame is bad so the ring keeps moving.
func (r *Remote[I, O]) takeInput() (Input[I], error) {
	head := binary.LittleEndian.Uint32(r.region[offInputHead:])
	slot := int(head % 2)
	payload, frameErr := readFrame(r.spec.inputSlot(r.region, slot))
	stamp := Stamp(binary.LittleEndian.Uint64(r.region[inputStampOff(slot):]))
	binary.LittleEndian.PutUint32(r.region[offInputHead:], head+1)
	if err := semPost(r.files.InputFree); err != nil {
		return Input[I]{}, err
	}
	if frameErr != nil {
		return Input[I]{}, fmt.Errorf("input frame: %w", frameErr)
	}
	var value I
	if err := codec.Unmarshal(payload, &value); err != nil {
		return Input[I]{}, fmt.Errorf("decoding input message: %w", err)
	}
	return Input[I]{Value: value, SourceTS: stamp}, nil
}

// Send blocks until the output slot is free and publishes the message.
func (r *Remote[I, O]) Send(out Output[O]) error {
	payload, err := codec.Marshal(out.Value)
	if err != nil {
		return fmt.Errorf("encoding output message: %w", err)
	}
	if err := semWait(r.files.OutputFree); err != nil {
		return err
	}
	return r.putOutput(payload, out.SourceTS)
}

// TrySend publishes the message if the output slot is free and reports
// whether it did.
func (r *Remote[I, O]) TrySend(out Output[O]) (bool, error) {
	payload, err := codec.Marshal(out.Value)
	if err != nil {
		return false, fmt.Errorf("encoding output message: %w", err)
	}
	free, err := semTryWait(r.files.OutputFree)
	if err != nil || !free {
		return false, err
	}
	return true, r.putOutput(payload, out.SourceTS)
}

func (r *Remote[I, O]) putOutput(payload []byte, stamp Stamp) error {
	if err := writeFrame(r.spec.outputSlot(r.region), payload); err != nil {
		return fmt.Errorf("output frame: %w", err)
	}
	binary.LittleEndian.PutUint64(r.region[offOutputStamp:], uint64(stamp))
	return semPost(r.files.OutputReady)
}

// Close unmaps the region and closes the inherited descriptors.
func (r *Remote[I, O]) Close() error {
	err := unix.Munmap(r.region)
	r.region = nil
	r.files.CloseAll()
	return err
}
