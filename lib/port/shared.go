// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/cortex-robotics/cortex/lib/codec"
)

// SharedSpec sizes the shared-memory region for one process agent.
// Each size is the maximum encoded length of the corresponding
// message; encoding a larger message fails the send.
type SharedSpec struct {
	// InitSize bounds the encoded initial agent state.
	InitSize int

	// InputSize bounds a single encoded input message.
	InputSize int

	// OutputSize bounds a single encoded output message.
	OutputSize int
}

// Region header layout. The input slots form a two-entry ring: the
// broker side writes at inputTail%2 and advances inputTail, the agent
// reads at inputHead%2 and advances inputHead. The semaphores
// guarantee head <= tail <= head+2, so writer and reader never touch
// the same slot. After a crash the frames in [head, tail) are exactly
// the inputs the agent never consumed.
const (
	offInputHead   = 0  // uint32, advanced by the agent
	offInputTail   = 4  // uint32, advanced by the broker side
	offInputStamp0 = 8  // int64, source stamp of input slot 0
	offInputStamp1 = 16 // int64, source stamp of input slot 1
	offOutputStamp = 24 // int64, source stamp of the output slot
	headerSize     = 32
)

func inputStampOff(slot int) int {
	if slot == 0 {
		return offInputStamp0
	}
	return offInputStamp1
}

// regionSize is the total mapping size: header, one init frame, two
// input frames, one output frame.
func (s SharedSpec) regionSize() int {
	return headerSize +
		(frameOverhead + s.InitSize) +
		2*(frameOverhead+s.InputSize) +
		(frameOverhead + s.OutputSize)
}

func (s SharedSpec) initSlot(region []byte) []byte {
	start := headerSize
	return region[start : start+frameOverhead+s.InitSize]
}

func (s SharedSpec) inputSlot(region []byte, slot int) []byte {
	start := headerSize + (frameOverhead + s.InitSize) + slot*(frameOverhead+s.InputSize)
	return region[start : start+frameOverhead+s.InputSize]
}

func (s SharedSpec) outputSlot(region []byte) []byte {
	start := headerSize + (frameOverhead + s.InitSize) + 2*(frameOverhead+s.InputSize)
	return region[start : start+frameOverhead+s.OutputSize]
}

// RecoveredInput is an input message salvaged from a shared session
// after the remote process exited without consuming it. The payload
// stays encoded so it can be replayed into the next session without a
// decode/re-encode round trip.
type RecoveredInput struct {
	Payload  codec.RawMessage
	SourceTS Stamp
}

// Shared is the broker-side handle on a port materialized into shared
// memory. Two pump goroutines bridge the Inner's channels to the
// region: inputs are encoded into the input ring, outputs are decoded
// from the output slot. Close tears the session down and returns every
// input the remote never consumed.
type Shared[I, O any] struct {
	spec    SharedSpec
	files   *SharedFiles
	region  []byte
	inner   *Inner[I, O]
	backlog []RecoveredInput

	stop    chan struct{}
	stopped atomic.Bool
	group   *errgroup.Group
}

// IntoShared materializes the inner end of a port into a shared-memory
// session. The initial state is encoded into the init frame for the
// remote to read on startup. A backlog of previously recovered inputs
// is replayed into the ring before any fresh input from the outer end.
//
// The Inner stays owned by the session until Close returns it to use.
func (inner *Inner[I, O]) IntoShared(name string, spec SharedSpec, initState any, backlog []RecoveredInput) (*Shared[I, O], error) {
	files, region, err := createSharedFiles(name, spec.regionSize())
	if err != nil {
		return nil, fmt.Errorf("shared region for %s: %w", name, err)
	}

	payload, err := codec.Marshal(initState)
	if err != nil {
		unix.Munmap(region)
		files.CloseAll()
		return nil, fmt.Errorf("encoding initial state for %s: %w", name, err)
	}
	if err := writeFrame(spec.initSlot(region), payload); err != nil {
		unix.Munmap(region)
		files.CloseAll()
		return nil, fmt.Errorf("initial state for %s: %w", name, err)
	}

	s := &Shared[I, O]{
		spec:    spec,
		files:   files,
		region:  region,
		inner:   inner,
		backlog: backlog,
		stop:    make(chan struct{}),
		group:   &errgroup.Group{},
	}
	s.group.Go(s.outputPump)
	s.group.Go(s.inputPump)
	return s, nil
}

// Files returns the descriptor set to pass to the spawned process.
func (s *Shared[I, O]) Files() *SharedFiles {
	return s.files
}

// ReleaseRegion closes the parent's region descriptor once the child
// has inherited its own copy. The mapping stays valid; only the
// descriptor is released so the memfd dies with the session.
func (s *Shared[I, O]) ReleaseRegion() error {
	err := s.files.Region.Close()
	s.files.Region = nil
	return err
}

// Close stops the pumps, unmaps the region, and returns every input
// the remote process never consumed: first the frames still sitting in
// the ring, then any replayed backlog that was never written. The
// returned slice is in original send order, ready to seed the next
// session. Frames torn by a mid-write crash fail their checksum and
// are dropped.
func (s *Shared[I, O]) Close() ([]RecoveredInput, error) {
	if s.stopped.Swap(true) {
		return nil, nil
	}
	close(s.stop)
	// The pumps may be blocked in semWait; a post on each consumed
	// semaphore wakes them to observe the stop flag.
	semPost(s.files.OutputReady)
	semPost(s.files.InputFree)
	pumpErr := s.group.Wait()

	var recovered []RecoveredInput
	head := binary.LittleEndian.Uint32(s.region[offInputHead:])
	tail := binary.LittleEndian.Uint32(s.region[offInputTail:])
	for i := head; i != tail; i++ {
		slot := int(i % 2)
		payload, err := readFrame(s.spec.inputSlot(s.region, slot))
		if err != nil {
			continue
		}
		stamp := Stamp(binary.LittleEndian.Uint64(s.region[inputStampOff(slot):]))
		recovered = append(recovered, RecoveredInput{Payload: payload, SourceTS: stamp})
	}
	recovered = append(recovered, s.backlog...)

	unix.Munmap(s.region)
	s.region = nil
	s.files.CloseAll()
	return recovered, pumpErr
}

// outputPump moves frames from the output slot to the inner's output
// channel. A frame that fails its checksum is dropped; a frame that
// fails to decode stops the pump, surfacing the error from Close.
func (s *Shared[I, O]) outputPump() error {
	for {
		if err := semWait(s.files.OutputReady); err != nil {
			return err
		}
		if s.stopped.Load() {
			return nil
		}
		payload, err := readFrame(s.spec.outputSlot(s.region))
		if err != nil {
			semPost(s.files.OutputFree)
			continue
		}
		stamp := Stamp(binary.LittleEndian.Uint64(s.region[offOutputStamp:]))
		var value O
		if err := codec.Unmarshal(payload, &value); err != nil {
			return fmt.Errorf("decoding output frame: %w", err)
		}
		if err := semPost(s.files.OutputFree); err != nil {
			return err
		}
		select {
		case s.inner.outputs <- Output[O]{Value: value, SourceTS: stamp}:
		case <-s.stop:
			return nil
		}
	}
}

// inputPump moves messages from the backlog and then the inner's input
// channel into the input ring. The backlog drains first so replayed
// inputs keep their original order ahead of fresh ones.
func (s *Shared[I, O]) inputPump() error {
	for {
		if err := semWait(s.files.InputFree); err != nil {
			return err
		}
		if s.stopped.Load() {
			return nil
		}

		var payload []byte
		var stamp Stamp
		if len(s.backlog) > 0 {
			payload = s.backlog[0].Payload
			stamp = s.backlog[0].SourceTS
			s.backlog = s.backlog[1:]
		} else {
			select {
			case in := <-s.inner.inputs:
				p, err := codec.Marshal(in.Value)
				if err != nil {
					return fmt.Errorf("encoding input message: %w", err)
				}
				payload = p
				stamp = in.SourceTS
			case <-s.stop:
				return nil
			}
		}

		tail := binary.LittleEndian.Uint32(s.region[offInputTail:])
		slot := int(tail % 2)
		if err := writeFrame(s.spec.inputSlot(s.region, slot), payload); err != nil {
			return fmt.Errorf("input frame: %w", err)
		}
		binary.LittleEndian.PutUint64(s.region[inputStampOff(slot):], uint64(stamp))
		binary.LittleEndian.PutUint32(s.region[offInputTail:], tail+1)
		if err := semPost(s.files.InputReady); err != nil {
			return err
		}
	}
}
