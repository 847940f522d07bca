// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/cortex-robotics/cortex/lib/testutil"
)

type testState struct {
	Counter int
	Label   string
}

func testSpec() SharedSpec {
	return SharedSpec{InitSize: 256, InputSize: 256, OutputSize: 256}
}

// waitInputTail polls the region header until the broker-side pump has
// written the expected number of input frames.
func waitInputTail[I, O any](t *testing.T, s *Shared[I, O], want uint32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if binary.LittleEndian.Uint32(s.region[offInputTail:]) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("input ring tail never reached %d", want)
}

func TestSharedRoundTrip(t *testing.T) {
	inner, outer := New[int, string](0, 0)
	s, err := inner.IntoShared("round-trip", testSpec(), testState{Counter: 5, Label: "boot"}, nil)
	if err != nil {
		t.Fatalf("IntoShared: %v", err)
	}
	defer s.Close()

	remote, err := OpenRemote[int, string](testSpec(), s.Files())
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}

	var state testState
	if err := remote.InitState(&state); err != nil {
		t.Fatalf("InitState: %v", err)
	}
	if state.Counter != 5 || state.Label != "boot" {
		t.Errorf("init state = %+v, want {5 boot}", state)
	}

	if err := outer.Send(context.Background(), Input[int]{Value: 7, SourceTS: 1234}); err != nil {
		t.Fatalf("outer send: %v", err)
	}
	in, err := remote.Recv()
	if err != nil {
		t.Fatalf("remote recv: %v", err)
	}
	if in.Value != 7 || in.SourceTS != 1234 {
		t.Errorf("remote input = %+v, want value 7 stamp 1234", in)
	}

	if err := remote.Send(ChainOutput(in, "seven")); err != nil {
		t.Fatalf("remote send: %v", err)
	}
	out := testutil.RequireReceive(t, outer.Out(), 5*time.Second, "shared output")
	if out.Value != "seven" || out.SourceTS != 1234 {
		t.Errorf("output = %+v, want value seven stamp 1234", out)
	}
}

func TestSharedTryRecvEmpty(t *testing.T) {
	inner, _ := New[int, int](0, 0)
	s, err := inner.IntoShared("try-recv", testSpec(), testState{}, nil)
	if err != nil {
		t.Fatalf("IntoShared: %v", err)
	}
	defer s.Close()

	remote, err := OpenRemote[int, int](testSpec(), s.Files())
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	if _, ok, err := remote.TryRecv(); err != nil || ok {
		t.Fatalf("TryRecv on empty ring = ok %v err %v, want idle", ok, err)
	}
}

func TestSharedRecoversUnconsumedInputs(t *testing.T) {
	inner, outer := New[int, int](0, 0)
	s, err := inner.IntoShared("recovery", testSpec(), testState{}, nil)
	if err != nil {
		t.Fatalf("IntoShared: %v", err)
	}

	// Two inputs fit in the ring; with no remote consuming them they
	// stay there until the session closes.
	ctx := context.Background()
	if err := outer.Send(ctx, Input[int]{Value: 10, SourceTS: 100}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := outer.Send(ctx, Input[int]{Value: 20, SourceTS: 200}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitInputTail(t, s, 2)

	recovered, err := s.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("recovered %d inputs, want 2", len(recovered))
	}
	if recovered[0].SourceTS != 100 || recovered[1].SourceTS != 200 {
		t.Errorf("recovered stamps = %d, %d, want 100, 200",
			recovered[0].SourceTS, recovered[1].SourceTS)
	}

	// A fresh session seeded with the backlog replays the inputs to
	// the new remote ahead of anything else, in the original order.
	s2, err := inner.IntoShared("recovery", testSpec(), testState{}, recovered)
	if err != nil {
		t.Fatalf("IntoShared with backlog: %v", err)
	}
	defer s2.Close()

	remote, err := OpenRemote[int, int](testSpec(), s2.Files())
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	for i, want := range []struct {
		value int
		stamp Stamp
	}{{10, 100}, {20, 200}} {
		in, err := remote.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if in.Value != want.value || in.SourceTS != want.stamp {
			t.Errorf("replayed input %d = %+v, want value %d stamp %d",
				i, in, want.value, want.stamp)
		}
	}
}

func TestSharedDropsTornFrameOnRecovery(t *testing.T) {
	inner, outer := New[int, int](0, 0)
	spec := testSpec()
	s, err := inner.IntoShared("torn", spec, testState{}, nil)
	if err != nil {
		t.Fatalf("IntoShared: %v", err)
	}

	ctx := context.Background()
	if err := outer.Send(ctx, Input[int]{Value: 1, SourceTS: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := outer.Send(ctx, Input[int]{Value: 2, SourceTS: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitInputTail(t, s, 2)

	// Corrupt the first frame's payload as a mid-write crash would.
	spec.inputSlot(s.region, 0)[frameOverhead] ^= 0xff

	recovered, err := s.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("recovered %d inputs, want 1 (torn frame dropped)", len(recovered))
	}
	if recovered[0].SourceTS != 2 {
		t.Errorf("surviving input stamp = %d, want 2", recovered[0].SourceTS)
	}
}
