// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortex-robotics/cortex/lib/testutil"
)

func TestPairDelivery(t *testing.T) {
	inner, outer := New[int, string](0, 0)
	go func() {
		in := <-inner.In()
		if err := inner.Send(context.Background(), ChainOutput(in, "saw 7")); err != nil {
			t.Errorf("inner send: %v", err)
		}
		inner.Close()
	}()

	if err := outer.Send(context.Background(), Input[int]{Value: 7, SourceTS: 42}); err != nil {
		t.Fatalf("outer send: %v", err)
	}
	out := testutil.RequireReceive(t, outer.Out(), time.Second, "agent output")
	if out.Value != "saw 7" {
		t.Errorf("output value = %q, want %q", out.Value, "saw 7")
	}
	if out.SourceTS != 42 {
		t.Errorf("chained output stamp = %d, want 42", out.SourceTS)
	}

	select {
	case _, ok := <-outer.Out():
		if ok {
			t.Fatal("unexpected second output")
		}
	case <-time.After(time.Second):
		t.Fatal("output channel not closed after inner.Close")
	}
}

func TestChainPreservesStamp(t *testing.T) {
	in := NewInput(3)
	out := ChainOutput(in, "three")
	if out.SourceTS != in.SourceTS {
		t.Errorf("ChainOutput stamp = %d, want %d", out.SourceTS, in.SourceTS)
	}
	back := ChainInput(out, 4)
	if back.SourceTS != in.SourceTS {
		t.Errorf("ChainInput stamp = %d, want %d", back.SourceTS, in.SourceTS)
	}
}

func TestTrySendFullBuffer(t *testing.T) {
	_, outer := New[int, int](1, 0)
	if !outer.TrySend(NewInput(1)) {
		t.Fatal("TrySend failed on an empty buffer")
	}
	if outer.TrySend(NewInput(2)) {
		t.Fatal("TrySend succeeded on a full buffer")
	}
}

func TestSendUnjam(t *testing.T) {
	// Both directions jammed: the input buffer is full and the agent
	// is blocked sending an output. Plain Send would deadlock here.
	inner, outer := New[int, int](1, 0)
	outer.TrySend(NewInput(1))

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		if err := inner.Send(context.Background(), NewOutput(99)); err != nil {
			t.Errorf("inner send: %v", err)
		}
		// Consume the jammed input plus the unjamming one.
		<-inner.In()
		<-inner.In()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := outer.SendUnjam(ctx, NewInput(2)); err != nil {
		t.Fatalf("SendUnjam: %v", err)
	}
	testutil.RequireClosed(t, agentDone, time.Second, "agent goroutine")
}

func TestSendUnjamClosed(t *testing.T) {
	inner, outer := New[int, int](0, 0)
	inner.Close()
	err := outer.SendUnjam(context.Background(), NewInput(1))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("SendUnjam after close = %v, want ErrClosed", err)
	}
}

func TestSendCancelled(t *testing.T) {
	_, outer := New[int, int](0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := outer.Send(ctx, NewInput(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send on cancelled context = %v, want context.Canceled", err)
	}
}
