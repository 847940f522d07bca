// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import (
	"context"
	"errors"
)

// ErrClosed is returned by send operations when the peer end of the
// port has gone away.
var ErrClosed = errors.New("port is closed")

// Input is a message travelling broker → agent. SourceTS is the
// stamp of the sensor reading or event that ultimately caused this
// message; it is preserved across Chain calls so the broker fence
// applies to the original observation time, not to relay time.
type Input[I any] struct {
	Value    I
	SourceTS Stamp
}

// Output is a message travelling agent → broker.
type Output[O any] struct {
	Value    O
	SourceTS Stamp
}

// NewInput creates an input stamped with the current monotonic time.
func NewInput[I any](value I) Input[I] {
	return Input[I]{Value: value, SourceTS: Now()}
}

// NewOutput creates an output stamped with the current monotonic time.
func NewOutput[O any](value O) Output[O] {
	return Output[O]{Value: value, SourceTS: Now()}
}

// ChainOutput creates an output that inherits the source timestamp of
// the input it was computed from. Agents use this so that derived
// results are fenced by the time of the original observation.
func ChainOutput[I, O any](in Input[I], value O) Output[O] {
	return Output[O]{Value: value, SourceTS: in.SourceTS}
}

// ChainInput creates an input that inherits the source timestamp of
// the output it was derived from. The broker uses this when one
// agent's output becomes another agent's input.
func ChainInput[O, I any](out Output[O], value I) Input[I] {
	return Input[I]{Value: value, SourceTS: out.SourceTS}
}

// Inner is the agent-side end of a port: the agent receives inputs
// from it and sends outputs into it.
type Inner[I, O any] struct {
	inputs  chan Input[I]
	outputs chan Output[O]
}

// Outer is the broker-side end of a port: the broker sends inputs
// into it and receives outputs from it.
type Outer[I, O any] struct {
	inputs  chan Input[I]
	outputs chan Output[O]
}

// New creates a connected inner/outer pair. inputCapacity and
// outputCapacity size the respective channel buffers; zero means
// every message is a direct rendezvous, for agents whose data must
// be as fresh as possible.
func New[I, O any](inputCapacity, outputCapacity int) (*Inner[I, O], *Outer[I, O]) {
	inputs := make(chan Input[I], inputCapacity)
	outputs := make(chan Output[O], outputCapacity)
	inner := &Inner[I, O]{inputs: inputs, outputs: outputs}
	outer := &Outer[I, O]{inputs: inputs, outputs: outputs}
	return inner, outer
}

// In returns the channel the agent receives inputs from.
func (p *Inner[I, O]) In() <-chan Input[I] { return p.inputs }

// Send delivers an output to the broker, blocking until the broker
// accepts it or ctx is done.
func (p *Inner[I, O]) Send(ctx context.Context, out Output[O]) error {
	select {
	case p.outputs <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the output side of the port. The broker observes this
// as agent termination. Must be called exactly once, by the agent
// runner, after the agent's run function returns.
func (p *Inner[I, O]) Close() {
	close(p.outputs)
}

// Out returns the channel the broker receives outputs from. The
// channel is closed when the agent terminates.
func (p *Outer[I, O]) Out() <-chan Output[O] { return p.outputs }

// Send delivers an input to the agent, blocking until the agent
// accepts it or ctx is done.
func (p *Outer[I, O]) Send(ctx context.Context, in Input[I]) error {
	select {
	case p.inputs <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend delivers an input if the agent can accept it immediately
// and reports whether it was delivered.
func (p *Outer[I, O]) TrySend(in Input[I]) bool {
	select {
	case p.inputs <- in:
		return true
	default:
		return false
	}
}

// SendUnjam delivers an input while draining any pending outputs.
//
// This is for situations where the agent may be blocked sending an
// output to the broker at the same moment the broker blocks sending
// an input to the agent. Plain Send would deadlock; SendUnjam
// discards queued outputs until the input goes through. Returns
// ErrClosed if the agent terminates before accepting the input.
func (p *Outer[I, O]) SendUnjam(ctx context.Context, in Input[I]) error {
	for {
		select {
		case p.inputs <- in:
			return nil
		case _, ok := <-p.outputs:
			if !ok {
				return ErrClosed
			}
			// Output discarded; keep trying to send.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
