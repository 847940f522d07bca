// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/cortex-robotics/cortex/lib/agent"
	"github.com/cortex-robotics/cortex/lib/port"
)

// Flow is a handler's verdict on the output it was given.
type Flow int

const (
	// FlowContinue marks the output handled; the scan restarts from
	// the highest-priority slot.
	FlowContinue Flow = iota

	// FlowBreak completes the run loop successfully.
	FlowBreak
)

// Handler processes one agent output against the shared plan.
type Handler[P, O any] func(plan P, out port.Output[O]) (Flow, error)

// Slot is a broker slot. The concrete type is always a *Cell; the
// interface erases the per-agent message types so a broker can hold
// slots of heterogeneous agents.
type Slot[P any] interface {
	name() string
	bind(logger *slog.Logger)
	step(plan P, fence port.Stamp) (stepResult, error)
	waitChan() (reflect.Value, bool)
	stash(v reflect.Value, ok bool)
	disable()
	shutdown()
}

type stepResult int

const (
	stepIdle stepResult = iota
	stepContinue
	stepBreak
)

type cellState int

const (
	cellVacant cellState = iota
	cellEnabled
	cellDisabled
)

// Cell is a slot's lifecycle storage: at most one live agent instance,
// in one of three states. Vacant means no instance was ever built;
// Enabled means the instance exists and Run polls it; Disabled means
// the instance exists but is not polled. Enable and Disable move
// between the last two without touching the instance, so pausing an
// agent never loses it.
type Cell[P, I, O any] struct {
	// InputCapacity and OutputCapacity size the port buffers for task
	// and thread agents. Set before the first Enable. Process agents
	// take theirs from the ProcessConfig instead.
	InputCapacity  int
	OutputCapacity int

	slotName string
	logger   *slog.Logger
	state    cellState
	handler  Handler[P, O]
	spawn    func(ctx context.Context) (*port.Outer[I, O], func(), error)

	outer *port.Outer[I, O]
	stop  func()

	// pending holds an output consumed by the broker's blocking wait
	// (reflect.Select cannot peek) until the next scan dispatches it.
	pending    *port.Output[O]
	terminated bool
}

// NewTaskSlot declares a slot for a task agent. init builds the
// instance on first Enable; the handler receives every fresh output.
func NewTaskSlot[P, I, O any](name string, init func(ctx context.Context) (agent.Task[I, O], error), handler Handler[P, O]) *Cell[P, I, O] {
	c := &Cell[P, I, O]{slotName: name, handler: handler}
	c.spawn = func(ctx context.Context) (*port.Outer[I, O], func(), error) {
		a, err := init(ctx)
		if err != nil {
			return nil, nil, err
		}
		outer, cancel := agent.SpawnTask(context.WithoutCancel(ctx), c.logger, a,
			c.InputCapacity, c.OutputCapacity)
		return outer, func() { cancel() }, nil
	}
	return c
}

// NewThreadSlot declares a slot for a thread agent.
func NewThreadSlot[P, I, O any](name string, init func(ctx context.Context) (agent.Thread[I, O], error), handler Handler[P, O]) *Cell[P, I, O] {
	c := &Cell[P, I, O]{slotName: name, handler: handler}
	c.spawn = func(ctx context.Context) (*port.Outer[I, O], func(), error) {
		a, err := init(ctx)
		if err != nil {
			return nil, nil, err
		}
		outer, cancel := agent.SpawnThread(context.WithoutCancel(ctx), c.logger, a,
			c.InputCapacity, c.OutputCapacity)
		return outer, func() { cancel() }, nil
	}
	return c
}

// NewProcSlot declares a slot for a process agent. Stopping the slot
// goes through the supervisor's acknowledged kill.
func NewProcSlot[P, I, O any](name string, init func(ctx context.Context) (agent.Proc[I, O], error), handler Handler[P, O], cfg agent.ProcessConfig) *Cell[P, I, O] {
	c := &Cell[P, I, O]{slotName: name, handler: handler}
	c.spawn = func(ctx context.Context) (*port.Outer[I, O], func(), error) {
		a, err := init(ctx)
		if err != nil {
			return nil, nil, err
		}
		spawnCfg := cfg
		if spawnCfg.Logger == nil {
			spawnCfg.Logger = c.logger
		}
		outer, kill := agent.SpawnProcess(a, spawnCfg)
		return outer, kill.Kill, nil
	}
	return c
}

// Enable makes the slot polled. A vacant slot constructs its agent
// first; an existing instance (enabled or disabled) is resumed as is.
// Fails only when construction fails.
func (c *Cell[P, I, O]) Enable(ctx context.Context) error {
	if c.state == cellVacant {
		if c.logger == nil {
			c.logger = slog.Default()
		}
		outer, stop, err := c.spawn(ctx)
		if err != nil {
			return &InitError{Agent: c.slotName, Err: err}
		}
		c.outer = outer
		c.stop = stop
	}
	c.state = cellEnabled
	return nil
}

// TryEnable resumes the slot only if an instance already exists; a
// vacant slot stays vacant. Use it to resume-if-running.
func (c *Cell[P, I, O]) TryEnable() {
	if c.state == cellDisabled {
		c.state = cellEnabled
	}
}

// Disable stops polling the slot. The agent keeps running and keeps
// its state; a later Enable resumes the same instance.
func (c *Cell[P, I, O]) Disable() {
	if c.state == cellEnabled {
		c.state = cellDisabled
	}
}

// Outer returns the broker-side port, or nil while the slot is
// vacant. For sending inputs to the agent from outside the handler.
func (c *Cell[P, I, O]) Outer() *port.Outer[I, O] {
	return c.outer
}

func (c *Cell[P, I, O]) name() string { return c.slotName }

func (c *Cell[P, I, O]) bind(logger *slog.Logger) { c.logger = logger }

func (c *Cell[P, I, O]) disable() { c.Disable() }

// shutdown stops the live instance, if any. For process agents this
// blocks until the supervisor acknowledges teardown.
func (c *Cell[P, I, O]) shutdown() {
	if c.state == cellVacant {
		return
	}
	c.stop()
	c.state = cellVacant
	c.outer = nil
	c.stop = nil
	c.pending = nil
	c.terminated = false
}

// step drains the slot: skip stale outputs, dispatch the first fresh
// one, report the handler's verdict. stepIdle with a nil error means
// nothing was ready.
func (c *Cell[P, I, O]) step(plan P, fence port.Stamp) (stepResult, error) {
	if c.state != cellEnabled {
		return stepIdle, nil
	}
	for {
		out, ready, closed := c.next()
		if closed {
			return stepIdle, &TerminatedError{Agent: c.slotName}
		}
		if !ready {
			return stepIdle, nil
		}
		if !out.SourceTS.After(fence) {
			// Stale: pre-fence backlog, never dispatched.
			continue
		}
		flow, err := c.handler(plan, out)
		if err != nil {
			return stepIdle, &HandlerError{Agent: c.slotName, Err: err}
		}
		if flow == FlowBreak {
			return stepBreak, nil
		}
		return stepContinue, nil
	}
}

func (c *Cell[P, I, O]) next() (out port.Output[O], ready, closed bool) {
	if c.terminated {
		return out, false, true
	}
	if c.pending != nil {
		out = *c.pending
		c.pending = nil
		return out, true, false
	}
	select {
	case out, ok := <-c.outer.Out():
		if !ok {
			c.terminated = true
			return out, false, true
		}
		return out, true, false
	default:
		return out, false, false
	}
}

// waitChan exposes the output channel for the broker's blocking wait.
// Not offered when the slot already has work to report (pending output
// or termination), so the wait blocks only when a rescan would find
// nothing.
func (c *Cell[P, I, O]) waitChan() (reflect.Value, bool) {
	if c.state != cellEnabled || c.terminated || c.pending != nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(c.outer.Out()), true
}

// stash records the result of a blocking-wait receive for the next
// scan.
func (c *Cell[P, I, O]) stash(v reflect.Value, ok bool) {
	if !ok {
		c.terminated = true
		return
	}
	out := v.Interface().(port.Output[O])
	c.pending = &out
}
