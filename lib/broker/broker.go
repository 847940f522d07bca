// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/cortex-robotics/cortex/lib/port"
)

// ExtraResult is the verdict of the extra poll hook.
type ExtraResult int

const (
	// ExtraIdle reports no work; the loop blocks until a source wakes
	// it.
	ExtraIdle ExtraResult = iota

	// ExtraRescan reports that more agent work may be ready; the scan
	// restarts from the top.
	ExtraRescan

	// ExtraDone completes the run loop successfully.
	ExtraDone
)

// PollExtra is an optional hook polled after every full scan comes up
// idle, for event sources beyond agent ports. Pair it with Wake so the
// loop notices when the source becomes ready.
type PollExtra[P any] func(plan P) (ExtraResult, error)

// Broker owns the slots and the run loop. Construct with New; slot
// order is priority order, earliest is highest.
type Broker[P any] struct {
	logger *slog.Logger
	slots  []Slot[P]
	extra  PollExtra[P]
	wake   chan struct{}
}

// New builds a broker over the given slots. Slot names must be
// unique; a duplicate is a programmer error and panics.
func New[P any](logger *slog.Logger, slots ...Slot[P]) *Broker[P] {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		if seen[s.name()] {
			panic(fmt.Sprintf("broker: duplicate agent slot %q", s.name()))
		}
		seen[s.name()] = true
		s.bind(logger.With("agent", s.name()))
	}
	return &Broker[P]{
		logger: logger,
		slots:  slots,
		wake:   make(chan struct{}, 1),
	}
}

// SetPollExtra installs the extra poll hook. Call before Run.
func (b *Broker[P]) SetPollExtra(extra PollExtra[P]) {
	b.extra = extra
}

// Run drives the loop until a handler returns FlowBreak, anything
// fails, or ctx is done. The fence is captured now: agent outputs
// stamped at or before this moment are dropped as stale.
func (b *Broker[P]) Run(ctx context.Context, plan P) error {
	return b.RunWithFence(ctx, plan, port.Now())
}

// RunWithFence is Run with an explicit fence, for callers that captured
// the cutoff earlier (or tests that place it precisely).
func (b *Broker[P]) RunWithFence(ctx context.Context, plan P, fence port.Stamp) error {
scan:
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, s := range b.slots {
			res, err := s.step(plan, fence)
			if err != nil {
				return err
			}
			switch res {
			case stepContinue:
				// Handled one output; priority demands the scan
				// restart from the top, not move to the next slot.
				continue scan
			case stepBreak:
				return nil
			}
		}
		if b.extra != nil {
			res, err := b.extra(plan)
			if err != nil {
				return &PollExtraError{Err: err}
			}
			switch res {
			case ExtraDone:
				return nil
			case ExtraRescan:
				continue scan
			}
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
}

// Wake nudges a blocked run loop into another scan. For extra poll
// sources that became ready; agent outputs wake the loop on their own.
func (b *Broker[P]) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// DisableAll pauses every slot, the global freeze for degraded modes.
// Instances are preserved; re-enable resumes them.
func (b *Broker[P]) DisableAll() {
	for _, s := range b.slots {
		s.disable()
	}
}

// Shutdown stops every live agent. Process agents are killed through
// their supervisors' acknowledged teardown, so when Shutdown returns
// all children are reaped and their shared sessions gone.
func (b *Broker[P]) Shutdown() {
	for _, s := range b.slots {
		s.shutdown()
	}
}

// wait blocks until any enabled slot's port, the wake channel, or ctx
// fires. A received output is stashed on its slot for the next scan;
// reflect.Select is the only way to block on a slot set whose message
// types differ.
func (b *Broker[P]) wait(ctx context.Context) error {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(b.wake)},
	}
	owners := []Slot[P]{nil, nil}
	for _, s := range b.slots {
		if ch, ok := s.waitChan(); ok {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: ch})
			owners = append(owners, s)
		}
	}
	chosen, v, ok := reflect.Select(cases)
	switch chosen {
	case 0:
		return ctx.Err()
	case 1:
		return nil
	default:
		owners[chosen].stash(v, ok)
		return nil
	}
}
