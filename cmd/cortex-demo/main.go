// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

// Cortex-demo drives one agent of each execution model through a
// broker: a task agent ticking at a fixed interval, a thread agent
// accumulating the ticks, and a process agent echoing the running
// total from an isolated subprocess. The -crash-every flag makes the
// process agent kill itself periodically to show supervision and
// input replay at work.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortex-robotics/cortex/lib/agent"
	"github.com/cortex-robotics/cortex/lib/broker"
	"github.com/cortex-robotics/cortex/lib/port"
	"github.com/cortex-robotics/cortex/lib/process"
	"github.com/cortex-robotics/cortex/sandbox"
)

func main() {
	// Must come before anything else: a spawned agent child diverts
	// here instead of running the demo again.
	agent.InitProcesses(func(name string, files *port.SharedFiles) error {
		switch name {
		case "echo":
			return agent.RunProc[string, string](&echoAgent{}, files, nil)
		default:
			return fmt.Errorf("unknown agent %q", name)
		}
	})

	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		interval     time.Duration
		crashEvery   int
		count        int
		respawnDelay time.Duration
		isolation    string
		profilePath  string
		debug        bool
	)
	flag.DurationVar(&interval, "interval", 500*time.Millisecond, "tick interval")
	flag.IntVar(&crashEvery, "crash-every", 5, "crash the echo agent every N ticks (0 disables)")
	flag.IntVar(&count, "count", 20, "stop after N echoes (0 runs until interrupted)")
	flag.DurationVar(&respawnDelay, "respawn-delay", time.Second, "delay before respawning a crashed agent")
	flag.StringVar(&isolation, "isolation", "none", "sandboxing for the echo agent: none, namespaces")
	flag.StringVar(&profilePath, "sandbox-profile", "", "YAML sandbox profile (overrides -isolation)")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	policy, err := resolvePolicy(isolation, profilePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plan := &demoPlan{logger: logger, limit: count, crashEvery: crashEvery}

	tickerCell := broker.NewTaskSlot("ticker",
		func(ctx context.Context) (agent.Task[struct{}, int], error) {
			return &tickerAgent{interval: interval}, nil
		},
		func(p *demoPlan, out port.Output[int]) (broker.Flow, error) {
			p.ticks++
			if !p.accumulator.Outer().TrySend(port.ChainInput(out, out.Value)) {
				p.logger.Warn("accumulator busy, dropping tick", "tick", out.Value)
			}
			return broker.FlowContinue, nil
		})

	accumulatorCell := broker.NewThreadSlot("accumulator",
		func(ctx context.Context) (agent.Thread[int, int], error) {
			return &accumulatorAgent{}, nil
		},
		func(p *demoPlan, out port.Output[int]) (broker.Flow, error) {
			msg := fmt.Sprintf("total=%d", out.Value)
			if p.crashEvery > 0 && p.ticks%p.crashEvery == 0 {
				msg = "crash"
			}
			if !p.echo.Outer().TrySend(port.ChainInput(out, msg)) {
				p.logger.Warn("echo busy, dropping update", "msg", msg)
			}
			return broker.FlowContinue, nil
		})

	echoCell := broker.NewProcSlot("echo",
		func(ctx context.Context) (agent.Proc[string, string], error) {
			return &echoAgent{Prefix: "echo: "}, nil
		},
		func(p *demoPlan, out port.Output[string]) (broker.Flow, error) {
			p.logger.Info(out.Value)
			p.echoes++
			if p.limit > 0 && p.echoes >= p.limit {
				return broker.FlowBreak, nil
			}
			return broker.FlowContinue, nil
		},
		agent.ProcessConfig{
			Logger:         logger,
			Sandbox:        policy,
			RespawnDelay:   respawnDelay,
			InputCapacity:  4,
			OutputCapacity: 4,
		})
	accumulatorCell.InputCapacity = 4
	accumulatorCell.OutputCapacity = 4

	plan.accumulator = accumulatorCell
	plan.echo = echoCell

	b := broker.New[*demoPlan](logger, tickerCell, accumulatorCell, echoCell)
	defer b.Shutdown()

	for _, enable := range []func(context.Context) error{
		tickerCell.Enable, accumulatorCell.Enable, echoCell.Enable,
	} {
		if err := enable(ctx); err != nil {
			return err
		}
	}

	logger.Info("demo running", "interval", interval, "crash_every", crashEvery)
	if err := b.Run(ctx, plan); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("demo finished", "ticks", plan.ticks, "echoes", plan.echoes)
	return nil
}

func resolvePolicy(isolation, profilePath string) (sandbox.Policy, error) {
	if profilePath != "" {
		profile, err := sandbox.LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		return profile.PolicyFor("echo"), nil
	}
	switch isolation {
	case "none":
		return sandbox.None(), nil
	case "namespaces":
		return sandbox.Namespaces{}, nil
	default:
		return nil, fmt.Errorf("unknown isolation %q", isolation)
	}
}

// demoPlan is the broker's shared state: counters plus the cells the
// handlers forward into.
type demoPlan struct {
	logger      *slog.Logger
	ticks       int
	echoes      int
	limit       int
	crashEvery  int
	accumulator *broker.Cell[*demoPlan, int, int]
	echo        *broker.Cell[*demoPlan, string, string]
}

// tickerAgent emits 1, 2, 3, ... at a fixed interval.
type tickerAgent struct {
	interval time.Duration
}

func (a *tickerAgent) AgentName() string { return "ticker" }

func (a *tickerAgent) RunTask(ctx context.Context, p *port.Inner[struct{}, int]) error {
	tick := time.NewTicker(a.interval)
	defer tick.Stop()
	n := 0
	for {
		select {
		case <-tick.C:
			n++
			if err := p.Send(ctx, port.NewOutput(n)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// accumulatorAgent keeps a running sum on its own OS thread.
type accumulatorAgent struct{}

func (a *accumulatorAgent) AgentName() string { return "accumulator" }

func (a *accumulatorAgent) RunThread(ctx context.Context, p *port.Inner[int, int]) error {
	total := 0
	for {
		select {
		case in := <-p.In():
			total += in.Value
			if err := p.Send(ctx, port.ChainOutput(in, total)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// echoAgent runs in its own process; "crash" makes it exit so the
// supervisor's retry strategy can be watched replaying inputs.
type echoAgent struct {
	Prefix string
}

func (a *echoAgent) AgentName() string { return "echo" }

func (a *echoAgent) SharedSpec() port.SharedSpec {
	return port.SharedSpec{InitSize: 512, InputSize: 512, OutputSize: 512}
}

func (a *echoAgent) RunRemote(remote *port.Remote[string, string]) error {
	for {
		in, err := remote.Recv()
		if err != nil {
			return err
		}
		if in.Value == "crash" {
			os.Exit(3)
		}
		if err := remote.Send(port.ChainOutput(in, a.Prefix+in.Value)); err != nil {
			return err
		}
	}
}
