// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/cortex-robotics/cortex/lib/clock"
	"github.com/cortex-robotics/cortex/lib/port"
	"github.com/cortex-robotics/cortex/sandbox"
)

// ProcessConfig tunes how a process agent's supervisor runs. The zero
// value is usable: real clock, namespace isolation, no respawn delay,
// rendezvous ports.
type ProcessConfig struct {
	Logger *slog.Logger

	// Clock drives the respawn delay. Tests inject a fake.
	Clock clock.Clock

	// Sandbox configures isolation for the child. Nil defaults to
	// sandbox.Namespaces (user+IPC isolation); pass sandbox.None()
	// to run the child unconfined.
	Sandbox sandbox.Policy

	// RespawnDelay is waited between a child's exit and its respawn,
	// so a crash-looping agent does not spin the supervisor.
	RespawnDelay time.Duration

	InputCapacity  int
	OutputCapacity int
}

// Kill is the acknowledged teardown handle for a process agent.
type Kill struct {
	request chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Kill requests termination and blocks until the supervisor has
// reaped the child and torn down the shared session. Safe to call
// from multiple goroutines; all callers return once teardown is
// complete.
func (k *Kill) Kill() {
	k.once.Do(func() { close(k.request) })
	<-k.done
}

// SpawnProcess starts the supervisor for a process agent and returns
// the broker-side port plus the kill handle. The agent value is the
// initial state shipped to the first child.
//
// Panics unless InitProcesses has run: spawning before the trampoline
// would duplicate already-constructed program state into every child.
func SpawnProcess[I, O any](a Proc[I, O], cfg ProcessConfig) (*port.Outer[I, O], *Kill) {
	if !processesInitialized.Load() {
		panic("agent: SpawnProcess before InitProcesses")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Sandbox == nil {
		cfg.Sandbox = sandbox.Namespaces{}
	}
	inner, outer := port.New[I, O](cfg.InputCapacity, cfg.OutputCapacity)
	s := &supervisor[I, O]{
		agent: a,
		cfg:   cfg,
		inner: inner,
		log:   cfg.Logger.With("agent", a.AgentName()),
		kill: &Kill{
			request: make(chan struct{}),
			done:    make(chan struct{}),
		},
	}
	go s.run()
	return outer, s.kill
}

type supervisor[I, O any] struct {
	agent Proc[I, O]
	cfg   ProcessConfig
	inner *port.Inner[I, O]
	log   *slog.Logger
	kill  *Kill
}

// run is the respawn loop. It owns the inner port for the supervisor's
// whole lifetime and closes it on permanent stop, which the broker
// observes as agent termination.
func (s *supervisor[I, O]) run() {
	runtime.LockOSThread()
	setThreadName("proc-ipc-" + s.agent.AgentName())
	defer close(s.kill.done)
	defer s.inner.Close()

	var backlog []port.RecoveredInput
	for {
		select {
		case <-s.kill.request:
			return
		default:
		}

		shared, err := s.inner.IntoShared(s.agent.AgentName(), s.agent.SharedSpec(), s.agent, backlog)
		if err != nil {
			s.log.Error("shared session setup failed", "error", err)
			return
		}
		backlog = nil

		status, killed, err := s.runChild(shared)
		if err != nil {
			shared.Close()
			s.log.Error("spawning agent child", "error", err)
			return
		}
		recovered, closeErr := shared.Close()
		if closeErr != nil {
			s.log.Warn("shared session teardown", "error", closeErr)
		}
		if killed {
			return
		}

		code, signal := -1, syscall.Signal(0)
		if status.Signaled() {
			signal = status.Signal()
		} else {
			code = status.ExitStatus()
		}
		if signal == syscall.SIGINT {
			// An interactive interrupt reaches the whole process
			// group; respawning here would fight the operator.
			s.log.Info("agent child interrupted, stopping supervision")
			return
		}

		strategy := ExitRetry
		if c, ok := any(s.agent).(ExitClassifier); ok {
			strategy = c.ClassifyExit(code, signal)
		}
		s.log.Info("agent child exited",
			"code", code, "signal", signal.String(), "strategy", strategy.String())

		switch strategy {
		case ExitClose:
			return
		case ExitRestart:
			// Clean slate.
		case ExitRetry:
			backlog = recovered
		}

		if s.cfg.RespawnDelay > 0 {
			select {
			case <-s.cfg.Clock.After(s.cfg.RespawnDelay):
			case <-s.kill.request:
				return
			}
		}
	}
}

// runChild spawns one child over the shared session and waits for it
// to exit or for a kill request. On kill the child gets SIGKILL and is
// reaped before returning.
func (s *supervisor[I, O]) runChild(shared *port.Shared[I, O]) (status syscall.WaitStatus, killed bool, err error) {
	cmd, err := s.buildCommand(shared.Files())
	if err != nil {
		return 0, false, err
	}

	// Own pipes instead of cmd.StdoutPipe so reaping the child and
	// draining its output do not race.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return 0, false, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return 0, false, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return 0, false, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	// The child holds its own copies now.
	stdoutW.Close()
	stderrW.Close()
	shared.ReleaseRegion()

	go s.logStream(stdoutR, "stdout")
	go s.logStream(stderrR, "stderr")

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	select {
	case <-s.kill.request:
		cmd.Process.Kill()
		<-exited
		return 0, true, nil
	case <-exited:
	}
	return cmd.ProcessState.Sys().(syscall.WaitStatus), false, nil
}

// buildCommand assembles the exec.Cmd for one agent child per the
// spawn protocol: argv[0] carries the agent name, the environment
// carries the descriptor number and parent PID, and the shared
// descriptor set rides in ExtraFiles starting at descriptor 3.
func (s *supervisor[I, O]) buildCommand(files *port.SharedFiles) (*exec.Cmd, error) {
	name := s.agent.AgentName()

	var init Initializer
	if i, ok := any(s.agent).(Initializer); ok {
		init = i
	}

	executable := ""
	if init != nil {
		executable = init.Executable()
	}
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving own executable: %w", err)
		}
		executable = self
	}

	args := []string{argv0Prefix + name}
	if raw := os.Getenv(EnvArgs); raw != "" {
		extra, err := shlex.Split(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", EnvArgs, err)
		}
		args = append(args, extra...)
	}

	cmd := &exec.Cmd{Path: executable, Args: args}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvShmem, 3),
		fmt.Sprintf("%s=%d", EnvParentPID, os.Getpid()),
	)
	if init != nil {
		cmd.Env = append(cmd.Env, init.ExtraEnv()...)
	}

	// Stdin stays /dev/null. ExtraFiles is also the fd keep-list:
	// exec.Cmd closes every other descriptor across the exec.
	cmd.ExtraFiles = files.ExtraFiles()
	if init != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, init.KeepFiles()...)
	}

	if err := s.cfg.Sandbox.Configure(cmd); err != nil {
		return nil, fmt.Errorf("configuring sandbox: %w", err)
	}
	return cmd, nil
}

// logStream forwards one child output stream line by line.
func (s *supervisor[I, O]) logStream(r *os.File, stream string) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.log.Info(sc.Text(), "stream", stream)
	}
}
