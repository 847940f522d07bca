// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cortex-robotics/cortex/lib/port"
	"github.com/cortex-robotics/cortex/sandbox"
)

// Environment protocol between the supervisor and a spawned agent
// child. EnvShmem carries the descriptor number of the shared region
// (the four semaphores follow consecutively), EnvParentPID the
// supervisor's process ID, and EnvArgs an optional shell-quoted list
// of extra arguments the orchestrator wants appended to every agent
// child's argv.
const (
	EnvShmem     = "CORTEX_PROC_SHMEM"
	EnvParentPID = "CORTEX_PROC_PARENT_PID"
	EnvArgs      = "CORTEX_PROC_ARGS"

	argv0Prefix = "proc-"
)

// processesInitialized gates SpawnProcess. It is set exactly once, by
// InitProcesses running on the orchestrator path, and read-only after.
var processesInitialized atomic.Bool

// Dispatcher maps a recovered agent name to its implementation: it
// attaches the right agent type to the inherited descriptors (see
// RunProc) and runs the agent's blocking loop. An unknown name is an
// error.
type Dispatcher func(name string, files *port.SharedFiles) error

// InitProcesses must be the first statement of main in every binary
// that spawns or hosts process agents. Anything constructed before it
// gets duplicated into every agent child.
//
// On the orchestrator path (no agent markers in the environment) it
// sets the process-wide initialized flag and returns, and the program
// proceeds normally. When the markers show this process was spawned as
// an agent child, it never returns: it arms a parent-death signal,
// reconstructs the shared-memory descriptors, recovers the agent name
// from argv[0], hands off to the dispatcher, and exits non-zero (the
// supervisor's exit classifier interprets the exit, not this code).
//
// A half-set marker pair means the spawn protocol itself is broken and
// panics.
func InitProcesses(dispatch Dispatcher) {
	shmem, haveShmem := os.LookupEnv(EnvShmem)
	parentPID, haveParent := os.LookupEnv(EnvParentPID)

	if !haveShmem && !haveParent {
		processesInitialized.Store(true)
		return
	}
	if haveShmem != haveParent {
		panic(fmt.Sprintf("inconsistent agent-child environment: %s=%q, %s=%q",
			EnvShmem, shmem, EnvParentPID, parentPID))
	}

	// Agent child path. Die with the supervisor rather than lingering
	// as an orphan holding the shared region open.
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "arming parent-death signal: %v\n", err)
		os.Exit(1)
	}
	// The parent may have died before the signal was armed, in which
	// case we were reparented and will never receive it.
	wantPID, err := strconv.Atoi(parentPID)
	if err != nil || os.Getppid() != wantPID {
		fmt.Fprintf(os.Stderr, "supervisor (pid %s) is gone\n", parentPID)
		os.Exit(1)
	}

	fd, err := strconv.Atoi(shmem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad %s value %q: %v\n", EnvShmem, shmem, err)
		os.Exit(1)
	}
	files := port.FilesFromFD(fd)

	name, ok := strings.CutPrefix(os.Args[0], argv0Prefix)
	if !ok {
		fmt.Fprintf(os.Stderr, "argv[0] %q does not carry the %q agent prefix\n",
			os.Args[0], argv0Prefix)
		os.Exit(1)
	}

	if err := dispatch(name, files); err != nil {
		fmt.Fprintf(os.Stderr, "agent %s: %v\n", name, err)
	}
	os.Exit(1)
}

// RunProc is the child-side half of a process agent, called by the
// dispatcher. It applies the sandbox policy's in-child step, maps the
// shared region, decodes the initial state into a (a pointer to the
// agent's zero value), and runs the agent loop.
func RunProc[I, O any](a Proc[I, O], files *port.SharedFiles, policy sandbox.Policy) error {
	if policy != nil {
		if err := policy.ApplyInChild(); err != nil {
			return fmt.Errorf("applying sandbox policy: %w", err)
		}
	}
	remote, err := port.OpenRemote[I, O](a.SharedSpec(), files)
	if err != nil {
		return err
	}
	defer remote.Close()
	if err := remote.InitState(a); err != nil {
		return err
	}
	return a.RunRemote(remote)
}
