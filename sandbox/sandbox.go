// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Policy isolates one agent subprocess. Configure runs in the
// supervisor before the child starts; ApplyInChild runs in the child
// before the agent loop.
type Policy interface {
	Configure(cmd *exec.Cmd) error
	ApplyInChild() error
}

// Namespaces is the standard policy: the child gets its own user and
// IPC namespaces so it cannot signal, ptrace, or talk SysV/POSIX IPC
// to the rest of the system. Network optionally cuts it off the
// network as well.
type Namespaces struct {
	// Network gives the child an empty network namespace with only a
	// downed loopback interface.
	Network bool
}

// Configure sets the clone flags on the child's SysProcAttr.
func (n Namespaces) Configure(cmd *exec.Cmd) error {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Cloneflags |= unix.CLONE_NEWUSER | unix.CLONE_NEWIPC
	if n.Network {
		cmd.SysProcAttr.Cloneflags |= unix.CLONE_NEWNET
	}
	// Map the supervisor's uid/gid to themselves so the child is not
	// nobody inside its user namespace.
	cmd.SysProcAttr.UidMappings = []syscall.SysProcIDMap{
		{ContainerID: unix.Getuid(), HostID: unix.Getuid(), Size: 1},
	}
	cmd.SysProcAttr.GidMappings = []syscall.SysProcIDMap{
		{ContainerID: unix.Getgid(), HostID: unix.Getgid(), Size: 1},
	}
	return nil
}

// ApplyInChild is a no-op; namespace entry happens at clone time.
func (n Namespaces) ApplyInChild() error { return nil }

// None returns a policy with no isolation at all, for tests and for
// trusted agents in environments where unprivileged user namespaces
// are unavailable.
func None() Policy { return nonePolicy{} }

type nonePolicy struct{}

func (nonePolicy) Configure(cmd *exec.Cmd) error { return nil }
func (nonePolicy) ApplyInChild() error           { return nil }
