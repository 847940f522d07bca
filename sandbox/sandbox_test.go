// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNamespacesCloneFlags(t *testing.T) {
	cmd := &exec.Cmd{Path: "/bin/true"}
	if err := (Namespaces{}).Configure(cmd); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	flags := cmd.SysProcAttr.Cloneflags
	if flags&unix.CLONE_NEWUSER == 0 || flags&unix.CLONE_NEWIPC == 0 {
		t.Errorf("clone flags %#x missing user/ipc namespaces", flags)
	}
	if flags&unix.CLONE_NEWNET != 0 {
		t.Errorf("clone flags %#x include a network namespace without Network set", flags)
	}

	cmd = &exec.Cmd{Path: "/bin/true"}
	Namespaces{Network: true}.Configure(cmd)
	if cmd.SysProcAttr.Cloneflags&unix.CLONE_NEWNET == 0 {
		t.Error("Network policy did not set CLONE_NEWNET")
	}
}

func TestNonePolicyLeavesCommandAlone(t *testing.T) {
	cmd := &exec.Cmd{Path: "/bin/true"}
	if err := None().Configure(cmd); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if cmd.SysProcAttr != nil {
		t.Errorf("None policy touched SysProcAttr: %+v", cmd.SysProcAttr)
	}
}

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
default:
  isolation: namespaces
agents:
  camera:
    network: true
  mixer:
    isolation: none
`)
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	if ns, ok := p.PolicyFor("camera").(Namespaces); !ok || !ns.Network {
		t.Errorf("camera policy = %#v, want Namespaces{Network: true}", p.PolicyFor("camera"))
	}
	if _, ok := p.PolicyFor("mixer").(nonePolicy); !ok {
		t.Errorf("mixer policy = %#v, want none", p.PolicyFor("mixer"))
	}
	// Fallback to the default.
	if ns, ok := p.PolicyFor("unlisted").(Namespaces); !ok || ns.Network {
		t.Errorf("unlisted policy = %#v, want plain Namespaces", p.PolicyFor("unlisted"))
	}
}

func TestLoadProfileRejectsUnknownIsolation(t *testing.T) {
	path := writeProfile(t, `
agents:
  camera:
    isolation: chroot
`)
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("LoadProfile accepted an unknown isolation mode")
	}
}

func TestLoadProfileRejectsUnknownFields(t *testing.T) {
	path := writeProfile(t, `
agents:
  camera:
    isolaton: none
`)
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("LoadProfile accepted a misspelled field")
	}
}
