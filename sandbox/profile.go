// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile declares sandbox policies for a fleet of agents:
//
//	default:
//	  isolation: namespaces
//	agents:
//	  camera:
//	    isolation: namespaces
//	    network: true
//	  mixer:
//	    isolation: none
type Profile struct {
	Default Entry            `yaml:"default"`
	Agents  map[string]Entry `yaml:"agents"`
}

// Entry is the policy declaration for one agent. An empty isolation
// means namespaces.
type Entry struct {
	Isolation string `yaml:"isolation"`
	Network   bool   `yaml:"network"`
}

func (e Entry) policy() (Policy, error) {
	switch e.Isolation {
	case "", "namespaces":
		return Namespaces{Network: e.Network}, nil
	case "none":
		return None(), nil
	default:
		return nil, fmt.Errorf("unknown isolation %q (want namespaces or none)", e.Isolation)
	}
}

// LoadProfile reads and validates a YAML profile. Unknown fields are
// rejected so a typo in a profile fails loudly instead of silently
// weakening isolation.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sandbox profile: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing sandbox profile %s: %w", path, err)
	}
	if _, err := p.Default.policy(); err != nil {
		return nil, fmt.Errorf("profile default: %w", err)
	}
	for name, entry := range p.Agents {
		if _, err := entry.policy(); err != nil {
			return nil, fmt.Errorf("profile agent %s: %w", name, err)
		}
	}
	return &p, nil
}

// PolicyFor returns the policy for an agent, falling back to the
// profile default for agents without an entry.
func (p *Profile) PolicyFor(agent string) Policy {
	entry, ok := p.Agents[agent]
	if !ok {
		entry = p.Default
	}
	// Entries were validated at load time.
	policy, err := entry.policy()
	if err != nil {
		return Namespaces{}
	}
	return policy
}
