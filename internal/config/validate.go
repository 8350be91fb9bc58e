// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if len(cfg.Ports) == 0 {
		return fmt.Errorf("no ports configured")
	}

	names := make(map[string]bool)
	for i, p := range cfg.Ports {
		if p.Name == "" {
			return fmt.Errorf("port #%d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("port %q: duplicate name", p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case "rtu":
			if p.Serial.Device == "" {
				return fmt.Errorf("port %q: serial.device is required", p.Name)
			}
		case "tcp":
			if p.Tcp.Address == "" {
				return fmt.Errorf("port %q: tcp.address is required", p.Name)
			}
		default:
			return fmt.Errorf("port %q: unknown type %q", p.Name, p.Type)
		}

		if p.Adapter.Name == "" {
			return fmt.Errorf("port %q: adapter.name is required", p.Name)
		}
		if p.Adapter.Address < 0 || p.Adapter.Address > 0xFF {
			return fmt.Errorf("port %q: adapter.address %d out of range", p.Name, p.Adapter.Address)
		}
		if p.Adapter.Name == "modbus" && len(p.Adapter.Registers) == 0 {
			return fmt.Errorf("port %q: modbus adapter needs at least one register", p.Name)
		}
		for _, r := range p.Adapter.Registers {
			if r.Count != 1 && r.Count != 2 {
				return fmt.Errorf("port %q: register %q count must be 1 or 2", p.Name, r.Field)
			}
			if r.Function != 3 && r.Function != 4 {
				return fmt.Errorf("port %q: register %q function must be 3 or 4", p.Name, r.Field)
			}
		}
		if p.PollInterval < 0 || p.ResetDelay < 0 {
			return fmt.Errorf("port %q: negative interval", p.Name)
		}
	}

	inv := cfg.Inverter
	if inv.UnitID < 1 || inv.UnitID > 247 {
		return fmt.Errorf("inverter: unit_id %d out of range 1-247", inv.UnitID)
	}
	for i, u := range inv.Upstreams {
		switch u.Type {
		case "tcp":
			if u.Tcp.Address == "" {
				return fmt.Errorf("inverter upstream #%d: tcp.address is required", i)
			}
		case "rtu":
			if u.Serial.Device == "" {
				return fmt.Errorf("inverter upstream #%d: serial.device is required", i)
			}
		default:
			return fmt.Errorf("inverter upstream #%d: unknown type %q", i, u.Type)
		}
	}
	switch inv.Persistence.Type {
	case "", "memory":
	case "file", "mmap":
		if inv.Persistence.Path == "" {
			return fmt.Errorf("inverter: persistence type %q needs a path", inv.Persistence.Type)
		}
	default:
		return fmt.Errorf("inverter: unknown persistence type %q", inv.Persistence.Type)
	}
	return nil
}
