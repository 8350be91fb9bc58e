// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bms holds the per-vendor strategies plugged into the shared
// framing and exchange engine: a frame shape, the requests of one poll
// cycle and a decoder filling telemetry.Battery.
package bms

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
)

var (
	ErrUnknownAdapter = errors.New("bms: unknown adapter")
	ErrShortData      = errors.New("bms: data field too short")
)

// Adapter speaks one vendor protocol. An Adapter belongs to a single poll
// loop and is not safe for concurrent use.
type Adapter interface {
	Name() string
	Framing() stream.Framing
	// Requests returns the exchanges of one poll cycle. Frames are built
	// fresh on every call.
	Requests() []exchange.Request
	// Decode applies the frames answering req to b.
	Decode(req exchange.Request, frames []frame.Frame, b *telemetry.Battery) error
}

// Factory builds an adapter from its port configuration.
type Factory func(cfg config.AdapterConfig) (Adapter, error)

var factories = map[string]Factory{
	"jbd":      newJBD,
	"daly":     newDaly,
	"daly-can": newDalyCAN,
	"modbus":   newModbus,
}

// New builds the adapter named by cfg.Name.
func New(cfg config.AdapterConfig) (Adapter, error) {
	f, ok := factories[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, cfg.Name)
	}
	return f(cfg)
}

// Names lists the registered adapters.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func need(data []byte, n int, what string) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortData, what, n, len(data))
	}
	return nil
}
