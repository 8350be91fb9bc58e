// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the register image across restarts so the
// inverter sees the last known values before the first poll completes.
package persistence

import (
	"fmt"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/registers"
)

// Storage persists a register image.
type Storage interface {
	// Load returns the stored image, or a zero image if nothing was stored.
	Load() (*registers.Image, error)

	// Save flushes the image.
	Save(img *registers.Image) error

	// OnWrite is called whenever registers are modified.
	OnWrite(t registers.Table, address, quantity uint16)

	Close() error
}

// New creates the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	}
	return nil, fmt.Errorf("persistence: unknown type %q", cfg.Type)
}

// Open loads the image of s and wires its write hook.
func Open(s Storage) (*registers.Image, error) {
	img, err := s.Load()
	if err != nil {
		return nil, err
	}
	img.OnWrite(s.OnWrite)
	return img, nil
}
