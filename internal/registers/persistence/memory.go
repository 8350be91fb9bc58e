// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/ffutop/bms-gateway/internal/registers"

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load() (*registers.Image, error) {
	return registers.NewImage(), nil
}

func (ms *MemoryStorage) Save(*registers.Image) error { return nil }

func (ms *MemoryStorage) OnWrite(registers.Table, uint16, uint16) {}

func (ms *MemoryStorage) Close() error { return nil }
