// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/internal/registers"
	"go.uber.org/zap"
)

// MmapStorage maps the image file into memory; the image writes straight
// into the mapping and OnWrite flushes it.
type MmapStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	data mmap.MMap
}

// NewMmapStorage returns a storage mapping path. Nothing is opened until Load.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

// Load maps the file, creating or resizing it as needed.
func (ms *MmapStorage) Load() (*registers.Image, error) {
	f, err := openSized(ms.path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("persistence: mmap %s: %w", ms.path, err)
	}

	ms.mu.Lock()
	ms.file, ms.data = f, data
	ms.mu.Unlock()

	return registers.FromBytes(data), nil
}

// Save flushes the mapping to disk.
func (ms *MmapStorage) Save(*registers.Image) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return fmt.Errorf("persistence: %s is not mapped", ms.path)
	}
	if err := ms.data.Flush(); err != nil {
		return fmt.Errorf("persistence: flush %s: %w", ms.path, err)
	}
	return nil
}

// OnWrite flushes the mapping.
func (ms *MmapStorage) OnWrite(t registers.Table, address, quantity uint16) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return
	}
	if err := ms.data.Flush(); err != nil {
		logging.Error("Failed to flush register mapping", zap.String("path", ms.path), zap.Error(err))
	}
}

// Close unmaps and closes the file. The image must not be used afterwards.
func (ms *MmapStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	if ms.data != nil {
		errs = append(errs, ms.data.Unmap())
	}
	if ms.file != nil {
		errs = append(errs, ms.file.Close())
	}
	ms.file, ms.data = nil, nil
	return errors.Join(errs...)
}
