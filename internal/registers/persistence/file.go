// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/internal/registers"
	"go.uber.org/zap"
)

// FileStorage keeps the image in an ordinary file, rewritten and synced on
// every modification.
//
// Layout: holding registers (131072 bytes) followed by input registers
// (131072 bytes), each register big-endian.
type FileStorage struct {
	path string

	mu   sync.Mutex
	file *os.File
	img  *registers.Image
}

// NewFileStorage returns a storage backed by path. Nothing is opened until Load.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load reads the file, creating or resizing it as needed.
func (fs *FileStorage) Load() (*registers.Image, error) {
	f, err := openSized(fs.path)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("persistence: read %s: %w", fs.path, err)
	}

	img := registers.FromBytes(data)
	fs.mu.Lock()
	fs.file, fs.img = f, img
	fs.mu.Unlock()

	return img, nil
}

// Save writes the image to disk.
func (fs *FileStorage) Save(*registers.Image) error {
	return fs.sync()
}

// OnWrite syncs the file.
func (fs *FileStorage) OnWrite(t registers.Table, address, quantity uint16) {
	if err := fs.sync(); err != nil {
		logging.Error("Failed to sync register file", zap.String("path", fs.path), zap.Error(err))
	}
}

func (fs *FileStorage) sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.img == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.img.Bytes(), 0); err != nil {
		return fmt.Errorf("persistence: write %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("persistence: sync %s: %w", fs.path, err)
	}
	return nil
}

// Close closes the file. Later writes to the image are not persisted.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file, fs.img = nil, nil
	return err
}

func openSized(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != registers.Size {
		if err := f.Truncate(registers.Size); err != nil {
			f.Close()
			return nil, fmt.Errorf("persistence: resize %s: %w", path, err)
		}
	}
	return f, nil
}
