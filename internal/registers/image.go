// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package registers holds the register image served to the inverter.
package registers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535

	// TableSize is the byte size of one table covering the full address
	// space.
	TableSize = (MaxAddress + 1) * 2
	// Size is the byte size of a complete image: holding registers
	// followed by input registers.
	Size = 2 * TableSize
)

var (
	ErrOutOfRange   = errors.New("registers: address range out of bounds")
	ErrZeroQuantity = errors.New("registers: quantity must be greater than 0")
)

// Table selects one of the register tables.
type Table int

const (
	TableHolding Table = iota
	TableInput
)

func (t Table) String() string {
	switch t {
	case TableHolding:
		return "holding"
	case TableInput:
		return "input"
	}
	return fmt.Sprintf("Table(%d)", int(t))
}

// Image is a flat register image. Registers are kept big-endian, in wire
// order, so reads hand out the bytes of a response directly and a
// persisted image is portable across hosts.
type Image struct {
	mu      sync.RWMutex
	holding []byte
	input   []byte
	onWrite func(t Table, address, quantity uint16)
}

// NewImage creates an in-memory image initialized to zero.
func NewImage() *Image {
	return FromBytes(make([]byte, Size))
}

// FromBytes creates an image backed by data, which must be Size bytes. The
// image writes through to data; storages use this to map a file.
func FromBytes(data []byte) *Image {
	return &Image{
		holding: data[:TableSize:TableSize],
		input:   data[TableSize:Size:Size],
	}
}

// OnWrite installs a hook called after every modification, outside the
// image lock.
func (m *Image) OnWrite(fn func(t Table, address, quantity uint16)) {
	m.mu.Lock()
	m.onWrite = fn
	m.mu.Unlock()
}

func (m *Image) table(t Table) ([]byte, error) {
	switch t {
	case TableHolding:
		return m.holding, nil
	case TableInput:
		return m.input, nil
	}
	return nil, fmt.Errorf("registers: unknown table %v", t)
}

// Read returns quantity registers from address as big-endian bytes.
func (m *Image) Read(t Table, address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)
	copy(result, tbl[int(address)*2:])
	return result, nil
}

// Bytes returns a copy of the whole image in its persisted layout.
func (m *Image) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, 0, Size)
	out = append(out, m.holding...)
	return append(out, m.input...)
}

// Register returns a single register.
func (m *Image) Register(t Table, address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tbl, err := m.table(t)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(tbl[int(address)*2:])
}

// Write stores values from address.
func (m *Image) Write(t Table, address uint16, values []uint16) error {
	if len(values) > MaxAddress+1 {
		return ErrOutOfRange
	}
	quantity := uint16(len(values))

	m.mu.Lock()
	if err := validateRange(address, quantity); err != nil {
		m.mu.Unlock()
		return err
	}
	tbl, err := m.table(t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for i, v := range values {
		binary.BigEndian.PutUint16(tbl[(int(address)+i)*2:], v)
	}
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(t, address, quantity)
	}
	return nil
}

// WriteSingleRegister writes a single holding register.
func (m *Image) WriteSingleRegister(address, value uint16) error {
	return m.Write(TableHolding, address, []uint16{value})
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return ErrZeroQuantity
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
