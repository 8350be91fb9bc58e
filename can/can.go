// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package can holds the CAN identifier convention of BMS devices and the
// fixed frame format of serial USB-CAN adapters. Frames themselves are
// canbus.Frame values.
package can

import (
	"fmt"
	"strconv"

	"github.com/notnil/canbus"
)

// ID is a 29-bit extended identifier packed as
// prefix<<24 | command<<16 | address<<8 | suffix.
type ID uint32

// PackID builds an identifier from its four byte fields.
func PackID(prefix, command, address, suffix byte) ID {
	return ID(uint32(prefix)<<24 | uint32(command)<<16 | uint32(address)<<8 | uint32(suffix))
}

func (id ID) Prefix() byte  { return byte(id >> 24) }
func (id ID) Command() byte { return byte(id >> 16) }
func (id ID) Address() byte { return byte(id >> 8) }
func (id ID) Suffix() byte  { return byte(id) }

func (id ID) String() string {
	return fmt.Sprintf("0x%08X", uint32(id))
}

// ParseID parses an identifier in the notation of String, or any base
// prefix strconv accepts.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err == nil {
		err = canbus.Frame{ID: uint32(v), Extended: true}.Validate()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", canbus.ErrInvalidID, s)
	}
	return ID(v), nil
}

// Match returns a predicate accepting identifiers with the given address and
// command, whatever their prefix and suffix.
func Match(address, command byte) func(ID) bool {
	return func(id ID) bool {
		return id.Address() == address && id.Command() == command
	}
}

// Payload returns the used data bytes of f.
func Payload(f canbus.Frame) []byte {
	return f.Data[:min(int(f.Len), len(f.Data))]
}
