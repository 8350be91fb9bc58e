// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package can

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/bms-gateway/checksum"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/notnil/canbus"
)

// USB-CAN serial adapters exchange fixed 20 byte frames:
//
//	AA 55 | 01 type format | id (4, little-endian) | dlc | data (8) | 00 | sum8
var USBCANDescriptor = frame.MustParsePattern("SSOOOAAAAODDDDDDDDOV")

const (
	USBCANStart = 0xAA
	usbcanSync  = 0x55
	usbcanSize  = 20

	usbcanStandard = 0x01
	usbcanExtended = 0x02
	usbcanData     = 0x01
	usbcanRemote   = 0x02
)

// EncodeUSBCAN wraps a CAN frame for the serial adapter.
func EncodeUSBCAN(f canbus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, usbcanSize)
	buf[0], buf[1], buf[2] = USBCANStart, usbcanSync, 0x01
	buf[3], buf[4] = usbcanStandard, usbcanData
	if f.Extended {
		buf[3] = usbcanExtended
	}
	if f.RTR {
		buf[4] = usbcanRemote
	}
	binary.LittleEndian.PutUint32(buf[5:9], f.ID)
	buf[9] = f.Len
	copy(buf[10:18], f.Data[:])
	buf[19] = checksum.Sum8(buf[2:19])
	return buf, nil
}

// ValidateUSBCAN checks the sync byte and the sum over bytes 2..18.
func ValidateUSBCAN(raw []byte) bool {
	return len(raw) == usbcanSize && raw[1] == usbcanSync && checksum.Sum8(raw[2:19]) == raw[19]
}

// DecodeUSBCAN extracts the CAN frame from an adapter frame cut with
// USBCANDescriptor.
func DecodeUSBCAN(fr frame.Frame) (canbus.Frame, error) {
	raw := fr.Bytes()
	if len(raw) != usbcanSize {
		return canbus.Frame{}, fmt.Errorf("can: usb-can frame length %d, want %d", len(raw), usbcanSize)
	}
	f := canbus.Frame{
		ID:       uint32(USBCANID(fr)),
		Extended: raw[3] == usbcanExtended,
		RTR:      raw[4] == usbcanRemote,
		Len:      raw[9],
	}
	copy(f.Data[:], fr.Data())
	return f, f.Validate()
}

// USBCANID reads the identifier of an adapter frame.
func USBCANID(fr frame.Frame) ID {
	id := fr.Field(frame.KindAddress)
	if len(id) != 4 {
		return 0
	}
	return ID(binary.LittleEndian.Uint32(id))
}

// MatchUSBCAN adapts Match to adapter frames.
func MatchUSBCAN(address, command byte) func(frame.Frame) bool {
	match := Match(address, command)
	return func(fr frame.Frame) bool {
		return match(USBCANID(fr))
	}
}
