// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "github.com/sigurn/crc16"

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC is a running CRC-16/MODBUS.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = crc16.Init(table)
	return crc
}

func (crc *CRC) PushByte(b byte) *CRC {
	crc.value = crc16.Update(crc.value, []byte{b}, table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.value = crc16.Update(crc.value, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.value, table)
}

// Checksum returns the CRC-16/MODBUS of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// Verify reports whether the last two bytes of adu (low byte first) are the
// CRC of the bytes before them.
func Verify(adu []byte) bool {
	n := len(adu)
	if n < 3 {
		return false
	}
	want := uint16(adu[n-1])<<8 | uint16(adu[n-2])
	return Checksum(adu[:n-2]) == want
}

// Append appends the CRC of adu to it, low byte first.
func Append(adu []byte) []byte {
	sum := Checksum(adu)
	return append(adu, byte(sum), byte(sum>>8))
}
