// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package checksum implements the additive checksums used by serial BMS
// protocols. CRC-16/MODBUS lives in modbus/crc.
package checksum

import "encoding/binary"

// NegSum16 returns the two's complement of the byte sum of all parts,
// truncated to 16 bits.
func NegSum16(parts ...[]byte) uint16 {
	var sum uint16
	for _, p := range parts {
		for _, b := range p {
			sum += uint16(b)
		}
	}
	return -sum
}

// AppendNegSum16 appends NegSum16 of data, high byte first.
func AppendNegSum16(dst, data []byte) []byte {
	return binary.BigEndian.AppendUint16(dst, NegSum16(data))
}

// VerifyNegSum16 checks a big-endian NegSum16 stored in sum against data.
func VerifyNegSum16(data, sum []byte) bool {
	if len(sum) != 2 {
		return false
	}
	return binary.BigEndian.Uint16(sum) == NegSum16(data)
}

// Sum8 returns the byte sum of data truncated to 8 bits.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
