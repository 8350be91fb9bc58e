// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ffutop/bms-gateway/modbus"
)

// MBAP framing: the 7 byte header counts the unit id in its length field.
const (
	mbapHeaderSize = 7
	mbapMinSize    = mbapHeaderSize + 1
	mbapMaxSize    = 260
)

// ApplicationDataUnit is a Modbus TCP frame: MBAP header plus PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// Decode parses one complete frame. The PDU data aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < mbapMinSize {
		return nil, fmt.Errorf("modbus: frame of %d bytes is shorter than %d", len(raw), mbapMinSize)
	}
	adu := &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:]),
		Length:        binary.BigEndian.Uint16(raw[4:]),
		SlaveID:       raw[6],
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: raw[7], Data: raw[8:]},
	}
	if want := len(raw) - 6; int(adu.Length) != want {
		return adu, fmt.Errorf("modbus: header length %d, frame carries %d", adu.Length, want)
	}
	return adu, nil
}

// ReadADU reads exactly one frame, using the MBAP length to find its end.
func ReadADU(r io.Reader) (*ApplicationDataUnit, error) {
	var header [mbapHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	total := 6 + int(binary.BigEndian.Uint16(header[4:]))
	if total < mbapMinSize || total > mbapMaxSize {
		return nil, fmt.Errorf("modbus: header length %d out of range", total-6)
	}
	buf := make([]byte, total)
	copy(buf, header[:])
	if _, err := io.ReadFull(r, buf[mbapHeaderSize:]); err != nil {
		return nil, err
	}
	return Decode(buf)
}

// Encode renders the frame, computing the MBAP length from the PDU.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	n := mbapMinSize + len(adu.Pdu.Data)
	if n > mbapMaxSize {
		return nil, fmt.Errorf("modbus: frame of %d bytes exceeds %d", n, mbapMaxSize)
	}
	raw := make([]byte, 0, n)
	raw = binary.BigEndian.AppendUint16(raw, adu.TransactionID)
	raw = binary.BigEndian.AppendUint16(raw, adu.ProtocolID)
	raw = binary.BigEndian.AppendUint16(raw, uint16(n-6))
	raw = append(raw, adu.SlaveID, adu.Pdu.FunctionCode)
	return append(raw, adu.Pdu.Data...), nil
}
