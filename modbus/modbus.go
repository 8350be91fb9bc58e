// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	// Bit access
	FuncCodeReadDiscreteInputs = 2
	FuncCodeReadCoils          = 1
	FuncCodeWriteSingleCoil    = 5
	FuncCodeWriteMultipleCoils = 15

	// 16-bit access
	FuncCodeReadInputRegisters         = 4
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeWriteSingleRegister        = 6
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeReadWriteMultipleRegisters = 23
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadFIFOQueue              = 24
	FuncCodeReadDeviceIdentification   = 43
)

const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Exception builds an exception response for the given function code.
func Exception(functionCode, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: functionCode | 0x80,
		Data:         []byte{code},
	}
}

// Request is a register read as the BMS adapters describe it. Every field is
// kept 32 bits wide; Encode narrows them to the Modbus wire widths.
type Request struct {
	FunctionCode  uint32
	StartRegister uint32
	RegisterCount uint32
	UnitID        uint32
}

// PDU narrows the request to a read PDU.
func (r Request) PDU() (ProtocolDataUnit, error) {
	if r.FunctionCode > 0x7F {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: function code %d out of range", r.FunctionCode)
	}
	if r.StartRegister > 0xFFFF {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: start register %d out of range", r.StartRegister)
	}
	if r.RegisterCount == 0 || r.RegisterCount > 125 {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: register count %d out of range", r.RegisterCount)
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], uint16(r.StartRegister))
	binary.BigEndian.PutUint16(data[2:], uint16(r.RegisterCount))
	return ProtocolDataUnit{FunctionCode: byte(r.FunctionCode), Data: data}, nil
}

// ResponseByteCount is the byte count a well-formed response declares.
func (r Request) ResponseByteCount() int {
	return int(r.RegisterCount) * 2
}

// Registers decodes big-endian register values.
func Registers(data []byte) []uint16 {
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return regs
}
