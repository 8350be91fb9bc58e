// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/modbus/crc"
)

// RTU ADU size limits.
const (
	MinSize       = 4
	MaxSize       = 256
	ExceptionSize = 5
)

var (
	// ResponseDescriptor sizes a register read response by its byte count:
	// slave id, function code, byte count, data, CRC.
	ResponseDescriptor = frame.MustParsePattern("ACLDVV")
	// ExceptionDescriptor is the fixed 5 byte exception response.
	ExceptionDescriptor = frame.MustParsePattern("ACOVV")
	// RequestDescriptor is the fixed 8 byte request of function codes 0x01-0x06.
	RequestDescriptor = frame.MustParsePattern("ACOOOOVV")
	// WriteMultipleDescriptor is a 0x0F/0x10 request sized by its byte count.
	WriteMultipleDescriptor = frame.MustParsePattern("ACOOOOLDVV")
)

// InvalidLengthError reports a byte count outside the RTU limits.
type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// Encode builds the RTU ADU of a register read request.
func Encode(req modbus.Request) ([]byte, error) {
	if req.UnitID > 0xFF {
		return nil, fmt.Errorf("modbus: unit id %d out of range", req.UnitID)
	}
	pdu, err := req.PDU()
	if err != nil {
		return nil, err
	}
	adu := make([]byte, 0, 2+len(pdu.Data)+2)
	adu = append(adu, byte(req.UnitID), pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	return crc.Append(adu), nil
}

// Describe picks the layout of a response from its first three bytes.
// Exception responses have a fixed size; everything else is sized by the
// byte count.
func Describe(header []byte) (*frame.Descriptor, error) {
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: need 3 header bytes, have %d", frame.ErrFrameTooShort, len(header))
	}
	if header[1]&0x80 != 0 {
		return ExceptionDescriptor, nil
	}
	if header[2] == 0 || int(header[2]) > MaxSize-5 {
		return nil, &InvalidLengthError{Length: header[2]}
	}
	return ResponseDescriptor, nil
}

// DescribeRequest picks the layout of a request from its header, which must
// cover the byte count of write-multiple requests.
func DescribeRequest(header []byte) (*frame.Descriptor, error) {
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: need 2 header bytes, have %d", frame.ErrFrameTooShort, len(header))
	}
	n, err := CalculateRequestLength(header[1], header)
	if err != nil {
		return nil, err
	}
	if n == RequestDescriptor.HeaderLength() {
		return RequestDescriptor, nil
	}
	return WriteMultipleDescriptor, nil
}

// EncodeResponse builds the RTU ADU answering as unitID.
func EncodeResponse(unitID byte, pdu modbus.ProtocolDataUnit) ([]byte, error) {
	length := 2 + len(pdu.Data) + 2
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: response of %d bytes exceeds %d", length, MaxSize)
	}
	adu := make([]byte, 0, length)
	adu = append(adu, unitID, pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	return crc.Append(adu), nil
}

// Validate checks the trailing CRC of an ADU.
func Validate(adu []byte) bool {
	return len(adu) >= MinSize && crc.Verify(adu)
}

// Match accepts responses from the request's slave with the request's
// function code (or its exception) and the expected byte count.
func Match(req modbus.Request) func(frame.Frame) bool {
	return func(f frame.Frame) bool {
		if f.Len() < MinSize || f.Address() != uint64(req.UnitID) {
			return false
		}
		if f.Command() == uint64(req.FunctionCode|0x80) {
			return true
		}
		return f.Command() == uint64(req.FunctionCode) && len(f.Data()) == req.ResponseByteCount()
	}
}

// ExceptionError is returned for a Modbus exception response.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (function code 0x%02X)", e.Code, e.FunctionCode&0x7F)
}

// Decode returns the PDU of a validated response ADU.
func Decode(adu []byte) (modbus.ProtocolDataUnit, error) {
	if len(adu) < MinSize {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: response length '%v' does not meet minimum '%v'", len(adu), MinSize)
	}
	pdu := modbus.ProtocolDataUnit{
		FunctionCode: adu[1],
		Data:         adu[2 : len(adu)-2],
	}
	if pdu.FunctionCode&0x80 != 0 {
		var code byte
		if len(pdu.Data) > 0 {
			code = pdu.Data[0]
		}
		return pdu, &ExceptionError{FunctionCode: pdu.FunctionCode, Code: code}
	}
	return pdu, nil
}

// CalculateRequestLength returns the full ADU length of a request with the
// given function code. header holds the bytes read so far; the multiple
// write codes need 7 of them to reach the byte count.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < 7 {
			return 0, fmt.Errorf("modbus: function 0x%02X needs 7 header bytes, have %d", funcCode, len(header))
		}
		return 7 + int(header[6]) + 2, nil
	}
	return 0, fmt.Errorf("modbus: unsupported function code 0x%02X", funcCode)
}
