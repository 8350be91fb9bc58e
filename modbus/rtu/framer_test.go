// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/modbus/crc"
)

func TestCalculateRequestLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		header   []byte
		want     int
		wantErr  bool
	}{
		{"ReadHoldingRegisters", 0x03, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", 0x06, []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"WriteMultipleRegisters_ShortHeader", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", 0x99, []byte{0x01, 0x99}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateRequestLength(tt.funcCode, tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateRequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateRequestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	req := modbus.Request{FunctionCode: 0x03, StartRegister: 0, RegisterCount: 1, UnitID: 1}
	got, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}

	bad := []modbus.Request{
		{FunctionCode: 0x03, RegisterCount: 1, UnitID: 0x100},
		{FunctionCode: 0x03, RegisterCount: 0, UnitID: 1},
		{FunctionCode: 0x03, RegisterCount: 126, UnitID: 1},
		{FunctionCode: 0x03, StartRegister: 0x10000, RegisterCount: 1, UnitID: 1},
	}
	for _, r := range bad {
		if _, err := Encode(r); err == nil {
			t.Errorf("Encode(%+v) succeeded, want error", r)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    int
		wantErr bool
	}{
		{"TwoRegisters", []byte{0x01, 0x03, 0x04}, 9, false},
		{"Exception", []byte{0x01, 0x83, 0x02}, ExceptionSize, false},
		{"ZeroByteCount", []byte{0x01, 0x03, 0x00}, 0, true},
		{"TooLarge", []byte{0x01, 0x03, 0xFC}, 0, true},
		{"Short", []byte{0x01, 0x03}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Describe(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			got, err := d.Length(tt.header)
			if err != nil {
				t.Fatalf("Length failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("length = %d, want %d", got, tt.want)
			}
		})
	}

	var lenErr *InvalidLengthError
	_, err := Describe([]byte{0x01, 0x03, 0x00})
	if !errors.As(err, &lenErr) || lenErr.Length != 0 {
		t.Errorf("err = %v, want InvalidLengthError{0}", err)
	}
}

func TestMatchAndDecode(t *testing.T) {
	req := modbus.Request{FunctionCode: 0x04, StartRegister: 0x10, RegisterCount: 2, UnitID: 7}
	match := Match(req)

	resp := crc.Append([]byte{0x07, 0x04, 0x04, 0x12, 0x34, 0x56, 0x78})
	f, err := ResponseDescriptor.Parse(resp)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !Validate(f.Bytes()) {
		t.Fatal("Validate rejected a valid response")
	}
	if !match(f) {
		t.Error("Match rejected the expected response")
	}
	pdu, err := Decode(f.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	regs := modbus.Registers(pdu.Data[1:])
	if len(regs) != 2 || regs[0] != 0x1234 || regs[1] != 0x5678 {
		t.Errorf("registers = %04X", regs)
	}

	other := crc.Append([]byte{0x08, 0x04, 0x04, 0x12, 0x34, 0x56, 0x78})
	f, _ = ResponseDescriptor.Parse(other)
	if match(f) {
		t.Error("Match accepted a response from another slave")
	}

	short := crc.Append([]byte{0x07, 0x04, 0x02, 0x12, 0x34})
	f, _ = ResponseDescriptor.Parse(short)
	if match(f) {
		t.Error("Match accepted a response with the wrong byte count")
	}
}

func TestDecode_Exception(t *testing.T) {
	adu := crc.Append([]byte{0x01, 0x83, 0x02})
	f, err := ExceptionDescriptor.Parse(adu)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	req := modbus.Request{FunctionCode: 0x03, RegisterCount: 1, UnitID: 1}
	if !Match(req)(f) {
		t.Error("Match rejected the exception response")
	}
	_, err = Decode(f.Bytes())
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("err = %v, want ExceptionError", err)
	}
	if exc.Code != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("code = %d, want %d", exc.Code, modbus.ExceptionCodeIllegalDataAddress)
	}
}

func TestDescribeRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    int
		wantErr bool
	}{
		{"ReadHolding", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}, 8, false},
		{"WriteSingle", []byte{0x01, 0x06, 0x01, 0x00, 0x00, 0xC8, 0x00, 0x00}, 8, false},
		{"WriteMultiple", []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00}, 13, false},
		{"Unsupported", []byte{0x01, 0x2B, 0x0E, 0x01, 0x00, 0x00, 0x00, 0x00}, 0, true},
		{"Short", []byte{0x01}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DescribeRequest(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			got, err := d.Length(tt.header)
			if err != nil {
				t.Fatalf("Length failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("length = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	adu, err := EncodeResponse(0x01, modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x00, 0x01}})
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	if !Validate(adu) || adu[0] != 0x01 || adu[1] != 0x03 || len(adu) != 7 {
		t.Errorf("adu = % X", adu)
	}
	pdu, err := Decode(adu)
	if err != nil || !bytes.Equal(pdu.Data, []byte{0x02, 0x00, 0x01}) {
		t.Errorf("Decode = %+v, %v", pdu, err)
	}

	if _, err := EncodeResponse(1, modbus.ProtocolDataUnit{FunctionCode: 3, Data: make([]byte, 253)}); err == nil {
		t.Error("EncodeResponse accepted an oversized PDU")
	}
}
