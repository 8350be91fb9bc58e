// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

func TestRequestPDU(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    []byte
		wantErr bool
	}{
		{"holding", Request{FunctionCode: 3, StartRegister: 0x0100, RegisterCount: 2}, []byte{0x01, 0x00, 0x00, 0x02}, false},
		{"input max count", Request{FunctionCode: 4, StartRegister: 0xFFFF, RegisterCount: 125}, []byte{0xFF, 0xFF, 0x00, 0x7D}, false},
		{"function too wide", Request{FunctionCode: 0x83, RegisterCount: 1}, nil, true},
		{"address too wide", Request{FunctionCode: 3, StartRegister: 0x10000, RegisterCount: 1}, nil, true},
		{"zero count", Request{FunctionCode: 3}, nil, true},
		{"count too large", Request{FunctionCode: 3, RegisterCount: 126}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu, err := tt.req.PDU()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if pdu.FunctionCode != byte(tt.req.FunctionCode) || !bytes.Equal(pdu.Data, tt.want) {
				t.Errorf("PDU = %02X % X, want %02X % X", pdu.FunctionCode, pdu.Data, tt.req.FunctionCode, tt.want)
			}
			if n := tt.req.ResponseByteCount(); n != int(tt.req.RegisterCount)*2 {
				t.Errorf("ResponseByteCount = %d", n)
			}
		})
	}
}

func TestException(t *testing.T) {
	pdu := Exception(FuncCodeReadHoldingRegisters, ExceptionCodeIllegalDataAddress)
	if pdu.FunctionCode != 0x83 || !bytes.Equal(pdu.Data, []byte{0x02}) {
		t.Errorf("Exception = %02X % X", pdu.FunctionCode, pdu.Data)
	}
}

func TestRegisters(t *testing.T) {
	got := Registers([]byte{0x12, 0x34, 0xFF, 0x9C, 0x00})
	if len(got) != 2 || got[0] != 0x1234 || got[1] != 0xFF9C {
		t.Errorf("Registers = %04X", got)
	}
}
