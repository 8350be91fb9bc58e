// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bms

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/modbus/crc"
	"github.com/ffutop/bms-gateway/modbus/rtu"
	"github.com/ffutop/bms-gateway/queue"
	"github.com/ffutop/bms-gateway/stream"
)

// registerSlave answers register reads from a fixed register file.
func registerSlave(unit byte, regs map[uint16]uint16) func(req []byte) [][]byte {
	return func(req []byte) [][]byte {
		if len(req) != 8 || req[0] != unit {
			return nil
		}
		start := binary.BigEndian.Uint16(req[2:])
		count := binary.BigEndian.Uint16(req[4:])
		out := []byte{unit, req[1], byte(count * 2)}
		for i := uint16(0); i < count; i++ {
			v, ok := regs[start+i]
			if !ok {
				return [][]byte{crc.Append([]byte{unit, req[1] | 0x80, modbus.ExceptionCodeIllegalDataAddress})}
			}
			out = binary.BigEndian.AppendUint16(out, v)
		}
		return [][]byte{crc.Append(out)}
	}
}

var modbusRegisterMap = []config.RegisterConfig{
	{Field: "voltage", Function: 3, Address: 0x00, Count: 1, Scale: 0.01},
	{Field: "current", Function: 3, Address: 0x01, Count: 1, Scale: 0.1, Signed: true},
	{Field: "soc", Function: 4, Address: 0x10, Count: 1},
	{Field: "remaining_capacity", Function: 3, Address: 0x20, Count: 2, Scale: 0.001},
	{Field: "cell", Function: 3, Address: 0x30, Count: 1, Values: 4, Scale: 0.001},
	{Field: "temperature", Function: 3, Address: 0x40, Count: 1, Values: 2, Scale: 0.1, Signed: true},
	{Field: "charge_enabled", Function: 3, Address: 0x50, Count: 1},
}

var modbusRegisterFile = map[uint16]uint16{
	0x00: 5320,
	0x01: 0xFF9C, // -100
	0x10: 87,
	0x20: 0x0001, 0x21: 0x86A0,
	0x30: 3345, 0x31: 3312, 0x32: 3328, 0x33: 3301,
	0x40: 215, 0x41: 0xFFEC, // -2.0
	0x50: 1,
}

func TestModbus_Cycle(t *testing.T) {
	a, err := New(config.AdapterConfig{Name: "modbus", Address: 7, Registers: modbusRegisterMap})
	if err != nil {
		t.Fatal(err)
	}
	dev := &fakeDevice{respond: registerSlave(7, modbusRegisterFile)}

	b := runCycle(t, a, dev)
	checks := []struct {
		name      string
		got, want float64
	}{
		{"Voltage", b.Voltage, 53.2},
		{"Current", b.Current, -10},
		{"SOC", b.SOC, 87},
		{"Remaining", b.RemainingCapacity, 100},
		{"MinCell", b.MinCellVoltage, 3.301},
		{"MaxTemp", b.MaxTemperature, 21.5},
		{"MinTemp", b.MinTemperature, -2},
	}
	for _, c := range checks {
		if !almostEqual(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !floatsEqual(b.Cells, []float64{3.345, 3.312, 3.328, 3.301}) {
		t.Errorf("cells = %v", b.Cells)
	}
	if !b.ChargeEnabled {
		t.Error("charge not enabled")
	}
	if len(dev.seen) != len(modbusRegisterMap) {
		t.Fatalf("sent %d requests, want %d", len(dev.seen), len(modbusRegisterMap))
	}
	// 07 03 0030 0004
	if got := dev.seen[4]; got[0] != 7 || got[1] != 3 || binary.BigEndian.Uint16(got[4:]) != 4 {
		t.Errorf("cell request = % X", got)
	}

	// a second cycle replaces rather than appends multi-valued fields
	b2 := runCycle(t, a, dev)
	if len(b2.Cells) != 4 || len(b2.Temperatures) != 2 {
		t.Errorf("second cycle cells/temperatures = %v/%v", b2.Cells, b2.Temperatures)
	}
}

func TestModbus_Exception(t *testing.T) {
	a, err := New(config.AdapterConfig{
		Name:      "modbus",
		Registers: []config.RegisterConfig{{Field: "soh", Function: 3, Address: 0x99, Count: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	q := queue.New()
	dev := &fakeDevice{q: q, respond: registerSlave(1, modbusRegisterFile)}
	link, err := stream.NewLink(dev, q, a.Framing())
	if err != nil {
		t.Fatal(err)
	}
	s := exchange.NewSession(link, exchange.Config{ReceiveTimeout: 100 * time.Millisecond})

	req := a.Requests()[0]
	frames, err := s.Exchange(context.Background(), req)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	var b telemetry.Battery
	err = a.Decode(req, frames, &b)
	var exc *rtu.ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("err = %v, want ExceptionError", err)
	}
	if exc.Code != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("exception code = %d", exc.Code)
	}
}

func TestModbus_InvalidMap(t *testing.T) {
	tests := []struct {
		name string
		reg  config.RegisterConfig
	}{
		{"UnknownField", config.RegisterConfig{Field: "colour", Function: 3, Count: 1}},
		{"TooManyRegisters", config.RegisterConfig{Field: "cell", Function: 3, Count: 2, Values: 100}},
		{"BadFunction", config.RegisterConfig{Field: "soc", Function: 0x90, Count: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(config.AdapterConfig{Name: "modbus", Registers: []config.RegisterConfig{tt.reg}})
			if err == nil {
				t.Error("New accepted an invalid register map")
			}
		})
	}
}

func TestModbus_RequestsEncodedOnce(t *testing.T) {
	a, err := New(config.AdapterConfig{Name: "modbus", Address: 7, Registers: modbusRegisterMap})
	if err != nil {
		t.Fatal(err)
	}
	first := a.Requests()
	if len(first) != len(modbusRegisterMap) {
		t.Fatalf("%d requests for %d registers", len(first), len(modbusRegisterMap))
	}
	for i, req := range first {
		want, err := rtu.Encode(modbus.Request{
			FunctionCode:  modbusRegisterMap[i].Function,
			StartRegister: modbusRegisterMap[i].Address,
			RegisterCount: modbusRegisterMap[i].Count * uint32(max(modbusRegisterMap[i].Values, 1)),
			UnitID:        7,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(req.Frame, want) {
			t.Errorf("request %q = % X, want % X", req.Name, req.Frame, want)
		}
		req.Frame[0] ^= 0xFF
	}
	// a caller scribbling on one cycle's frames does not leak into the next
	for i, req := range a.Requests() {
		if req.Frame[0] != 7 {
			t.Errorf("request %d unit = %d after reuse", i, req.Frame[0])
		}
	}
}
