// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bms

import (
	"bytes"
	"fmt"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/modbus/rtu"
	"github.com/ffutop/bms-gateway/stream"
)

// setters apply one scaled register value to a battery. Multi-valued fields
// append.
var setters = map[string]func(b *telemetry.Battery, v float64){
	"voltage":               func(b *telemetry.Battery, v float64) { b.Voltage = v },
	"current":               func(b *telemetry.Battery, v float64) { b.Current = v },
	"soc":                   func(b *telemetry.Battery, v float64) { b.SOC = v },
	"soh":                   func(b *telemetry.Battery, v float64) { b.SOH = v },
	"capacity":              func(b *telemetry.Battery, v float64) { b.Capacity = v },
	"remaining_capacity":    func(b *telemetry.Battery, v float64) { b.RemainingCapacity = v },
	"cycles":                func(b *telemetry.Battery, v float64) { b.Cycles = int(v) },
	"cell":                  func(b *telemetry.Battery, v float64) { b.Cells = append(b.Cells, v) },
	"temperature":           func(b *telemetry.Battery, v float64) { b.Temperatures = append(b.Temperatures, v) },
	"max_charge_current":    func(b *telemetry.Battery, v float64) { b.MaxChargeCurrent = v },
	"max_discharge_current": func(b *telemetry.Battery, v float64) { b.MaxDischargeCurrent = v },
	"charge_voltage":        func(b *telemetry.Battery, v float64) { b.ChargeVoltage = v },
	"alarms":                func(b *telemetry.Battery, v float64) { b.Alarms |= telemetry.Alarm(uint32(v)) },
	"charge_enabled":        func(b *telemetry.Battery, v float64) { b.ChargeEnabled = v != 0 },
	"discharge_enabled":     func(b *telemetry.Battery, v float64) { b.DischargeEnabled = v != 0 },
}

type register struct {
	config.RegisterConfig
	name string
	req  modbus.Request
	adu  []byte
	set  func(b *telemetry.Battery, v float64)
}

// modbusBMS reads a register map over Modbus RTU, on a serial line or
// through a transparent RS485-to-TCP converter.
type modbusBMS struct {
	unit      byte
	registers []register
	byName    map[string]int
}

func newModbus(cfg config.AdapterConfig) (Adapter, error) {
	unit := byte(cfg.Address)
	if unit == 0 {
		unit = 1
	}
	m := &modbusBMS{unit: unit, byName: make(map[string]int)}
	for i, rc := range cfg.Registers {
		set, ok := setters[rc.Field]
		if !ok {
			return nil, fmt.Errorf("bms: modbus: unknown field %q", rc.Field)
		}
		values := rc.Values
		if values <= 0 {
			values = 1
		}
		req := modbus.Request{
			FunctionCode:  rc.Function,
			StartRegister: rc.Address,
			RegisterCount: rc.Count * uint32(values),
			UnitID:        uint32(unit),
		}
		adu, err := rtu.Encode(req)
		if err != nil {
			return nil, fmt.Errorf("bms: modbus: field %q: %w", rc.Field, err)
		}
		rc.Values = values
		if rc.Scale == 0 {
			rc.Scale = 1
		}
		name := fmt.Sprintf("%d:%s", i, rc.Field)
		m.byName[name] = len(m.registers)
		m.registers = append(m.registers, register{RegisterConfig: rc, name: name, req: req, adu: adu, set: set})
	}
	return m, nil
}

func (m *modbusBMS) Name() string { return "modbus" }

func (m *modbusBMS) Framing() stream.Framing {
	return stream.Framing{
		Start:      m.unit,
		Descriptor: rtu.ResponseDescriptor,
		Describe:   rtu.Describe,
		Validate:   rtu.Validate,
	}
}

func (m *modbusBMS) Requests() []exchange.Request {
	reqs := make([]exchange.Request, 0, len(m.registers))
	for _, r := range m.registers {
		reqs = append(reqs, exchange.Request{
			Name:   r.name,
			Frame:  bytes.Clone(r.adu),
			Expect: 1,
			Match:  rtu.Match(r.req),
		})
	}
	return reqs
}

func (m *modbusBMS) Decode(req exchange.Request, frames []frame.Frame, b *telemetry.Battery) error {
	idx, ok := m.byName[req.Name]
	if !ok {
		return fmt.Errorf("bms: modbus: unknown request %q", req.Name)
	}
	r := m.registers[idx]

	pdu, err := rtu.Decode(frames[0].Bytes())
	if err != nil {
		return fmt.Errorf("bms: modbus: field %q: %w", r.Field, err)
	}
	regs := modbus.Registers(pdu.Data[1:])
	if len(regs) < int(r.Count)*r.Values {
		return fmt.Errorf("%w: field %q", ErrShortData, r.Field)
	}

	if r.Field == "cell" {
		b.Cells = b.Cells[:0]
	}
	if r.Field == "temperature" {
		b.Temperatures = b.Temperatures[:0]
	}
	for i := 0; i < r.Values; i++ {
		var raw int64
		if r.Count == 2 {
			v := uint32(regs[2*i])<<16 | uint32(regs[2*i+1])
			raw = int64(v)
			if r.Signed {
				raw = int64(int32(v))
			}
		} else {
			v := regs[i]
			raw = int64(v)
			if r.Signed {
				raw = int64(int16(v))
			}
		}
		r.set(b, float64(raw)*r.Scale)
	}
	return nil
}
