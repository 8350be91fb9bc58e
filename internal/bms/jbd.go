// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bms

import (
	"fmt"

	"github.com/ffutop/bms-gateway/checksum"
	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
)

// JBD (Xiaoxiang) smart BMS over UART/RS485.
//
//	request:  DD A5 cmd 00 sum16 77
//	response: DD cmd status len data sum16 77
//
// The checksum is the negated 16 bit sum of the bytes between the command
// and the checksum.
var jbdDescriptor = frame.MustParsePattern("SCOLDVVO")

const (
	jbdStart = 0xDD
	jbdEnd   = 0x77
	jbdRead  = 0xA5

	jbdBasicInfo = 0x03
	jbdCells     = 0x04
)

type jbd struct{}

func newJBD(cfg config.AdapterConfig) (Adapter, error) {
	return jbd{}, nil
}

func (jbd) Name() string { return "jbd" }

func (jbd) Framing() stream.Framing {
	return stream.Framing{
		Start:      jbdStart,
		Descriptor: jbdDescriptor,
		Validate:   jbdValidate,
	}
}

func jbdValidate(raw []byte) bool {
	n := len(raw)
	return n >= 7 && raw[n-1] == jbdEnd && checksum.VerifyNegSum16(raw[2:n-3], raw[n-3:n-1])
}

func jbdRequest(cmd byte) []byte {
	buf := []byte{jbdStart, jbdRead, cmd, 0x00}
	buf = checksum.AppendNegSum16(buf, buf[2:])
	return append(buf, jbdEnd)
}

func (jbd) Requests() []exchange.Request {
	return []exchange.Request{
		{Name: "basic_info", Frame: jbdRequest(jbdBasicInfo), Expect: 1, Match: commandIs(jbdBasicInfo)},
		{Name: "cell_voltages", Frame: jbdRequest(jbdCells), Expect: 1, Match: commandIs(jbdCells)},
	}
}

func commandIs(cmd byte) func(frame.Frame) bool {
	return func(f frame.Frame) bool { return f.Command() == uint64(cmd) }
}

func (jbd) Decode(req exchange.Request, frames []frame.Frame, b *telemetry.Battery) error {
	f := frames[0]
	if status := f.Field(frame.KindOther)[0]; status != 0x00 {
		return fmt.Errorf("bms: jbd %s: device status 0x%02X", req.Name, status)
	}
	switch req.Name {
	case "basic_info":
		return jbdDecodeBasic(f.Data(), b)
	case "cell_voltages":
		return jbdDecodeCells(f.Data(), b)
	}
	return fmt.Errorf("bms: jbd: unknown request %q", req.Name)
}

// protection status bits 0-10 line up with telemetry alarms
const jbdProtectionMask = 0x07FF

func jbdDecodeBasic(data []byte, b *telemetry.Battery) error {
	if err := need(data, 23, "jbd basic info"); err != nil {
		return err
	}
	b.Voltage = float64(be16(data[0:])) / 100
	b.Current = float64(int16(be16(data[2:]))) / 100
	b.RemainingCapacity = float64(be16(data[4:])) / 100
	b.Capacity = float64(be16(data[6:])) / 100
	b.Cycles = int(be16(data[8:]))

	prot := be16(data[16:])
	b.Alarms |= telemetry.Alarm(prot & jbdProtectionMask)
	if prot&^jbdProtectionMask != 0 {
		b.Alarms |= telemetry.AlarmInternalFault
	}

	b.SOC = float64(data[19])
	b.ChargeEnabled = data[20]&0x01 != 0
	b.DischargeEnabled = data[20]&0x02 != 0

	ntc := int(data[22])
	if err := need(data, 23+2*ntc, "jbd temperatures"); err != nil {
		return err
	}
	b.Temperatures = b.Temperatures[:0]
	for i := 0; i < ntc; i++ {
		kelvin := be16(data[23+2*i:])
		b.Temperatures = append(b.Temperatures, float64(int(kelvin)-2731)/10)
	}
	return nil
}

func jbdDecodeCells(data []byte, b *telemetry.Battery) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("%w: odd cell voltage length %d", ErrShortData, len(data))
	}
	b.Cells = b.Cells[:0]
	for i := 0; i < len(data); i += 2 {
		b.Cells = append(b.Cells, float64(be16(data[i:]))/1000)
	}
	return nil
}
