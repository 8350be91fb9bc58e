// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bms

import (
	"fmt"
	"sort"

	"github.com/ffutop/bms-gateway/checksum"
	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
)

// Daly BMS over UART/RS485. Every frame is 13 bytes:
//
//	A5 addr cmd 08 data(8) sum8
//
// The host sends with address 0x40, the BMS answers with its own address.
var dalyDescriptor = frame.MustParsePattern("SACLDV")

const (
	dalyStart       = 0xA5
	dalyHost        = 0x40
	dalyDefaultAddr = 0x01

	dalySOC         = 0x90
	dalyCellRange   = 0x91
	dalyTempRange   = 0x92
	dalyMOS         = 0x93
	dalyStatus      = 0x94
	dalyCellVoltage = 0x95
	dalyCellTemp    = 0x96
	dalyFailure     = 0x98

	dalyCellsPerFrame = 3
	dalyTempsPerFrame = 7
	dalyTempOffset    = 40
	dalyCurrentOffset = 30000
)

var dalyNames = map[byte]string{
	dalySOC:         "soc",
	dalyCellRange:   "cell_range",
	dalyTempRange:   "temperature_range",
	dalyMOS:         "mos",
	dalyStatus:      "status",
	dalyCellVoltage: "cell_voltages",
	dalyCellTemp:    "cell_temperatures",
	dalyFailure:     "failure",
}

// dalyState is shared by the UART and CAN flavours: the frame counts of the
// multi-frame commands come from the status response.
type dalyState struct {
	address byte
	cells   int
	sensors int
}

func newDalyState(cfg config.AdapterConfig) dalyState {
	addr := byte(cfg.Address)
	if addr == 0 {
		addr = dalyDefaultAddr
	}
	return dalyState{address: addr}
}

type dalyCommand struct {
	cmd    byte
	frames int
}

// commands lists the commands of one cycle with the number of response
// frames each expects. Multi-frame commands wait until the status response
// told how many cells and sensors there are.
func (s *dalyState) commands() []dalyCommand {
	out := []dalyCommand{
		{dalySOC, 1}, {dalyCellRange, 1}, {dalyTempRange, 1}, {dalyMOS, 1}, {dalyStatus, 1},
	}
	if s.cells > 0 {
		out = append(out, dalyCommand{dalyCellVoltage, (s.cells + dalyCellsPerFrame - 1) / dalyCellsPerFrame})
	}
	if s.sensors > 0 {
		out = append(out, dalyCommand{dalyCellTemp, (s.sensors + dalyTempsPerFrame - 1) / dalyTempsPerFrame})
	}
	return append(out, dalyCommand{dalyFailure, 1})
}

type daly struct {
	dalyState
}

func newDaly(cfg config.AdapterConfig) (Adapter, error) {
	return &daly{dalyState: newDalyState(cfg)}, nil
}

func (d *daly) Name() string { return "daly" }

func (d *daly) Framing() stream.Framing {
	return stream.Framing{
		Start:      dalyStart,
		Descriptor: dalyDescriptor,
		Validate: func(raw []byte) bool {
			n := len(raw)
			return n == 13 && checksum.Sum8(raw[:n-1]) == raw[n-1]
		},
	}
}

func dalyRequest(cmd byte) []byte {
	buf := make([]byte, 12, 13)
	buf[0], buf[1], buf[2], buf[3] = dalyStart, dalyHost, cmd, 0x08
	return append(buf, checksum.Sum8(buf))
}

func (d *daly) Requests() []exchange.Request {
	var reqs []exchange.Request
	for _, c := range d.commands() {
		cmd := c.cmd
		addr := d.address
		reqs = append(reqs, exchange.Request{
			Name:   dalyNames[cmd],
			Frame:  dalyRequest(cmd),
			Expect: c.frames,
			Match: func(f frame.Frame) bool {
				return f.Address() == uint64(addr) && f.Command() == uint64(cmd)
			},
		})
	}
	return reqs
}

func (d *daly) Decode(req exchange.Request, frames []frame.Frame, b *telemetry.Battery) error {
	payloads := make([][]byte, len(frames))
	for i, f := range frames {
		payloads[i] = f.Data()
	}
	return d.decode(req.Name, payloads, b)
}

func (s *dalyState) decode(name string, payloads [][]byte, b *telemetry.Battery) error {
	if len(payloads) == 0 {
		return fmt.Errorf("%w: daly %s: no frames", ErrShortData, name)
	}
	for _, p := range payloads {
		if err := need(p, 8, "daly "+name); err != nil {
			return err
		}
	}
	data := payloads[0]

	switch name {
	case "soc":
		b.Voltage = float64(be16(data[0:])) / 10
		b.Current = float64(int(be16(data[4:]))-dalyCurrentOffset) / 10
		b.SOC = float64(be16(data[6:])) / 10
	case "cell_range":
		b.MaxCellVoltage = float64(be16(data[0:])) / 1000
		b.MinCellVoltage = float64(be16(data[3:])) / 1000
	case "temperature_range":
		b.MaxTemperature = float64(int(data[0]) - dalyTempOffset)
		b.MinTemperature = float64(int(data[2]) - dalyTempOffset)
	case "mos":
		b.ChargeEnabled = data[1] != 0
		b.DischargeEnabled = data[2] != 0
		b.RemainingCapacity = float64(be32(data[4:])) / 1000
	case "status":
		s.cells = int(data[0])
		s.sensors = int(data[1])
		b.Cycles = int(be16(data[5:]))
	case "cell_voltages":
		b.Cells = b.Cells[:0]
		for _, p := range sortedByFrameNumber(payloads) {
			for i := 0; i < dalyCellsPerFrame && len(b.Cells) < s.cells; i++ {
				b.Cells = append(b.Cells, float64(be16(p[1+2*i:]))/1000)
			}
		}
	case "cell_temperatures":
		b.Temperatures = b.Temperatures[:0]
		for _, p := range sortedByFrameNumber(payloads) {
			for i := 0; i < dalyTempsPerFrame && len(b.Temperatures) < s.sensors; i++ {
				b.Temperatures = append(b.Temperatures, float64(int(p[1+i])-dalyTempOffset))
			}
		}
	case "failure":
		b.Alarms |= dalyAlarms(data)
	default:
		return fmt.Errorf("bms: daly: unknown request %q", name)
	}
	return nil
}

// sortedByFrameNumber orders multi-frame payloads by their leading frame
// number; devices do not always send them in order.
func sortedByFrameNumber(payloads [][]byte) [][]byte {
	out := append([][]byte(nil), payloads...)
	sort.SliceStable(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// dalyAlarms maps the failure bytes. Level 1 and level 2 warnings of a
// condition share one alarm.
func dalyAlarms(data []byte) telemetry.Alarm {
	var a telemetry.Alarm
	set := func(cond bool, alarm telemetry.Alarm) {
		if cond {
			a |= alarm
		}
	}
	set(data[0]&0x03 != 0, telemetry.AlarmCellOverVoltage)
	set(data[0]&0x0C != 0, telemetry.AlarmCellUnderVoltage)
	set(data[0]&0x30 != 0, telemetry.AlarmPackOverVoltage)
	set(data[0]&0xC0 != 0, telemetry.AlarmPackUnderVoltage)
	set(data[1]&0x03 != 0, telemetry.AlarmChargeOverTemp)
	set(data[1]&0x0C != 0, telemetry.AlarmChargeUnderTemp)
	set(data[1]&0x30 != 0, telemetry.AlarmDischargeOverTemp)
	set(data[1]&0xC0 != 0, telemetry.AlarmDischargeUnderTemp)
	set(data[2]&0x03 != 0, telemetry.AlarmChargeOverCurrent)
	set(data[2]&0x0C != 0, telemetry.AlarmDischargeOverCurrent)
	set(data[3]&0x03 != 0, telemetry.AlarmCellImbalance)
	set(data[4]|data[5]|data[6] != 0, telemetry.AlarmInternalFault)
	return a
}
