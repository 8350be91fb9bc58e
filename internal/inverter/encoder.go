// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package inverter exposes the aggregated battery state as a Modbus
// register map.
//
// Status block, served from both the input and the holding table:
//
//	0   pack voltage            0.01 V
//	1   pack current            0.1 A, signed, positive is charging
//	2   state of charge         %
//	3   state of health         %
//	4   charge voltage limit    0.1 V
//	5   discharge voltage limit 0.1 V
//	6   charge current limit    0.1 A
//	7   discharge current limit 0.1 A
//	8   max cell voltage        mV
//	9   min cell voltage        mV
//	10  max temperature         0.1 °C, signed
//	11  min temperature         0.1 °C, signed
//	12  remaining capacity      0.1 Ah
//	13  full capacity           0.1 Ah
//	14  cycles
//	15  alarms, low word
//	16  alarms, high word
//	17  flags: bit 0 online, bit 1 charge allowed, bit 2 discharge allowed
//	18  batteries online
//
// Control block, holding table only, written by the inverter with FC 0x06:
//
//	256 charge current limit override    0.1 A, 0 = none
//	257 discharge current limit override 0.1 A, 0 = none
package inverter

import (
	"math"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/registers"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/modbus"
)

const (
	RegVoltage = iota
	RegCurrent
	RegSOC
	RegSOH
	RegChargeVoltage
	RegDischargeVoltage
	RegChargeCurrent
	RegDischargeCurrent
	RegMaxCellVoltage
	RegMinCellVoltage
	RegMaxTemperature
	RegMinTemperature
	RegRemainingCapacity
	RegCapacity
	RegCycles
	RegAlarmsLow
	RegAlarmsHigh
	RegFlags
	RegBatteries

	StatusSize
)

const (
	RegChargeCurrentOverride    = 0x100
	RegDischargeCurrentOverride = 0x101
)

const (
	FlagOnline uint16 = 1 << iota
	FlagChargeAllowed
	FlagDischargeAllowed
)

// Alarms that forbid charging or discharging whatever the BMS FET state.
const (
	chargeBlocking = telemetry.AlarmCellOverVoltage | telemetry.AlarmPackOverVoltage |
		telemetry.AlarmChargeOverTemp | telemetry.AlarmChargeUnderTemp |
		telemetry.AlarmChargeOverCurrent | telemetry.AlarmShortCircuit
	dischargeBlocking = telemetry.AlarmCellUnderVoltage | telemetry.AlarmPackUnderVoltage |
		telemetry.AlarmDischargeOverTemp | telemetry.AlarmDischargeUnderTemp |
		telemetry.AlarmDischargeOverCurrent | telemetry.AlarmShortCircuit
)

// Encoder writes pack views into a register image.
type Encoder struct {
	img    *registers.Image
	limits config.LimitsConfig
}

func NewEncoder(img *registers.Image, limits config.LimitsConfig) *Encoder {
	return &Encoder{img: img, limits: limits}
}

// Encode writes the status block. When ok is false there is no fresh
// battery: the block keeps the last values but the inverter is told the
// pack is offline and may neither charge nor discharge.
func (e *Encoder) Encode(p telemetry.Pack, ok bool) error {
	var regs []uint16
	if ok {
		regs = e.status(p)
	} else {
		prev, err := e.img.Read(registers.TableInput, 0, StatusSize)
		if err != nil {
			return err
		}
		regs = modbus.Registers(prev)
		regs[RegChargeCurrent] = 0
		regs[RegDischargeCurrent] = 0
		regs[RegFlags] = 0
		regs[RegBatteries] = 0
	}

	if err := e.img.Write(registers.TableInput, 0, regs); err != nil {
		return err
	}
	return e.img.Write(registers.TableHolding, 0, regs)
}

func (e *Encoder) status(p telemetry.Pack) []uint16 {
	chargeCurrent := capLimit(p.MaxChargeCurrent, e.limits.MaxChargeCurrent)
	dischargeCurrent := capLimit(p.MaxDischargeCurrent, e.limits.MaxDischargeCurrent)
	if o := e.override(RegChargeCurrentOverride); o > 0 && o < chargeCurrent {
		chargeCurrent = o
	}
	if o := e.override(RegDischargeCurrentOverride); o > 0 && o < dischargeCurrent {
		dischargeCurrent = o
	}

	flags := FlagOnline
	if p.ChargeEnabled && p.Alarms&chargeBlocking == 0 {
		flags |= FlagChargeAllowed
	} else {
		chargeCurrent = 0
	}
	if p.DischargeEnabled && p.Alarms&dischargeBlocking == 0 {
		flags |= FlagDischargeAllowed
	} else {
		dischargeCurrent = 0
	}

	regs := make([]uint16, StatusSize)
	regs[RegVoltage] = unsigned(p.Voltage, 100)
	regs[RegCurrent] = signed(p.Current, 10)
	regs[RegSOC] = unsigned(p.SOC, 1)
	regs[RegSOH] = unsigned(p.SOH, 1)
	regs[RegChargeVoltage] = unsigned(capLimit(p.ChargeVoltage, e.limits.ChargeVoltage), 10)
	regs[RegDischargeVoltage] = unsigned(e.limits.DischargeVoltage, 10)
	regs[RegChargeCurrent] = unsigned(chargeCurrent, 10)
	regs[RegDischargeCurrent] = unsigned(dischargeCurrent, 10)
	regs[RegMaxCellVoltage] = unsigned(p.MaxCellVoltage, 1000)
	regs[RegMinCellVoltage] = unsigned(p.MinCellVoltage, 1000)
	regs[RegMaxTemperature] = signed(p.MaxTemperature, 10)
	regs[RegMinTemperature] = signed(p.MinTemperature, 10)
	regs[RegRemainingCapacity] = unsigned(p.RemainingCapacity, 10)
	regs[RegCapacity] = unsigned(p.Capacity, 10)
	regs[RegCycles] = unsigned(float64(p.Cycles), 1)
	regs[RegAlarmsLow] = uint16(p.Alarms)
	regs[RegAlarmsHigh] = uint16(p.Alarms >> 16)
	regs[RegFlags] = flags
	regs[RegBatteries] = unsigned(float64(p.Batteries), 1)
	return regs
}

func (e *Encoder) override(addr uint16) float64 {
	return float64(e.img.Register(registers.TableHolding, addr)) / 10
}

// capLimit returns the BMS value capped by the configured one; either side
// may be zero meaning unknown.
func capLimit(bms, configured float64) float64 {
	switch {
	case bms <= 0:
		return configured
	case configured <= 0:
		return bms
	}
	return math.Min(bms, configured)
}

func unsigned(v, scale float64) uint16 {
	r := math.Round(v * scale)
	switch {
	case r < 0:
		return 0
	case r > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(r)
}

func signed(v, scale float64) uint16 {
	r := math.Round(v * scale)
	switch {
	case r < math.MinInt16:
		r = math.MinInt16
	case r > math.MaxInt16:
		r = math.MaxInt16
	}
	return uint16(int16(r))
}
