// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package telemetry holds decoded battery state and merges the state of
// several packs into the single view reported to the inverter.
package telemetry

import (
	"strings"
	"time"
)

// Alarm is a bit set of protection states.
type Alarm uint32

const (
	AlarmCellOverVoltage Alarm = 1 << iota
	AlarmCellUnderVoltage
	AlarmPackOverVoltage
	AlarmPackUnderVoltage
	AlarmChargeOverTemp
	AlarmChargeUnderTemp
	AlarmDischargeOverTemp
	AlarmDischargeUnderTemp
	AlarmChargeOverCurrent
	AlarmDischargeOverCurrent
	AlarmShortCircuit
	AlarmCellImbalance
	AlarmInternalFault
	AlarmCommunication
)

var alarmNames = []string{
	"cell_over_voltage",
	"cell_under_voltage",
	"pack_over_voltage",
	"pack_under_voltage",
	"charge_over_temp",
	"charge_under_temp",
	"discharge_over_temp",
	"discharge_under_temp",
	"charge_over_current",
	"discharge_over_current",
	"short_circuit",
	"cell_imbalance",
	"internal_fault",
	"communication",
}

func (a Alarm) String() string {
	if a == 0 {
		return "none"
	}
	var names []string
	for i, name := range alarmNames {
		if a&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// Battery is the decoded state of one BMS. Currents are positive while
// charging.
type Battery struct {
	Port string

	Voltage           float64 // V
	Current           float64 // A
	SOC               float64 // %
	SOH               float64 // %
	Capacity          float64 // Ah, full
	RemainingCapacity float64 // Ah
	Cycles            int

	Cells        []float64 // V
	Temperatures []float64 // °C

	MinCellVoltage float64
	MaxCellVoltage float64
	MinTemperature float64
	MaxTemperature float64

	ChargeEnabled    bool
	DischargeEnabled bool
	Alarms           Alarm

	// Limits requested by the BMS, zero when it does not report them.
	MaxChargeCurrent    float64
	MaxDischargeCurrent float64
	ChargeVoltage       float64

	Updated time.Time
}

// Summarize derives the min/max fields from Cells and Temperatures when
// they are present.
func (b *Battery) Summarize() {
	if len(b.Cells) > 0 {
		b.MinCellVoltage, b.MaxCellVoltage = minMax(b.Cells)
	}
	if len(b.Temperatures) > 0 {
		b.MinTemperature, b.MaxTemperature = minMax(b.Temperatures)
	}
	if b.Voltage == 0 && len(b.Cells) > 0 {
		for _, v := range b.Cells {
			b.Voltage += v
		}
	}
}

// Power returns the pack power in W.
func (b Battery) Power() float64 {
	return b.Voltage * b.Current
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
