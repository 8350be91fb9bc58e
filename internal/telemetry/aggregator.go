// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Pack is the merged view of all fresh batteries.
type Pack struct {
	Batteries int

	Voltage           float64 // mean
	Current           float64 // sum
	SOC               float64 // mean
	SOH               float64 // mean
	Capacity          float64 // sum
	RemainingCapacity float64 // sum
	Cycles            int     // max

	MinCellVoltage float64
	MaxCellVoltage float64
	MinTemperature float64
	MaxTemperature float64

	ChargeEnabled    bool // all packs
	DischargeEnabled bool // all packs
	Alarms           Alarm

	MaxChargeCurrent    float64 // sum
	MaxDischargeCurrent float64 // sum
	ChargeVoltage       float64 // lowest reported

	Updated time.Time // oldest contributing snapshot
}

// Aggregator collects the latest snapshot of every port. It is shared by
// all poll loops and the inverter side.
type Aggregator struct {
	mu         sync.Mutex
	batteries  map[string]Battery
	staleAfter time.Duration
	now        func() time.Time
	notify     chan struct{}
}

// NewAggregator creates an Aggregator ignoring snapshots older than
// staleAfter. A zero staleAfter keeps snapshots forever.
func NewAggregator(staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		batteries:  make(map[string]Battery),
		staleAfter: staleAfter,
		now:        time.Now,
		notify:     make(chan struct{}, 1),
	}
}

// Publish stores b as the latest snapshot of b.Port.
func (a *Aggregator) Publish(b Battery) {
	if b.Updated.IsZero() {
		b.Updated = a.now()
	}
	a.mu.Lock()
	a.batteries[b.Port] = b
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Remove forgets a port, e.g. after it failed.
func (a *Aggregator) Remove(port string) {
	a.mu.Lock()
	delete(a.batteries, port)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Updates signals after every Publish or Remove. Signals coalesce.
func (a *Aggregator) Updates() <-chan struct{} {
	return a.notify
}

// Snapshot returns the fresh batteries ordered by port.
func (a *Aggregator) Snapshot() []Battery {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	out := make([]Battery, 0, len(a.batteries))
	for _, b := range a.batteries {
		if a.staleAfter > 0 && now.Sub(b.Updated) > a.staleAfter {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Pack merges the fresh batteries. ok is false when there are none.
func (a *Aggregator) Pack() (p Pack, ok bool) {
	batteries := a.Snapshot()
	if len(batteries) == 0 {
		return Pack{}, false
	}

	p = Pack{
		Batteries:        len(batteries),
		MinCellVoltage:   math.Inf(1),
		MaxCellVoltage:   math.Inf(-1),
		MinTemperature:   math.Inf(1),
		MaxTemperature:   math.Inf(-1),
		ChargeEnabled:    true,
		DischargeEnabled: true,
	}
	var soh, sohCount float64
	for _, b := range batteries {
		p.Voltage += b.Voltage
		p.Current += b.Current
		p.SOC += b.SOC
		if b.SOH > 0 {
			soh += b.SOH
			sohCount++
		}
		p.Capacity += b.Capacity
		p.RemainingCapacity += b.RemainingCapacity
		if b.Cycles > p.Cycles {
			p.Cycles = b.Cycles
		}
		if b.MinCellVoltage > 0 {
			p.MinCellVoltage = math.Min(p.MinCellVoltage, b.MinCellVoltage)
		}
		if b.MaxCellVoltage > 0 {
			p.MaxCellVoltage = math.Max(p.MaxCellVoltage, b.MaxCellVoltage)
		}
		if len(b.Temperatures) > 0 || b.MinTemperature != 0 || b.MaxTemperature != 0 {
			p.MinTemperature = math.Min(p.MinTemperature, b.MinTemperature)
			p.MaxTemperature = math.Max(p.MaxTemperature, b.MaxTemperature)
		}
		p.ChargeEnabled = p.ChargeEnabled && b.ChargeEnabled
		p.DischargeEnabled = p.DischargeEnabled && b.DischargeEnabled
		p.Alarms |= b.Alarms
		p.MaxChargeCurrent += b.MaxChargeCurrent
		p.MaxDischargeCurrent += b.MaxDischargeCurrent
		if b.ChargeVoltage > 0 && (p.ChargeVoltage == 0 || b.ChargeVoltage < p.ChargeVoltage) {
			p.ChargeVoltage = b.ChargeVoltage
		}
		if p.Updated.IsZero() || b.Updated.Before(p.Updated) {
			p.Updated = b.Updated
		}
	}

	n := float64(len(batteries))
	p.Voltage /= n
	p.SOC /= n
	if sohCount > 0 {
		p.SOH = soh / sohCount
	}
	for _, v := range []*float64{&p.MinCellVoltage, &p.MaxCellVoltage, &p.MinTemperature, &p.MaxTemperature} {
		if math.IsInf(*v, 0) {
			*v = 0
		}
	}
	return p, true
}
