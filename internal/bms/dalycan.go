// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bms

import (
	"github.com/ffutop/bms-gateway/can"
	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/telemetry"
	"github.com/ffutop/bms-gateway/stream"
	"github.com/notnil/canbus"
)

// Daly BMS on CAN, reached through a serial USB-CAN adapter. Requests use
// identifier 0x18 cmd bms 40, responses 0x18 cmd 40 bms; the 8 data bytes
// are those of the UART protocol.
const dalyCANPrefix = 0x18

type dalyCAN struct {
	dalyState
}

func newDalyCAN(cfg config.AdapterConfig) (Adapter, error) {
	return &dalyCAN{dalyState: newDalyState(cfg)}, nil
}

func (d *dalyCAN) Name() string { return "daly-can" }

func (d *dalyCAN) Framing() stream.Framing {
	return stream.Framing{
		Start:      can.USBCANStart,
		Descriptor: can.USBCANDescriptor,
		Validate:   can.ValidateUSBCAN,
	}
}

func (d *dalyCAN) Requests() []exchange.Request {
	var reqs []exchange.Request
	for _, c := range d.commands() {
		reqs = append(reqs, exchange.Request{
			Name:   dalyNames[c.cmd],
			Frame:  dalyCANRequest(c.cmd, d.address),
			Expect: c.frames,
			Match:  can.MatchUSBCAN(dalyHost, c.cmd),
		})
	}
	return reqs
}

// dalyCANRequest cannot fail: the 0x18 prefix keeps the identifier within
// 29 bits and the payload is exactly 8 bytes.
func dalyCANRequest(cmd, address byte) []byte {
	id := can.PackID(dalyCANPrefix, cmd, address, dalyHost)
	raw, err := can.EncodeUSBCAN(canbus.MustFrame(uint32(id), make([]byte, 8)))
	if err != nil {
		panic(err)
	}
	return raw
}

func (d *dalyCAN) Decode(req exchange.Request, frames []frame.Frame, b *telemetry.Battery) error {
	payloads := make([][]byte, 0, len(frames))
	for _, fr := range frames {
		f, err := can.DecodeUSBCAN(fr)
		if err != nil {
			return err
		}
		payloads = append(payloads, can.Payload(f))
	}
	return d.decode(req.Name, payloads, b)
}
