// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package inverter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/bms-gateway/internal/registers"
	"github.com/ffutop/bms-gateway/modbus"
)

// ErrNotAddressed is returned for requests to another unit. Upstreams drop
// them without answering.
var ErrNotAddressed = errors.New("inverter: request not addressed to this unit")

// Unit id Modbus TCP masters use when the unit id is meaningless.
const tcpUnitWildcard = 0xFF

const maxReadQuantity = 125

// Slave implements the Modbus protocol logic on top of a register image.
type Slave struct {
	unitID byte
	img    *registers.Image
}

// NewSlave creates a new Slave answering as unitID.
func NewSlave(unitID byte, img *registers.Image) *Slave {
	return &Slave{unitID: unitID, img: img}
}

// Handle serves one request. Its signature matches
// transport.RequestHandler.
func (s *Slave) Handle(ctx context.Context, unitID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if unitID != s.unitID && unitID != tcpUnitWildcard {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: unit %d", ErrNotAddressed, unitID)
	}
	return s.Process(req), nil
}

// Process executes the function code against the image.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleRead(req, registers.TableHolding)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleRead(req, registers.TableInput)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	default:
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Slave) handleRead(req modbus.ProtocolDataUnit, t registers.Table) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, quantity := binary.BigEndian.Uint16(req.Data), binary.BigEndian.Uint16(req.Data[2:])
	if quantity < 1 || quantity > maxReadQuantity {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.img.Read(t, address, quantity)
	if err != nil {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

// handleWriteSingleRegister accepts writes to the control block only; the
// status block is owned by the encoder.
func (s *Slave) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address, value := binary.BigEndian.Uint16(req.Data), binary.BigEndian.Uint16(req.Data[2:])

	if address != RegChargeCurrentOverride && address != RegDischargeCurrentOverride {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if err := s.img.WriteSingleRegister(address, value); err != nil {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}
	return req
}
