// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte links to batteries and the servers
// the inverter connects to.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/queue"
)

var (
	ErrPortClosed = errors.New("transport: port is not open")
	ErrPortOpen   = errors.New("transport: port is already open")
)

// Port is a byte link to one BMS. While open, a reader goroutine pushes
// every received chunk into the queue given to Open; writes go straight to
// the device.
type Port interface {
	io.Writer
	// Open connects and starts the reader. Opening an open port fails.
	Open(ctx context.Context, q *queue.Queue) error
	// Close stops the reader and releases the device. It is safe to call
	// on a closed port.
	Close() error
	// String names the device for logs.
	String() string
}

// RequestHandler serves one Modbus request addressed to unitID.
type RequestHandler func(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream represents a source of requests (the inverter, as Modbus
// master). It acts as a server.
type Upstream interface {
	// Start serves requests until ctx is done. It blocks.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}
