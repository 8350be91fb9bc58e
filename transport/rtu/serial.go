// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/queue"
	"github.com/ffutop/bms-gateway/transport"
	"github.com/grid-x/serial"
	"go.uber.org/zap"
)

// serialConfig maps the configured line settings, RS485 included.
func serialConfig(cfg config.SerialConfig) *serial.Config {
	c := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if cfg.RS485 {
		c.RS485.Enabled = true
		c.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		c.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		c.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		c.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		c.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return c
}

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// serialTimeout reports the read timeout the line returns when idle.
func serialTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}

// Port is a serial line to a BMS. It implements transport.Port.
type Port struct {
	// Serial port configuration.
	serial.Config

	open func(*serial.Config) (io.ReadWriteCloser, error)

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
	done chan struct{}
}

// NewPort creates a closed Port.
func NewPort(cfg config.SerialConfig) *Port {
	return &Port{Config: *serialConfig(cfg), open: openSerial}
}

func (p *Port) String() string {
	return p.Config.Address
}

// Open opens the device and starts the reader.
func (p *Port) Open(ctx context.Context, q *queue.Queue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if p.port != nil {
		return transport.ErrPortOpen
	}
	port, err := p.open(&p.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
	}
	p.port = port
	p.done = make(chan struct{})

	go p.read(port, q, p.done)
	return nil
}

func (p *Port) read(port io.Reader, q *queue.Queue, done chan struct{}) {
	defer close(done)
	err := transport.ReadLoop(port, q, serialTimeout)
	logging.Debug("serial reader stopped", zap.String("device", p.Config.Address), zap.Error(err))
}

// Write sends p to the device.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()

	if port == nil {
		return 0, transport.ErrPortClosed
	}
	return port.Write(b)
}

// Close closes the device and waits for the reader to stop.
func (p *Port) Close() error {
	p.mu.Lock()
	port, done := p.port, p.done
	p.port, p.done = nil, nil
	p.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	return err
}
