// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/queue"
	"github.com/ffutop/bms-gateway/transport"
	"go.uber.org/zap"
)

const tcpTimeout = 10 * time.Second

// Port is a transparent RS485-to-TCP converter in front of a BMS. It
// implements transport.Port.
type Port struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	done chan struct{}
}

// NewPort creates a closed Port.
func NewPort(cfg config.TcpConfig) *Port {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	return &Port{Address: cfg.Address, Timeout: timeout}
}

func (p *Port) String() string {
	return p.Address
}

// Open dials the converter and starts the reader.
func (p *Port) Open(ctx context.Context, q *queue.Queue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return transport.ErrPortOpen
	}
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", p.Address, err)
	}
	p.conn = conn
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		err := transport.ReadLoop(conn, q, nil)
		logging.Debug("tcp reader stopped", zap.String("addr", p.Address), zap.Error(err))
	}(p.done)
	return nil
}

// Write sends b to the converter.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return 0, transport.ErrPortClosed
	}
	if err := conn.SetWriteDeadline(time.Now().Add(p.Timeout)); err != nil {
		return 0, err
	}
	return conn.Write(b)
}

// Close closes the connection and waits for the reader to stop.
func (p *Port) Close() error {
	p.mu.Lock()
	conn, done := p.conn, p.done
	p.conn, p.done = nil, nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}
