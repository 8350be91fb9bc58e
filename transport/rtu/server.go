// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ffutop/bms-gateway/internal/config"
	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/modbus/rtu"
	"github.com/ffutop/bms-gateway/queue"
	"github.com/ffutop/bms-gateway/stream"
	"github.com/ffutop/bms-gateway/transport"
	"github.com/grid-x/serial"
	"go.uber.org/zap"
)

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, waiting for requests from the
// inverter. Requests are cut from the line with the same synchronizer the
// BMS side uses, keyed on the unit id, so traffic for other slaves on a
// shared bus is skipped.
type Server struct {
	Config serial.Config
	UnitID byte

	open func(*serial.Config) (io.ReadWriteCloser, error)

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig, unitID byte) *Server {
	return &Server{
		Config: *serialConfig(cfg),
		UnitID: unitID,
		open:   openSerial,
	}
}

// Framing is the request framing of a slave answering as unitID.
func Framing(unitID byte) stream.Framing {
	return stream.Framing{
		Start:      unitID,
		Descriptor: rtu.RequestDescriptor,
		Describe:   rtu.DescribeRequest,
		Validate:   rtu.Validate,
		MaxFrame:   rtu.MaxSize,
	}
}

// Start starts the RTU server.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	port, err := s.open(&s.Config)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Address, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()

	logging.Info("RTU Server listening", zap.String("device", s.Config.Address), zap.Uint8("unit", s.UnitID))

	q := queue.New()
	go func() {
		err := transport.ReadLoop(port, q, serialTimeout)
		logging.Debug("RTU server reader stopped", zap.Error(err))
	}()
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.serve(ctx, port, q, handler)
}

func (s *Server) serve(ctx context.Context, w io.Writer, q *queue.Queue, handler transport.RequestHandler) error {
	sc, err := stream.NewSynchronizer(q, Framing(s.UnitID))
	if err != nil {
		return err
	}

	for {
		f, err := sc.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		req, err := rtu.Decode(f.Bytes())
		if err != nil {
			continue
		}
		logging.Debug("RTU request", logging.Hex("adu", f.Bytes()))

		resp, err := handler(ctx, s.UnitID, req)
		if err != nil {
			logging.Warn("Upstream handler failed", zap.Error(err))
			continue
		}
		raw, err := rtu.EncodeResponse(s.UnitID, resp)
		if err != nil {
			logging.Error("Failed to encode RTU response", zap.Error(err))
			continue
		}
		if _, err := w.Write(raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}

// Close closes the serial port.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
