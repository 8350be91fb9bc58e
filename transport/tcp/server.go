// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ffutop/bms-gateway/internal/logging"
	"github.com/ffutop/bms-gateway/transport"
	"go.uber.org/zap"
)

// Server serves the inverter over Modbus TCP. Every connection is handled
// on its own goroutine; requests on one connection are answered in order.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer returns a server that will listen on address.
func NewServer(address string) *Server {
	return &Server{Address: address}
}

// Start listens and serves handler until ctx is done. It returns after
// every connection has been closed.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	l, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("tcp: listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	logging.Info("Modbus TCP server listening", zap.Stringer("addr", l.Addr()))

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.conns.Wait()

	for {
		conn, err := l.Accept()
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return nil
		default:
			logging.Error("Failed to accept connection", zap.Error(err))
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serve(ctx, conn, handler)
		}()
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections. Open connections end with Start's ctx.
func (s *Server) Close() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

func (s *Server) serve(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	log := logging.Named("tcp").With(zap.Stringer("addr", conn.RemoteAddr()))
	log.Info("Inverter connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		req, err := ReadADU(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("Inverter disconnected")
			case ctx.Err() != nil:
			default:
				log.Error("Failed to read request", zap.Error(err))
			}
			return
		}

		raw, err := answer(ctx, req, handler)
		if err != nil {
			log.Debug("Request not answered", zap.Error(err))
			continue
		}
		if _, err := conn.Write(raw); err != nil {
			log.Error("Failed to write response", zap.Error(err))
			return
		}
	}
}

// answer runs handler and frames its reply under the request's MBAP header.
func answer(ctx context.Context, req *ApplicationDataUnit, handler transport.RequestHandler) ([]byte, error) {
	pdu, err := handler(ctx, req.SlaveID, req.Pdu)
	if err != nil {
		return nil, err
	}
	resp := ApplicationDataUnit{
		TransactionID: req.TransactionID,
		ProtocolID:    req.ProtocolID,
		SlaveID:       req.SlaveID,
		Pdu:           pdu,
	}
	return resp.Encode()
}
