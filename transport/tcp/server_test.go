// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/ffutop/bms-gateway/internal/inverter"
	"github.com/ffutop/bms-gateway/internal/registers"
	"github.com/ffutop/bms-gateway/modbus"
	"github.com/ffutop/bms-gateway/transport"
)

// startServer runs a server on a free local port and returns its address.
func startServer(t *testing.T, handler transport.RequestHandler) (string, context.CancelFunc) {
	t.Helper()
	s := NewServer("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, handler) }()

	deadline := time.Now().Add(time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned %v", err)
			}
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})
	return s.Addr().String(), cancel
}

func TestServer_InverterSlave(t *testing.T) {
	img := registers.NewImage()
	img.Write(registers.TableInput, 0, []uint16{5320, 0xFF97, 88})
	slave := inverter.NewSlave(1, img)
	addr, _ := startServer(t, slave.Handle)

	handler := gomodbus.NewTCPClientHandler(addr)
	handler.SlaveId = 1
	handler.Timeout = time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer handler.Close()
	client := gomodbus.NewClient(handler)

	results, err := client.ReadInputRegisters(0, 3)
	if err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	if want := []byte{0x14, 0xC8, 0xFF, 0x97, 0x00, 0x58}; !bytes.Equal(results, want) {
		t.Errorf("ReadInputRegisters = % X, want % X", results, want)
	}

	if _, err := client.WriteSingleRegister(inverter.RegChargeCurrentOverride, 150); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	if v := img.Register(registers.TableHolding, inverter.RegChargeCurrentOverride); v != 150 {
		t.Errorf("override = %d, want 150", v)
	}

	_, err = client.WriteSingleRegister(0, 1)
	mbErr, ok := err.(*gomodbus.ModbusError)
	if !ok || mbErr.ExceptionCode != gomodbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("write to status block err = %v, want illegal data address", err)
	}
}

func TestServer_SplitAndPipelinedRequests(t *testing.T) {
	addr, _ := startServer(t, func(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return modbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: []byte{0x02, 0xAA, unitID}}, nil
	})
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	request := func(tid uint16) []byte {
		raw, _ := (&ApplicationDataUnit{
			TransactionID: tid,
			SlaveID:       byte(tid),
			Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0, 1, 0, 1}},
		}).Encode()
		return raw
	}

	// one request split over two writes, then two requests in one write
	first := request(1)
	conn.Write(first[:5])
	time.Sleep(10 * time.Millisecond)
	conn.Write(first[5:])
	conn.Write(append(request(2), request(3)...))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	for tid := uint16(1); tid <= 3; tid++ {
		adu, err := ReadADU(conn)
		if err != nil {
			t.Fatalf("response %d: %v", tid, err)
		}
		if adu.TransactionID != tid || adu.Pdu.FunctionCode != 0x03 || adu.Pdu.Data[2] != byte(tid) {
			t.Errorf("response %d = %+v", tid, adu)
		}
	}
}

func TestServer_NotAddressedGetsNoResponse(t *testing.T) {
	slave := inverter.NewSlave(1, registers.NewImage())
	addr, _ := startServer(t, slave.Handle)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	raw, _ := (&ApplicationDataUnit{
		TransactionID: 9,
		SlaveID:       5,
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0, 0, 0, 1}},
	}).Encode()
	conn.Write(raw)

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("got response % X for another unit", buf[:n])
	}
}

func TestReadADU_Invalid(t *testing.T) {
	header := make([]byte, 7)
	binary.BigEndian.PutUint16(header[4:], 300)
	if _, err := ReadADU(bytes.NewReader(header)); err == nil {
		t.Error("ReadADU accepted an oversized length")
	}
	binary.BigEndian.PutUint16(header[4:], 6)
	if _, err := ReadADU(bytes.NewReader(append(header, 0x03))); err == nil {
		t.Error("ReadADU accepted a truncated frame")
	}
}

func TestServer_LifeCycle(t *testing.T) {
	_, cancel := startServer(t, func(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return pdu, nil
	})
	cancel()
}
