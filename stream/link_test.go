// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/queue"
)

// echoPort answers every request by feeding a canned response into the
// queue, the way a port reader goroutine would.
type echoPort struct {
	q        *queue.Queue
	written  bytes.Buffer
	response []byte
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.written.Write(b)
	if p.response != nil {
		go func() {
			time.Sleep(5 * time.Millisecond)
			p.q.Write(p.response)
		}()
	}
	return len(b), nil
}

func TestLink_ExchangeThroughSession(t *testing.T) {
	q := queue.New()
	port := &echoPort{q: q, response: jbdFrame(0x03, 0x01, 0x02)}
	link, err := NewLink(port, q, jbdFraming)
	if err != nil {
		t.Fatal(err)
	}

	// stale bytes from before the request must not be framed
	q.Write(jbdFrame(0x05, 0xEE))

	s := exchange.NewSession(link, exchange.Config{ReceiveTimeout: time.Second})
	req := []byte{0xDD, 0xA5, 0x03, 0x00, 0xFF, 0xFD, 0x77}
	frames, err := s.Exchange(context.Background(), exchange.Request{Name: "basic", Frame: req, Expect: 1})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if frames[0].Command() != 0x03 {
		t.Errorf("command = %02X, want 03", frames[0].Command())
	}
	if !bytes.Equal(port.written.Bytes(), req) {
		t.Errorf("written = % X", port.written.Bytes())
	}
	if link.Stats().Frames != 1 {
		t.Errorf("stats = %+v", link.Stats())
	}
}

func TestLink_SilentPortIsNoData(t *testing.T) {
	q := queue.New()
	link, err := NewLink(&echoPort{q: q}, q, jbdFraming)
	if err != nil {
		t.Fatal(err)
	}
	s := exchange.NewSession(link, exchange.Config{MaxNoData: 2, ReceiveTimeout: 10 * time.Millisecond})

	_, err = s.Exchange(context.Background(), exchange.Request{Name: "basic", Frame: []byte{0xDD}, Expect: 1})
	if !errors.Is(err, exchange.ErrNoDataAvailable) {
		t.Errorf("err = %v, want ErrNoDataAvailable", err)
	}
}

func TestLink_ReceiveCanceled(t *testing.T) {
	q := queue.New()
	link, _ := NewLink(&echoPort{q: q}, q, jbdFraming)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := link.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if err := link.Send(ctx, []byte{1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Send err = %v, want context.Canceled", err)
	}
}

func TestLink_FalseStartAbsorbedWithinRound(t *testing.T) {
	q := queue.New()
	resp := append([]byte{0xDD, 0x03, 0x00, 0x40}, jbdFrame(0x03, 0x01, 0x02)...)
	link, err := NewLink(&echoPort{q: q, response: resp}, q, jbdFraming)
	if err != nil {
		t.Fatal(err)
	}
	s := exchange.NewSession(link, exchange.Config{MaxInvalidFrames: 3, ReceiveTimeout: 30 * time.Millisecond})

	frames, err := s.Exchange(context.Background(), exchange.Request{Name: "basic", Frame: []byte{0xDD}, Expect: 1})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if !bytes.Equal(frames[0].Data(), []byte{0x01, 0x02}) {
		t.Errorf("data = % X", frames[0].Data())
	}
	if st := link.Stats(); st.Frames != 1 || st.ValidationFailures != 1 {
		t.Errorf("stats = %+v", st)
	}
}
