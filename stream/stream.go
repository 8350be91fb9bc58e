// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package stream recovers frame alignment on a continuous byte stream.
package stream

import (
	"errors"
	"fmt"

	"github.com/ffutop/bms-gateway/exchange"
	"github.com/ffutop/bms-gateway/frame"
)

// DefaultMaxFrame bounds the size a header may announce.
const DefaultMaxFrame = 512

var (
	// ErrNoData means no byte arrived before the receive deadline.
	ErrNoData = fmt.Errorf("stream: no data: %w", exchange.ErrNoFrame)
	// ErrResyncFailed means bytes arrived but no valid frame could be cut
	// from them before the deadline.
	ErrResyncFailed = fmt.Errorf("stream: resync failed: %w", exchange.ErrInvalidFrame)

	errNoDescriptor = errors.New("stream: framing has no descriptor")
)

// Validator reports whether a complete candidate frame is intact,
// typically by checking its checksum.
type Validator func(raw []byte) bool

// Framing is the static frame shape of one device.
type Framing struct {
	// Start is the byte every frame begins with.
	Start byte
	// Descriptor sizes frames. Its header length is the read window.
	Descriptor *frame.Descriptor
	// Describe optionally picks the descriptor from the header, for
	// protocols with more than one frame shape (Modbus exceptions).
	Describe func(header []byte) (*frame.Descriptor, error)
	// Validate checks a sized frame. Nil accepts every sized frame.
	Validate Validator
	// MaxFrame rejects headers announcing longer frames.
	MaxFrame int
}

func (f Framing) check() error {
	if f.Descriptor == nil {
		return errNoDescriptor
	}
	return nil
}

func (f Framing) window() int {
	return f.Descriptor.HeaderLength()
}

func (f Framing) maxFrame() int {
	if f.MaxFrame > 0 {
		return f.MaxFrame
	}
	return DefaultMaxFrame
}

// describe sizes the frame starting at header[0].
func (f Framing) describe(header []byte) (*frame.Descriptor, int, error) {
	d := f.Descriptor
	if f.Describe != nil {
		var err error
		if d, err = f.Describe(header); err != nil {
			return nil, 0, err
		}
	}
	total, err := d.Length(header)
	if err != nil {
		return nil, 0, err
	}
	if total > f.maxFrame() {
		return nil, 0, fmt.Errorf("stream: announced frame length %d exceeds %d", total, f.maxFrame())
	}
	return d, total, nil
}

// Stats counts resynchronization work for diagnostics.
type Stats struct {
	Frames             uint64
	WindowsDropped     uint64
	BytesSkipped       uint64
	ValidationFailures uint64
}
