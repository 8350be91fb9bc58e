// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/binary"
	"fmt"
)

type span struct {
	kind   Kind
	offset int
	width  int
}

// layout resolves the byte position of every field against buf and returns
// the total frame length. buf only needs to cover the length field.
func (d *Descriptor) layout(buf []byte) ([]span, int, error) {
	spans := make([]span, 0, len(d.fields))
	cursor := 0
	dataLength := -1
	deferred := -1

	for _, f := range d.fields {
		switch f.Kind {
		case KindLength:
			if len(buf) < cursor+f.Width {
				return nil, 0, fmt.Errorf("%w: need %d bytes to read length, have %d", ErrFrameTooShort, cursor+f.Width, len(buf))
			}
			raw := buf[cursor : cursor+f.Width]
			var v uint32
			switch f.Width {
			case 1:
				v = uint32(raw[0])
			case 2:
				v = uint32(binary.BigEndian.Uint16(raw))
			case 4:
				v = binary.BigEndian.Uint32(raw)
			}
			dataLength = int(v) + f.Adjust
			if dataLength < 0 {
				return nil, 0, fmt.Errorf("%w: adjusted data length %d", ErrFrameTooShort, dataLength)
			}
			spans = append(spans, span{f.Kind, cursor, f.Width})
			cursor += f.Width
		case KindData:
			if dataLength < 0 {
				spans = append(spans, span{f.Kind, cursor, f.Width})
				cursor += f.Width
				continue
			}
			// The data position is known but its width only extends the
			// total, so the cursor stays put and later fields shift below.
			deferred = len(spans)
			spans = append(spans, span{f.Kind, cursor, dataLength})
		default:
			spans = append(spans, span{f.Kind, cursor, f.Width})
			cursor += f.Width
		}
	}

	total := cursor
	if deferred >= 0 {
		total += dataLength
		for i := deferred + 1; i < len(spans); i++ {
			spans[i].offset += dataLength
		}
	}
	if total <= 0 {
		return nil, 0, fmt.Errorf("%w: computed length %d", ErrFrameTooShort, total)
	}
	return spans, total, nil
}

// Length returns the total frame length described by the leading bytes of
// buf.
func (d *Descriptor) Length(buf []byte) (int, error) {
	_, total, err := d.layout(buf)
	return total, err
}

// Parse cuts one frame from the head of buf. When buf holds fewer bytes than
// the frame needs, ErrFrameTooShort is returned and the caller should wait
// for more input.
func (d *Descriptor) Parse(buf []byte) (Frame, error) {
	spans, total, err := d.layout(buf)
	if err != nil {
		return Frame{}, err
	}
	if len(buf) < total {
		return Frame{}, fmt.Errorf("%w: need %d bytes, have %d", ErrFrameTooShort, total, len(buf))
	}
	raw := make([]byte, total)
	copy(raw, buf)
	return Frame{Raw: raw, spans: spans}, nil
}

// Frame is one complete frame. It owns Raw.
type Frame struct {
	Raw   []byte
	spans []span
}

// Bytes returns the raw frame bytes.
func (f Frame) Bytes() []byte {
	return f.Raw
}

// Len returns the frame length.
func (f Frame) Len() int {
	return len(f.Raw)
}

// Field returns the bytes of the first field of the given kind, or nil.
func (f Frame) Field(kind Kind) []byte {
	for _, s := range f.spans {
		if s.kind == kind {
			return f.Raw[s.offset : s.offset+s.width]
		}
	}
	return nil
}

// Data returns the first data field.
func (f Frame) Data() []byte {
	return f.Field(KindData)
}

// Address returns the address field as a big-endian integer.
func (f Frame) Address() uint64 {
	return beUint(f.Field(KindAddress))
}

// Command returns the command field as a big-endian integer.
func (f Frame) Command() uint64 {
	return beUint(f.Field(KindCommand))
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
