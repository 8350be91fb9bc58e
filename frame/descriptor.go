// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package frame describes frame layouts with a compact pattern language and
// cuts frames out of byte buffers according to those layouts.
//
// Pattern letters:
//
//	S  start flag
//	C  command
//	L  length (1, 2 or 4 bytes, big-endian), optionally followed by (±N)
//	A  address
//	D  data
//	V  checksum / verify
//	O  other / reserved
//
// Repeating a letter widens the field by one byte. "SACLD" is a one byte
// start, address, command and length followed by data sized by the length
// byte. "SACDDDDDDDD" is a fixed 11 byte frame.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPattern = errors.New("frame: invalid pattern")
	ErrFrameTooShort  = errors.New("frame: frame too short")
)

// Kind identifies the role of a field. Its value is the pattern letter.
type Kind byte

const (
	KindStart    Kind = 'S'
	KindCommand  Kind = 'C'
	KindLength   Kind = 'L'
	KindAddress  Kind = 'A'
	KindData     Kind = 'D'
	KindChecksum Kind = 'V'
	KindOther    Kind = 'O'
)

var kindNames = map[Kind]string{
	KindStart:    "start",
	KindCommand:  "command",
	KindLength:   "length",
	KindAddress:  "address",
	KindData:     "data",
	KindChecksum: "checksum",
	KindOther:    "other",
}

// Valid reports whether k is one of the seven field kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%q)", byte(k))
}

// Field is a run of consecutive bytes of the same kind.
type Field struct {
	Kind  Kind
	Width int
	// Adjust is added to the decoded value of a length field.
	Adjust int
}

// Descriptor is an immutable frame layout.
type Descriptor struct {
	fields  []Field
	pattern string
	dynamic bool
}

// ParsePattern builds a Descriptor from a pattern string.
func ParsePattern(pattern string) (*Descriptor, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	var fields []Field
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		if c == '(' {
			end := strings.IndexByte(pattern[i:], ')')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated adjustment at offset %d", ErrInvalidPattern, i)
			}
			if len(fields) == 0 || fields[len(fields)-1].Kind != KindLength {
				return nil, fmt.Errorf("%w: adjustment at offset %d does not follow a length field", ErrInvalidPattern, i)
			}
			adjust, err := strconv.Atoi(pattern[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("%w: bad adjustment %q", ErrInvalidPattern, pattern[i+1:i+end])
			}
			fields[len(fields)-1].Adjust = adjust
			i += end
			continue
		}

		kind := Kind(c)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown field letter %q at offset %d", ErrInvalidPattern, c, i)
		}
		// an adjustment closes its run
		if n := len(fields); n > 0 && fields[n-1].Kind == kind && pattern[i-1] != ')' {
			fields[n-1].Width++
			continue
		}
		fields = append(fields, Field{Kind: kind, Width: 1})
	}

	d := &Descriptor{fields: fields}
	if err := d.check(); err != nil {
		return nil, err
	}
	d.pattern = d.render()
	return d, nil
}

// MustParsePattern is like ParsePattern but panics on error. It is meant for
// package-level layout tables.
func MustParsePattern(pattern string) *Descriptor {
	d, err := ParsePattern(pattern)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) check() error {
	lengths, datas := 0, 0
	for _, f := range d.fields {
		switch f.Kind {
		case KindLength:
			lengths++
			if f.Width != 1 && f.Width != 2 && f.Width != 4 {
				return fmt.Errorf("%w: length field width %d not in {1,2,4}", ErrInvalidPattern, f.Width)
			}
		case KindData:
			if lengths > 0 {
				datas++
			} else if d.hasLength() {
				return fmt.Errorf("%w: data field precedes length field", ErrInvalidPattern)
			}
		}
	}
	if lengths > 1 {
		return fmt.Errorf("%w: %d length fields", ErrInvalidPattern, lengths)
	}
	if lengths == 1 {
		if datas > 1 {
			return fmt.Errorf("%w: %d data fields with a length field", ErrInvalidPattern, datas)
		}
		d.dynamic = true
	}
	return nil
}

func (d *Descriptor) hasLength() bool {
	for _, f := range d.fields {
		if f.Kind == KindLength {
			return true
		}
	}
	return false
}

func (d *Descriptor) render() string {
	var sb strings.Builder
	for _, f := range d.fields {
		sb.WriteString(strings.Repeat(string(rune(f.Kind)), f.Width))
		if f.Adjust != 0 {
			fmt.Fprintf(&sb, "(%+d)", f.Adjust)
		}
	}
	return sb.String()
}

// String returns the canonical pattern of the descriptor.
func (d *Descriptor) String() string {
	return d.pattern
}

// Fields returns a copy of the field list.
func (d *Descriptor) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Dynamic reports whether the data width comes from a length field.
func (d *Descriptor) Dynamic() bool {
	return d.dynamic
}

// FixedLength returns the total frame length of a descriptor without a
// length field.
func (d *Descriptor) FixedLength() (int, bool) {
	if d.dynamic {
		return 0, false
	}
	n := 0
	for _, f := range d.fields {
		n += f.Width
	}
	return n, true
}

// HeaderLength is the number of leading bytes needed before Length can
// resolve the total size: the fixed length, or the offset just past the
// length field.
func (d *Descriptor) HeaderLength() int {
	if n, ok := d.FixedLength(); ok {
		return n
	}
	n := 0
	for _, f := range d.fields {
		n += f.Width
		if f.Kind == KindLength {
			break
		}
	}
	return n
}
