// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package exchange

import (
	"errors"
	"fmt"
)

// Receive outcomes a Link reports by wrapping one of these.
var (
	ErrNoFrame      = errors.New("exchange: no frame received")
	ErrInvalidFrame = errors.New("exchange: invalid frame")
)

// Terminal outcomes. The port owner is expected to reset the port.
var (
	ErrNoDataAvailable      = errors.New("exchange: no data available")
	ErrTooManyInvalidFrames = errors.New("exchange: too many invalid frames")
	ErrIncompleteExchange   = errors.New("exchange: incomplete exchange")
)

// Kind is the category of a terminal exchange failure.
type Kind int

const (
	KindNoData Kind = iota + 1
	KindTooManyInvalid
	KindIncomplete
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "no data available"
	case KindTooManyInvalid:
		return "too many invalid frames"
	case KindIncomplete:
		return "incomplete exchange"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNoData:
		return ErrNoDataAvailable
	case KindTooManyInvalid:
		return ErrTooManyInvalidFrames
	default:
		return ErrIncompleteExchange
	}
}

// Error is a threshold-exceeded failure of one exchange.
type Error struct {
	Kind     Kind
	Request  string
	Round    int
	Expected int
	Received int
	NoData   int
	Invalid  int
	// Last is the receive error that crossed the threshold, if any.
	Last error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("exchange: %s: request %q round %d received %d/%d frames (no data %d, invalid %d)",
		e.Kind, e.Request, e.Round, e.Received, e.Expected, e.NoData, e.Invalid)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

// Unwrap returns the sentinel matching Kind, so errors.Is(err,
// ErrNoDataAvailable) works on an *Error.
func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}

// IsTerminal reports whether err carries a threshold-exceeded failure.
func IsTerminal(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
