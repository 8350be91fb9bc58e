// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package exchange

import "time"

// Config holds the thresholds of a Session.
type Config struct {
	// MaxInvalidFrames is the number of invalid frames, counted over the
	// whole exchange, that fails it.
	MaxInvalidFrames int
	// MaxNoData is the number of consecutive empty receives that fails the
	// exchange. Any received frame resets the count.
	MaxNoData int
	// MaxRounds bounds how often the request is sent.
	MaxRounds int
	// MaxUnmatched ends a round after that many foreign frames.
	MaxUnmatched   int
	ReceiveTimeout time.Duration
	// ResendOnNoData ends the round on an empty receive instead of waiting
	// again for the same response.
	ResendOnNoData bool
	// A zero InitialDelay disables the backoff sleep.
	Backoff BackoffConfig
}

// DefaultConfig returns the thresholds used when a port does not override
// them.
func DefaultConfig() Config {
	return Config{
		MaxInvalidFrames: 3,
		MaxNoData:        10,
		MaxRounds:        1,
		MaxUnmatched:     16,
		ReceiveTimeout:   time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
		},
	}
}

// normalize fills zero thresholds from DefaultConfig. Backoff is left as is.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxInvalidFrames <= 0 {
		c.MaxInvalidFrames = def.MaxInvalidFrames
	}
	if c.MaxNoData <= 0 {
		c.MaxNoData = def.MaxNoData
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}
	if c.MaxUnmatched <= 0 {
		c.MaxUnmatched = def.MaxUnmatched
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = def.ReceiveTimeout
	}
	return c
}
