// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package exchange runs request/response cycles against a device: send a
// request, collect N matching frames, absorb transient failures up to
// configured thresholds and escalate to typed terminal errors beyond them.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/internal/logging"
	"go.uber.org/zap"
)

// Link is the framed view of one port.
type Link interface {
	// Send writes a request. Stale buffered input is discarded first.
	Send(ctx context.Context, p []byte) error
	// Receive returns the next validated frame. It reports an empty read
	// by wrapping ErrNoFrame and a corrupt one by wrapping ErrInvalidFrame.
	Receive(ctx context.Context) (frame.Frame, error)
}

// Request is one exchange as an adapter describes it.
type Request struct {
	Name string
	// Frame is written before each round. Empty means the device
	// broadcasts on its own and nothing is sent.
	Frame []byte
	// Expect is the number of matching frames that complete the exchange.
	Expect int
	// Match accepts frames belonging to this request. Nil accepts all.
	Match func(frame.Frame) bool
}

// Round is the state of one send/collect cycle.
type Round struct {
	Number   int
	Expected int
	Received int
	NoData   int
	Invalid  int
}

// Session runs exchanges over a Link. A Session is used by one poll loop
// at a time.
type Session struct {
	link Link
	cfg  Config
	rng  *rand.Rand

	// Dispatch receives valid frames that do not match the outstanding
	// request, e.g. unsolicited broadcasts.
	Dispatch func(frame.Frame)
	Logger   *zap.Logger
}

// NewSession creates a Session. Zero thresholds in cfg take their defaults.
func NewSession(link Link, cfg Config) *Session {
	return &Session{
		link: link,
		cfg:  cfg.normalize(),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Config returns the effective thresholds.
func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Named("exchange")
}

// Exchange sends req and returns the Expect matching frames in arrival
// order. Threshold violations return an *Error; a send or receive failure
// of the link itself is returned wrapped as is.
func (s *Session) Exchange(ctx context.Context, req Request) ([]frame.Frame, error) {
	expect := req.Expect
	if expect <= 0 {
		expect = 1
	}
	log := s.logger().With(zap.String("request", req.Name))

	var (
		frames  []frame.Frame
		noData  int // consecutive
		invalid int // whole exchange
		round   Round
	)

	fail := func(kind Kind, last error) error {
		return &Error{
			Kind:     kind,
			Request:  req.Name,
			Round:    round.Number,
			Expected: expect,
			Received: round.Received,
			NoData:   noData,
			Invalid:  invalid,
			Last:     last,
		}
	}

	for r := 1; r <= s.cfg.MaxRounds; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		round = Round{Number: r, Expected: expect}
		frames = frames[:0]

		if len(req.Frame) > 0 {
			if err := s.link.Send(ctx, req.Frame); err != nil {
				return nil, fmt.Errorf("exchange: send %q: %w", req.Name, err)
			}
			log.Debug("request sent", zap.Int("round", r), logging.Hex("frame", req.Frame))
		}

		attempt, unmatched := 0, 0
	collect:
		for round.Received < expect {
			rctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiveTimeout)
			f, err := s.link.Receive(rctx)
			cancel()

			switch {
			case err == nil:
				noData, attempt = 0, 0
				if req.Match == nil || req.Match(f) {
					frames = append(frames, f)
					round.Received++
					continue
				}
				unmatched++
				log.Debug("unmatched frame", zap.Int("round", r), logging.Hex("frame", f.Bytes()))
				if s.Dispatch != nil {
					s.Dispatch(f)
				}
				if unmatched > s.cfg.MaxUnmatched {
					log.Warn("too many unmatched frames, ending round", zap.Int("round", r), zap.Int("unmatched", unmatched))
					break collect
				}
				continue

			case ctx.Err() != nil:
				return nil, ctx.Err()

			case errors.Is(err, ErrNoFrame):
				noData++
				round.NoData++
				if noData >= s.cfg.MaxNoData {
					return nil, fail(KindNoData, err)
				}
				log.Warn("no data received", zap.Int("round", r), zap.Int("count", noData))
				if s.cfg.ResendOnNoData {
					break collect
				}

			case errors.Is(err, ErrInvalidFrame):
				invalid++
				round.Invalid++
				if invalid >= s.cfg.MaxInvalidFrames {
					return nil, fail(KindTooManyInvalid, err)
				}
				log.Warn("invalid frame received", zap.Int("round", r), zap.Int("count", invalid), zap.Error(err))

			default:
				return nil, fmt.Errorf("exchange: receive %q: %w", req.Name, err)
			}

			attempt++
			if err := sleep(ctx, NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)); err != nil {
				return nil, err
			}
		}

		if round.Received == expect {
			return frames, nil
		}
	}
	return nil, fail(KindIncomplete, nil)
}
