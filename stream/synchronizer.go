// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package stream

import (
	"bytes"
	"context"

	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/queue"
)

// Synchronizer cuts validated frames from a queue fed by a port reader.
//
// Bytes taken from the queue are kept in buf until they are emitted as part
// of a frame or discarded as garbage, so a false start never causes bytes to
// be read twice or lost.
type Synchronizer struct {
	src     *queue.Queue
	framing Framing
	buf     []byte
	stats   Stats
}

// NewSynchronizer creates a Synchronizer reading from src.
func NewSynchronizer(src *queue.Queue, framing Framing) (*Synchronizer, error) {
	if err := framing.check(); err != nil {
		return nil, err
	}
	return &Synchronizer{src: src, framing: framing}, nil
}

// Stats returns the counters accumulated so far.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Reset drops bytes held from previous reads.
func (s *Synchronizer) Reset() {
	s.buf = nil
}

// fill blocks until buf holds at least n bytes.
func (s *Synchronizer) fill(ctx context.Context, n int) error {
	if len(s.buf) >= n {
		return nil
	}
	more, err := s.src.ReadContext(ctx, n-len(s.buf))
	if err != nil {
		return err
	}
	s.buf = append(s.buf, more...)
	return nil
}

// Next returns the next validated frame.
//
// The window is the descriptor's header length. A window without the start
// byte is dropped whole. A start found at offset k shifts the window by k
// and refills k bytes. A window that starts correctly is sized, completed
// and validated; on failure the scan resumes one byte past the false start
// over the bytes already held. A candidate still incomplete at the deadline
// counts as a failure too.
func (s *Synchronizer) Next(ctx context.Context) (frame.Frame, error) {
	window := s.framing.window()
	seen := len(s.buf) > 0

	for {
		if err := s.fill(ctx, window); err != nil {
			return frame.Frame{}, s.expired(seen)
		}
		seen = true

		k := bytes.IndexByte(s.buf, s.framing.Start)
		switch {
		case k < 0:
			s.stats.WindowsDropped++
			s.stats.BytesSkipped += uint64(len(s.buf))
			s.buf = s.buf[:0]
			continue
		case k > 0:
			s.stats.BytesSkipped += uint64(k)
			s.buf = s.buf[k:]
			continue
		}

		d, total, err := s.framing.describe(s.buf[:window])
		if err == nil {
			if err := s.fill(ctx, total); err != nil {
				// a header announcing more than arrives is a false start;
				// the next call rescans from the byte after it
				s.skipStart()
				return frame.Frame{}, ErrResyncFailed
			}
			candidate := s.buf[:total]
			if s.framing.Validate == nil || s.framing.Validate(candidate) {
				f, err := d.Parse(candidate)
				if err == nil {
					s.stats.Frames++
					s.consume(total)
					return f, nil
				}
			}
		}

		s.skipStart()
	}
}

// skipStart discards the start byte of a candidate that failed.
func (s *Synchronizer) skipStart() {
	s.stats.ValidationFailures++
	s.stats.BytesSkipped++
	s.buf = s.buf[1:]
}

// consume drops the first n held bytes, compacting the remainder.
func (s *Synchronizer) consume(n int) {
	rest := len(s.buf) - n
	copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}

// expired classifies a deadline: nothing seen is no data, anything else is
// a frame that never completed.
func (s *Synchronizer) expired(seen bool) error {
	if !seen && s.src.Len() == 0 {
		return ErrNoData
	}
	return ErrResyncFailed
}
