// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package stream

import (
	"context"
	"io"

	"github.com/ffutop/bms-gateway/frame"
	"github.com/ffutop/bms-gateway/queue"
)

// Link joins a port writer with the queue its reader fills. It implements
// exchange.Link.
type Link struct {
	w    io.Writer
	q    *queue.Queue
	sync *Synchronizer
}

// NewLink creates a Link writing requests to w and cutting responses from q.
func NewLink(w io.Writer, q *queue.Queue, framing Framing) (*Link, error) {
	s, err := NewSynchronizer(q, framing)
	if err != nil {
		return nil, err
	}
	return &Link{w: w, q: q, sync: s}, nil
}

// Send discards stale input and writes p.
func (l *Link) Send(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.q.Clear()
	l.sync.Reset()
	_, err := l.w.Write(p)
	return err
}

// Receive returns the next validated frame before ctx expires. When the
// caller's own context is canceled, rather than a receive deadline, the
// context error is returned unchanged.
func (l *Link) Receive(ctx context.Context) (frame.Frame, error) {
	f, err := l.sync.Next(ctx)
	if err != nil && ctx.Err() == context.Canceled {
		return frame.Frame{}, ctx.Err()
	}
	return f, err
}

// Stats returns the synchronizer counters.
func (l *Link) Stats() Stats {
	return l.sync.Stats()
}
