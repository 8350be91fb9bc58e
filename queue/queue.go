// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package queue implements the byte queue sitting between a port reader
// goroutine (producer) and the polling loop (consumer).
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoBytesAvailable is returned by ReadByte on an empty queue.
	// It is a normal "wait for more input" signal, not a failure.
	ErrNoBytesAvailable = errors.New("queue: no bytes available")
	// ErrNotEnoughBytes is returned by Read when fewer than n bytes are buffered.
	ErrNotEnoughBytes = errors.New("queue: not enough bytes")
)

// Queue is a FIFO of byte chunks. It is safe for one producer and one
// consumer operating concurrently.
type Queue struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int

	// notify carries at most one pending "bytes arrived" signal.
	notify chan struct{}
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Write appends a copy of p as a new chunk. It never blocks and never fails.
func (q *Queue) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)

	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	q.size += len(chunk)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// ReadByte pops the oldest byte.
func (q *Queue) ReadByte() (byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return 0, ErrNoBytesAvailable
	}
	head := q.chunks[0]
	b := head[0]
	if len(head) == 1 {
		q.chunks[0] = nil
		q.chunks = q.chunks[1:]
	} else {
		q.chunks[0] = head[1:]
	}
	q.size--
	return b, nil
}

// Read removes exactly n bytes from the head of the queue. When fewer than n
// bytes are buffered it returns ErrNotEnoughBytes and leaves the queue
// untouched.
func (q *Queue) Read(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size < n {
		return nil, ErrNotEnoughBytes
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		head := q.chunks[0]
		need := n - len(out)
		if len(head) <= need {
			out = append(out, head...)
			q.chunks[0] = nil
			q.chunks = q.chunks[1:]
			continue
		}
		out = append(out, head[:need]...)
		q.chunks[0] = head[need:]
	}
	q.size -= n
	return out, nil
}

// ReadContext blocks until n bytes can be read or ctx is done. On ctx
// expiry the queue is left unchanged.
func (q *Queue) ReadContext(ctx context.Context, n int) ([]byte, error) {
	for {
		data, err := q.Read(n)
		if err == nil {
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of buffered bytes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Clear drops every buffered chunk.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.chunks = nil
	q.size = 0
	q.mu.Unlock()
}
