// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"io"

	"github.com/ffutop/bms-gateway/queue"
)

// readBufferSize covers a burst of several BMS frames.
const readBufferSize = 512

// ReadLoop copies everything read from r into q until r fails with an error
// for which retry returns false. A nil retry stops on the first error.
// io.EOF is returned as is.
func ReadLoop(r io.Reader, q *queue.Queue, retry func(error) bool) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			q.Write(buf[:n])
		}
		if err != nil {
			if retry != nil && retry(err) {
				continue
			}
			return err
		}
	}
}
