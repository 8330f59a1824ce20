// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunk

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxPending bounds how many unterminated bytes a MinOSChunker keeps
// between reads.
const DefaultMaxPending = 64 * 1024

// DecodeStream parses every complete chunk in buf and returns the trailing
// bytes that do not yet form a complete chunk. A bad chunk only affects
// itself: its error is collected (joined into err) and scanning resumes at
// the next start marker.
func DecodeStream(buf []byte) (chunks []Chunk, leftover []byte, err error) {
	var errs []error
	pos := 0
	for pos < len(buf) {
		if buf[pos] != marker {
			next := bytes.IndexByte(buf[pos:], marker)
			if next < 0 {
				errs = append(errs, fmt.Errorf("%w: %d bytes outside any chunk", ErrMalformedChunk, len(buf)-pos))
				pos = len(buf)
				break
			}
			errs = append(errs, fmt.Errorf("%w: %d bytes outside any chunk", ErrMalformedChunk, next))
			pos += next
			continue
		}

		c, n, scanErr := scan(buf[pos:])
		switch {
		case scanErr == nil:
			chunks = append(chunks, c)
			pos += n
		case errors.Is(scanErr, ErrIncomplete):
			leftover = append([]byte(nil), buf[pos:]...)
			return chunks, leftover, errors.Join(errs...)
		default:
			errs = append(errs, fmt.Errorf("at offset %d: %w", pos, scanErr))
			if n < 1 {
				n = 1
			}
			pos += n
		}
	}
	return chunks, nil, errors.Join(errs...)
}

// MinOSChunker turns arbitrarily fragmented reads into whole chunks,
// carrying incomplete trailing bytes over to the next Feed.
type MinOSChunker struct {
	pending    []byte
	maxPending int
}

// NewMinOSChunker creates a chunker with the default pending limit.
func NewMinOSChunker() *MinOSChunker {
	return &MinOSChunker{maxPending: DefaultMaxPending}
}

// Feed appends data to the pending bytes and returns every chunk completed
// by it. If the pending bytes outgrow the limit without a terminator they
// are discarded and reported as an error.
func (m *MinOSChunker) Feed(data []byte) ([]Chunk, error) {
	buf := append(m.pending, data...)
	chunks, leftover, err := DecodeStream(buf)
	if m.maxPending > 0 && len(leftover) > m.maxPending {
		err = errors.Join(err, fmt.Errorf("%w: discarded %d unterminated bytes", ErrMalformedChunk, len(leftover)))
		leftover = nil
	}
	m.pending = leftover
	return chunks, err
}

// Pending returns how many bytes are waiting for the rest of a chunk.
func (m *MinOSChunker) Pending() int {
	return len(m.pending)
}

// Reset drops any pending bytes.
func (m *MinOSChunker) Reset() {
	m.pending = nil
}
