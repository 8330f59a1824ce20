// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunk implements the MinOS framing used to multiplex typed records
// over a raw serial byte stream.
//
// Each chunk travels as
//
//	0x00 <type> <content, every 0x00 doubled> 0x00 0x01
//
// Type codes 0x00 and 0x01 are reserved because they would be ambiguous
// with the start marker and the terminator.
package chunk

import (
	"errors"
	"fmt"
)

const (
	marker     byte = 0x00
	terminator byte = 0x01

	// MinType is the lowest type code a chunk may carry.
	MinType byte = 0x02
)

var (
	ErrReservedType   = errors.New("chunk type 0x00 and 0x01 are reserved")
	ErrMalformedChunk = errors.New("malformed chunk")
	ErrIncomplete     = errors.New("incomplete chunk")
)

// Chunk is one typed record.
type Chunk struct {
	Type    byte
	Content []byte
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk(type=0x%02x, %d bytes)", c.Type, len(c.Content))
}

// Encode serializes c into its self-delimiting wire form.
func (c Chunk) Encode() ([]byte, error) {
	if c.Type < MinType {
		return nil, fmt.Errorf("encode type 0x%02x: %w", c.Type, ErrReservedType)
	}
	out := make([]byte, 0, len(c.Content)+4)
	out = append(out, marker, c.Type)
	for _, b := range c.Content {
		if b == marker {
			out = append(out, marker, marker)
			continue
		}
		out = append(out, b)
	}
	return append(out, marker, terminator), nil
}

// MustEncode is Encode for chunks whose type is known to be valid.
func (c Chunk) MustEncode() []byte {
	b, err := c.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses exactly one encoded chunk. Trailing bytes after the
// terminator are an error.
func Decode(data []byte) (Chunk, error) {
	c, n, err := scan(data)
	if err != nil {
		return Chunk{}, err
	}
	if n != len(data) {
		return Chunk{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedChunk, len(data)-n)
	}
	return c, nil
}

// scan parses the chunk starting at data[0] and reports how many bytes it
// consumed. ErrIncomplete means data ends before the terminator.
//
// Content is walked left to right in pairs: 0x00 0x00 is an escaped zero
// and 0x00 0x01 is the terminator, so a doubled zero followed by 0x01 in
// the content is never mistaken for the end of the chunk.
func scan(data []byte) (Chunk, int, error) {
	if len(data) < 2 {
		return Chunk{}, 0, ErrIncomplete
	}
	if data[0] != marker {
		return Chunk{}, 0, fmt.Errorf("%w: expected start marker, got 0x%02x", ErrMalformedChunk, data[0])
	}
	typ := data[1]
	if typ < MinType {
		return Chunk{}, 0, fmt.Errorf("%w: %w", ErrMalformedChunk, ErrReservedType)
	}

	content := make([]byte, 0, len(data)-2)
	for i := 2; i < len(data); i++ {
		b := data[i]
		if b != marker {
			content = append(content, b)
			continue
		}
		if i+1 >= len(data) {
			return Chunk{}, 0, ErrIncomplete
		}
		switch data[i+1] {
		case marker:
			content = append(content, marker)
			i++
		case terminator:
			return Chunk{Type: typ, Content: content}, i + 2, nil
		default:
			return Chunk{}, i + 1, fmt.Errorf("%w: unescaped 0x00 before 0x%02x", ErrMalformedChunk, data[i+1])
		}
	}
	return Chunk{}, 0, ErrIncomplete
}
