// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Type codes of the MinOS records.
const (
	TypeLED           byte = 0x02
	TypeIndexedButton byte = 0x03
	TypeSwitch        byte = 0x04
	TypeText          byte = 0x05
	TypeDisplay       byte = 0x06
)

var ErrUnknownType = errors.New("unknown record type")

// Value8 is an 8-bit value whose bits map to individual peripherals
// (LED 0 is bit 0, and so on).
type Value8 uint8

// Bit reports whether bit i (0..7) is set.
func (v Value8) Bit(i int) bool {
	return i >= 0 && i < 8 && v&(1<<uint(i)) != 0
}

// Set returns v with bit i set to on.
func (v Value8) Set(i int, on bool) Value8 {
	if i < 0 || i >= 8 {
		return v
	}
	if on {
		return v | 1<<uint(i)
	}
	return v &^ (1 << uint(i))
}

// Toggle returns v with bit i flipped.
func (v Value8) Toggle(i int) Value8 {
	if i < 0 || i >= 8 {
		return v
	}
	return v ^ 1<<uint(i)
}

// Bits expands v, least significant bit first.
func (v Value8) Bits() [8]bool {
	var out [8]bool
	for i := range out {
		out[i] = v.Bit(i)
	}
	return out
}

// Count returns the number of set bits.
func (v Value8) Count() int {
	n := 0
	for i := 0; i < 8; i++ {
		if v.Bit(i) {
			n++
		}
	}
	return n
}

// String renders v most significant bit first, e.g. 0b00000101.
func (v Value8) String() string {
	var b strings.Builder
	b.WriteString("0b")
	for i := 7; i >= 0; i-- {
		if v.Bit(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Record is a typed view of a chunk.
type Record interface {
	Type() byte
	Chunk() Chunk
}

// LED sets the state of up to eight LEDs at once.
type LED struct {
	Mask Value8
}

func (LED) Type() byte     { return TypeLED }
func (r LED) Chunk() Chunk { return Chunk{Type: TypeLED, Content: []byte{byte(r.Mask)}} }

// IndexedButton reports a press or release of one button.
type IndexedButton struct {
	Index   byte
	Pressed bool
}

func (IndexedButton) Type() byte { return TypeIndexedButton }
func (r IndexedButton) Chunk() Chunk {
	var pressed byte
	if r.Pressed {
		pressed = 1
	}
	return Chunk{Type: TypeIndexedButton, Content: []byte{r.Index, pressed}}
}

// Switch reports the position of up to eight switches.
type Switch struct {
	Mask Value8
}

func (Switch) Type() byte     { return TypeSwitch }
func (r Switch) Chunk() Chunk { return Chunk{Type: TypeSwitch, Content: []byte{byte(r.Mask)}} }

// Text carries a UTF-8 message.
type Text struct {
	Text string
}

func (Text) Type() byte     { return TypeText }
func (r Text) Chunk() Chunk { return Chunk{Type: TypeText, Content: []byte(r.Text)} }

// Display sets the segments of one seven-segment digit (bit 7 is the dot).
type Display struct {
	Index    byte
	Segments Value8
}

func (Display) Type() byte { return TypeDisplay }
func (r Display) Chunk() Chunk {
	return Chunk{Type: TypeDisplay, Content: []byte{r.Index, byte(r.Segments)}}
}

// Parse maps a chunk to its typed record.
func Parse(c Chunk) (Record, error) {
	switch c.Type {
	case TypeLED:
		if err := wantLen(c, 1); err != nil {
			return nil, err
		}
		return LED{Mask: Value8(c.Content[0])}, nil
	case TypeIndexedButton:
		if err := wantLen(c, 2); err != nil {
			return nil, err
		}
		return IndexedButton{Index: c.Content[0], Pressed: c.Content[1] != 0}, nil
	case TypeSwitch:
		if err := wantLen(c, 1); err != nil {
			return nil, err
		}
		return Switch{Mask: Value8(c.Content[0])}, nil
	case TypeText:
		if !utf8.Valid(c.Content) {
			return nil, fmt.Errorf("%w: text record is not valid UTF-8", ErrMalformedChunk)
		}
		return Text{Text: string(c.Content)}, nil
	case TypeDisplay:
		if err := wantLen(c, 2); err != nil {
			return nil, err
		}
		return Display{Index: c.Content[0], Segments: Value8(c.Content[1])}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, c.Type)
	}
}

func wantLen(c Chunk, n int) error {
	if len(c.Content) != n {
		return fmt.Errorf("%w: type 0x%02x wants %d content bytes, got %d", ErrMalformedChunk, c.Type, n, len(c.Content))
	}
	return nil
}

// EncodeRecord is shorthand for r.Chunk().Encode(). Record types always use
// valid type codes, so it never fails.
func EncodeRecord(r Record) []byte {
	return r.Chunk().MustEncode()
}
