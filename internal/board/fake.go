// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package board

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/noldarim/boardlink/internal/chunk"
	"github.com/noldarim/boardlink/internal/protocol"
	"github.com/noldarim/boardlink/internal/serialport"
)

const KindFake = "fake"

// Fake is a board without hardware. Uploads only check that the file
// exists and the serial port is a virtual one that chatters on a ticker.
type Fake struct {
	tick    time.Duration
	onWrite func([]byte)

	mu      sync.Mutex
	port    *serialport.Virtual
	opens   int
	uploads []string
}

type FakeOption func(*Fake)

// WithTick makes every opened port emit a line (raw framing) or a text
// record (MinOS framing) each d. Zero disables it.
func WithTick(d time.Duration) FakeOption {
	return func(f *Fake) { f.tick = d }
}

// WithWriteSink receives every byte string the client writes to the board.
func WithWriteSink(fn func([]byte)) FakeOption {
	return func(f *Fake) { f.onWrite = fn }
}

func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) Kind() string { return KindFake }

func (f *Fake) Upload(ctx context.Context, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("fake upload: %w", err)
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, filePath)
	f.mu.Unlock()
	getLog().Info().Str("path", filePath).Msg("Fake board flashed")
	return nil
}

// Uploads lists the files flashed so far.
func (f *Fake) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *Fake) OpenPort(_ string, cfg protocol.MonitorConfig) (serialport.Port, error) {
	v := serialport.NewVirtual(serialport.WithOnWrite(f.written))

	f.mu.Lock()
	f.port = v
	f.opens++
	f.mu.Unlock()

	if f.tick > 0 {
		go f.chatter(v, cfg.Normalize().Framing)
	}
	return v, nil
}

// Opens counts the ports opened so far.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Inject makes data readable on the most recently opened port.
func (f *Fake) Inject(data []byte) error {
	f.mu.Lock()
	v := f.port
	f.mu.Unlock()
	if v == nil {
		return serialport.ErrPortClosed
	}
	return v.Inject(data)
}

func (f *Fake) written(data []byte) {
	if f.onWrite != nil {
		f.onWrite(data)
	}
}

func (f *Fake) chatter(v *serialport.Virtual, framing protocol.Framing) {
	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()

	for count := 0; ; count++ {
		select {
		case <-ticker.C:
			line := fmt.Sprintf("fake board tick %d", count)
			var data []byte
			if framing == protocol.FramingMinOS {
				data = chunk.EncodeRecord(chunk.Text{Text: line})
			} else {
				data = []byte(line + "\r\n")
			}
			if err := v.Inject(data); err != nil {
				return
			}
		case <-v.Done():
			return
		}
	}
}
