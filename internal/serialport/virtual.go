// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package serialport

import (
	"sync"
	"time"
)

// Virtual is an in-memory serial port. The board side injects bytes with
// Inject and observes writes through the OnWrite callback.
type Virtual struct {
	mu          sync.Mutex
	buf         []byte
	readTimeout time.Duration
	closed      bool

	notify chan struct{}
	done   chan struct{}

	onWrite func([]byte)
}

// VirtualOption configures a Virtual port.
type VirtualOption func(*Virtual)

// WithOnWrite registers fn to receive a copy of every write.
func WithOnWrite(fn func([]byte)) VirtualOption {
	return func(v *Virtual) { v.onWrite = fn }
}

// NewVirtual creates an open virtual port. Reads block until data arrives
// unless a read timeout is set.
func NewVirtual(opts ...VirtualOption) *Virtual {
	v := &Virtual{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Inject makes data readable from the port.
func (v *Virtual) Inject(data []byte) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrPortClosed
	}
	v.buf = append(v.buf, data...)
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
	return nil
}

func (v *Virtual) Read(p []byte) (int, error) {
	var timeout <-chan time.Time
	for {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return 0, ErrPortClosed
		}
		if len(v.buf) > 0 {
			n := copy(p, v.buf)
			v.buf = v.buf[n:]
			more := len(v.buf) > 0
			v.mu.Unlock()
			if more {
				select {
				case v.notify <- struct{}{}:
				default:
				}
			}
			return n, nil
		}
		if timeout == nil && v.readTimeout > 0 {
			timeout = time.After(v.readTimeout)
		}
		v.mu.Unlock()

		select {
		case <-v.notify:
		case <-v.done:
		case <-timeout:
			return 0, nil
		}
	}
}

func (v *Virtual) Write(p []byte) (int, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return 0, ErrPortClosed
	}
	if v.onWrite != nil {
		v.onWrite(append([]byte(nil), p...))
	}
	return len(p), nil
}

// SetReadTimeout bounds how long Read waits for data. Zero waits forever.
func (v *Virtual) SetReadTimeout(t time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.readTimeout = t
	return nil
}

// Close unblocks pending reads. Closing twice is a no-op.
func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	close(v.done)
	return nil
}

// Done is closed once the port is closed.
func (v *Virtual) Done() <-chan struct{} {
	return v.done
}
