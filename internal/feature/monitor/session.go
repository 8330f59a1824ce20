// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noldarim/boardlink/internal/chunk"
	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/protocol"
	"github.com/noldarim/boardlink/internal/serialport"
)

// Settings tune the read loop of every session.
type Settings struct {
	// ReadTimeout bounds a single port read so that cancellation is noticed.
	ReadTimeout time.Duration
	// ReadSize is the read buffer size.
	ReadSize int
	// Default is used for requests that carry no config.
	Default protocol.MonitorConfig
}

// DefaultSettings are used for zero fields.
func DefaultSettings() Settings {
	return Settings{ReadTimeout: 100 * time.Millisecond, ReadSize: 4096}
}

func (s Settings) defaultConfig() protocol.MonitorConfig {
	if s.Default == (protocol.MonitorConfig{}) {
		return protocol.DefaultMonitorConfig()
	}
	return s.Default.Normalize()
}

func (s Settings) normalize() Settings {
	d := DefaultSettings()
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = d.ReadTimeout
	}
	if s.ReadSize <= 0 {
		s.ReadSize = d.ReadSize
	}
	return s
}

// Session is one open serial port together with its own cancellation
// signal. The engine signal and the session signal both end its read loop.
type Session struct {
	id     string
	config protocol.MonitorConfig
	port   serialport.Port
	signal *engine.Signal
	done   chan struct{}

	mu        sync.Mutex
	running   bool
	stopped   bool
	closeOnce sync.Once
	closeErr  error
}

func newSession(cfg protocol.MonitorConfig, port serialport.Port) *Session {
	return &Session{
		id:     uuid.NewString(),
		config: cfg,
		port:   port,
		signal: engine.NewSignal(),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Config() protocol.MonitorConfig { return s.config }
func (s *Session) Signal() *engine.Signal         { return s.signal }

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%d baud, %s)", s.id, s.config.BaudRate, s.config.Framing)
}

// Write sends bytes to the board.
func (s *Session) Write(data []byte) error {
	if s.signal.Fired() {
		return ErrSessionStopped
	}
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Stop fires the session signal, closes the port and waits for the read
// loop to exit if it was ever started. Safe to call more than once.
func (s *Session) Stop(reason error) error {
	s.mu.Lock()
	s.stopped = true
	running := s.running
	s.mu.Unlock()

	s.signal.Fire(reason)
	err := s.closePort()
	if running {
		<-s.done
	}
	return err
}

func (s *Session) closePort() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

// begin marks the read loop as running unless the session was already
// stopped.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.running = true
	return true
}

// run forwards everything read from the port as InternalReceivedSerialBytes
// until either signal fires. A read error reports the session as dead.
func (s *Session) run(fx engine.Effects, settings Settings) {
	if !s.begin() {
		return
	}
	defer close(s.done)
	defer func() {
		if fx.Signal().Fired() {
			_ = s.closePort()
		}
	}()

	log := getLog().With().Str("session", s.id).Logger()
	settings = settings.normalize()
	if err := s.port.SetReadTimeout(settings.ReadTimeout); err != nil {
		log.Warn().Err(err).Msg("Failed to set serial read timeout")
	}

	var chunker *chunk.MinOSChunker
	if s.config.Framing == protocol.FramingMinOS {
		chunker = chunk.NewMinOSChunker()
	}

	buf := make([]byte, settings.ReadSize)
	log.Debug().Msg("Serial read loop started")
	for {
		n, err := engine.Race(func(_ context.Context) (int, error) {
			return s.port.Read(buf)
		}, fx.Signal(), s.signal)

		if fx.Signal().Fired() || s.signal.Fired() {
			log.Debug().Msg("Serial read loop cancelled")
			return
		}
		if err != nil {
			fx.Post(protocol.InternalSerialMonitorDied{Reason: fmt.Errorf("serial read: %w", err)})
			return
		}
		if n == 0 {
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		if chunker != nil {
			data = s.frame(chunker, data)
			if len(data) == 0 {
				continue
			}
		}
		fx.Post(protocol.InternalReceivedSerialBytes{Data: data})
	}
}

// frame keeps only complete MinOS chunks, re-encoded back to back.
func (s *Session) frame(chunker *chunk.MinOSChunker, data []byte) []byte {
	chunks, err := chunker.Feed(data)
	if err != nil {
		getLog().Warn().Err(err).Str("session", s.id).Msg("Dropped malformed MinOS bytes")
	}
	var out []byte
	for _, c := range chunks {
		encoded, err := c.Encode()
		if err != nil {
			continue
		}
		out = append(out, encoded...)
	}
	return out
}

var (
	ErrNoActiveMonitor = errors.New("no active serial monitor")
	ErrSessionStopped  = errors.New("serial monitor session stopped")
	ErrStopRequested   = errors.New("serial monitor stop requested")
	ErrReconfigured    = errors.New("serial monitor reconfigured")
	ErrSuperseded      = errors.New("serial monitor session superseded")
)
