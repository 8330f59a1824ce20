// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package monitor streams a board serial port to the control server.
//
// The feature moves between idle, starting, active and stopping. Messages
// are checked against the state they were projected with, but the final
// say belongs to the event projection: a session that opens after the
// request that caused it was superseded is closed again instead of being
// installed.
//
// At most one port open is in flight. A request arriving while one is
// pending waits for it to resolve, and for a superseded port to be closed,
// before its own open starts.
package monitor

import (
	"sync"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/feature/lifecycle"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"
	"github.com/noldarim/boardlink/internal/serialport"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetMonitorLogger()
		log = &l
	})
	return log
}

const Name = "monitor"

type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
)

// State is the monitor part of a board state. Config is the requested
// config while starting and the session config while active.
type State struct {
	Status  Status                 `json:"status"`
	Config  protocol.MonitorConfig `json:"config"`
	Session *Session               `json:"-"`

	// opening is set while a port open is in flight or its superseded
	// port has not been closed yet.
	opening bool
}

// SessionID returns the id of the open session, or "".
func (s State) SessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.ID()
}

func (s State) idle() bool {
	return s.Status == "" || s.Status == StatusIdle
}

// accepts reports whether an opened session is the one the state waits for.
func (s State) accepts(cfg protocol.MonitorConfig) bool {
	return s.Status == StatusStarting && s.Config == cfg
}

// Opener opens the board serial port.
type Opener interface {
	OpenPort(device string, cfg protocol.MonitorConfig) (serialport.Port, error)
}

type Holder[S any] interface {
	Monitor() State
	WithMonitor(State) S
	Device() string
	Opener() Opener
	MonitorSettings() Settings
}

// Events

type AboutToStart struct {
	Config protocol.MonitorConfig
}

type AlreadyConfigured struct {
	Config protocol.MonitorConfig
}

type Start struct {
	Config protocol.MonitorConfig
	Device string
}

type StartSucceeded struct {
	Session *Session
}

type StartFailed struct {
	Config protocol.MonitorConfig
	Reason error
}

// Discarded follows the close of a port opened for a superseded request.
type Discarded struct {
	Config protocol.MonitorConfig
}

type ReceivedBytes struct {
	Data []byte
}

type SendingBytes struct {
	Data []byte
}

type Died struct {
	Reason error
}

type Stopping struct {
	Reason error
}

type Stopped struct {
	Session protocol.Session
}

// NotRunning answers a stop or write request when no monitor exists.
type NotRunning struct {
	Reason error
}

func (AboutToStart) EventName() string      { return "monitor.about_to_start" }
func (AlreadyConfigured) EventName() string { return "monitor.already_configured" }
func (Start) EventName() string             { return "monitor.start" }
func (StartSucceeded) EventName() string    { return "monitor.start_succeeded" }
func (StartFailed) EventName() string       { return "monitor.start_failed" }
func (Discarded) EventName() string         { return "monitor.discarded" }
func (ReceivedBytes) EventName() string     { return "monitor.received_bytes" }
func (SendingBytes) EventName() string      { return "monitor.sending_bytes" }
func (Died) EventName() string              { return "monitor.died" }
func (Stopping) EventName() string          { return "monitor.stopping" }
func (Stopped) EventName() string           { return "monitor.stopped" }
func (NotRunning) EventName() string        { return "monitor.not_running" }

type Feature[S Holder[S]] struct{}

func New[S Holder[S]]() Feature[S] {
	return Feature[S]{}
}

func (Feature[S]) Name() string { return Name }

func (Feature[S]) HandleMessage(state S, msg protocol.Incoming) ([]engine.Event, error) {
	cur := state.Monitor()

	switch m := msg.(type) {
	case protocol.SerialMonitorRequest:
		cfg := state.MonitorSettings().defaultConfig()
		if m.Config != nil {
			cfg = m.Config.Normalize()
		}
		switch {
		case cur.Status == StatusActive && cur.Config == cfg:
			return []engine.Event{AlreadyConfigured{Config: cfg}}, nil
		case cur.Status == StatusStarting && cur.Config == cfg:
			// The pending start answers this request too.
			return nil, nil
		}
		return []engine.Event{AboutToStart{Config: cfg}}, nil

	case protocol.SerialMonitorRequestStop:
		switch {
		case cur.idle():
			return []engine.Event{NotRunning{Reason: ErrNoActiveMonitor}}, nil
		case cur.Status == StatusStopping:
			return nil, nil
		}
		return []engine.Event{Stopping{Reason: ErrStopRequested}}, nil

	case protocol.InternalSerialMonitorStarting:
		if !cur.accepts(m.Config) || cur.opening {
			return nil, nil
		}
		return []engine.Event{Start{Config: m.Config, Device: state.Device()}}, nil

	case protocol.InternalSerialMonitorOpened:
		sess, ok := m.Session.(*Session)
		if !ok || sess == nil {
			return nil, nil
		}
		return []engine.Event{StartSucceeded{Session: sess}}, nil

	case protocol.InternalSerialMonitorOpenFailed:
		return []engine.Event{StartFailed{Config: m.Config, Reason: m.Reason}}, nil

	case protocol.InternalSerialMonitorDiscarded:
		return []engine.Event{Discarded{Config: m.Config}}, nil

	case protocol.InternalReceivedSerialBytes:
		if cur.Status != StatusActive || len(m.Data) == 0 {
			return nil, nil
		}
		return []engine.Event{ReceivedBytes{Data: m.Data}}, nil

	case protocol.SerialMonitorMessageToAgent:
		return []engine.Event{SendingBytes{Data: m.Data}}, nil

	case protocol.InternalSerialMonitorDied:
		switch {
		case cur.idle():
			return []engine.Event{NotRunning{Reason: m.Reason}}, nil
		case cur.Status == StatusStopping:
			return nil, nil
		}
		return []engine.Event{Died{Reason: m.Reason}, Stopping{Reason: m.Reason}}, nil

	case protocol.InternalSerialMonitorStopped:
		return []engine.Event{Stopped{Session: m.Session}}, nil
	}
	return nil, nil
}

func (Feature[S]) StateProject(state S, ev engine.Event) S {
	cur := state.Monitor()

	switch e := ev.(type) {
	case AboutToStart:
		return state.WithMonitor(State{Status: StatusStarting, Config: e.Config, opening: cur.opening})

	case Start:
		cur.opening = true
		return state.WithMonitor(cur)

	case StartSucceeded:
		// A superseded port stays pending until Discarded.
		if !cur.accepts(e.Session.Config()) {
			return state
		}
		return state.WithMonitor(State{Status: StatusActive, Config: e.Session.Config(), Session: e.Session})

	case StartFailed:
		if !cur.accepts(e.Config) {
			cur.opening = false
			return state.WithMonitor(cur)
		}
		return state.WithMonitor(State{Status: StatusIdle})

	case Discarded:
		cur.opening = false
		return state.WithMonitor(cur)

	case Stopping:
		if cur.idle() {
			return state
		}
		cur.Status = StatusStopping
		return state.WithMonitor(cur)

	case Stopped:
		if cur.Status != StatusStopping || !sameSession(cur.Session, e.Session) {
			return state
		}
		return state.WithMonitor(State{Status: StatusIdle, opening: cur.opening})
	}
	return state
}

func (Feature[S]) EffectProject(fx engine.Effects, state S, ev engine.Event) {
	cur := state.Monitor()

	switch e := ev.(type) {
	case AboutToStart:
		if cur.Status == StatusStarting {
			fx.Send(protocol.SerialMonitorResult{Error: protocol.ErrorText(ErrSuperseded)})
		}
		if cur.Session != nil {
			getLog().Info().Str("session", cur.Session.ID()).Msg("Closing serial monitor for reconfiguration")
			_ = cur.Session.Stop(ErrReconfigured)
		}
		if cur.opening {
			getLog().Debug().Int("baudrate", e.Config.BaudRate).Msg("Waiting for the pending serial port open")
			return
		}
		fx.Post(protocol.InternalSerialMonitorStarting{Config: e.Config})

	case AlreadyConfigured:
		getLog().Debug().Int("baudrate", e.Config.BaudRate).Msg("Serial monitor already configured")
		fx.Send(protocol.SerialMonitorResult{})

	case Start:
		openSession(fx, state.Opener(), e)

	case StartSucceeded:
		if !cur.accepts(e.Session.Config()) {
			getLog().Debug().Str("session", e.Session.ID()).Msg("Closing superseded serial monitor session")
			_ = e.Session.Stop(ErrSuperseded)
			fx.Post(protocol.InternalSerialMonitorDiscarded{Config: e.Session.Config()})
			return
		}
		getLog().Info().
			Str("session", e.Session.ID()).
			Int("baudrate", e.Session.Config().BaudRate).
			Str("framing", string(e.Session.Config().Framing)).
			Msg("Serial monitor started")
		fx.Send(protocol.SerialMonitorResult{})
		e.Session.run(fx, state.MonitorSettings())

	case StartFailed:
		if !cur.accepts(e.Config) {
			getLog().Debug().Err(e.Reason).Msg("Superseded serial port open failed")
			resumeStart(fx, cur)
			return
		}
		getLog().Warn().Err(e.Reason).Msg("Serial monitor failed to start")
		fx.Send(protocol.SerialMonitorResult{Error: protocol.ErrorText(e.Reason)})

	case Discarded:
		resumeStart(fx, cur)

	case ReceivedBytes:
		fx.Send(protocol.SerialMonitorMessageToClient{Data: e.Data})

	case SendingBytes:
		if cur.Session == nil {
			if cur.idle() {
				fx.Post(protocol.InternalSerialMonitorDied{Reason: ErrNoActiveMonitor})
				return
			}
			getLog().Warn().Int("bytes", len(e.Data)).Str("status", string(cur.Status)).Msg("Dropped bytes for a monitor that is not active")
			return
		}
		if err := cur.Session.Write(e.Data); err != nil {
			fx.Post(protocol.InternalSerialMonitorDied{Reason: err})
		}

	case Died:
		getLog().Warn().Err(e.Reason).Msg("Serial monitor died")

	case Stopping:
		if cur.idle() {
			return
		}
		var stopped protocol.Session
		if cur.Session != nil {
			if err := cur.Session.Stop(e.Reason); err != nil {
				getLog().Debug().Err(err).Msg("Serial port close failed")
			}
			stopped = cur.Session
		}
		fx.Send(protocol.MonitorUnavailable{Reason: reasonText(e.Reason)})
		fx.Post(protocol.InternalSerialMonitorStopped{Session: stopped})

	case Stopped:
		getLog().Info().Msg("Serial monitor stopped")

	case NotRunning:
		fx.Send(protocol.MonitorUnavailable{Reason: reasonText(e.Reason)})

	case lifecycle.Ended:
		if cur.Session != nil {
			_ = cur.Session.Stop(e.Reason)
		}
	}
}

func openSession(fx engine.Effects, opener Opener, e Start) {
	port, err := opener.OpenPort(e.Device, e.Config)
	if err != nil {
		fx.Post(protocol.InternalSerialMonitorOpenFailed{Config: e.Config, Reason: err})
		return
	}
	if fx.Signal().Fired() {
		_ = port.Close()
		return
	}
	sess := newSession(e.Config, port)
	getLog().Debug().Str("session", sess.ID()).Str("device", e.Device).Msg("Serial port opened")
	fx.Post(protocol.InternalSerialMonitorOpened{Config: e.Config, Session: sess})
}

// resumeStart starts the request that waited for a pending open.
func resumeStart(fx engine.Effects, cur State) {
	if cur.Status == StatusStarting {
		fx.Post(protocol.InternalSerialMonitorStarting{Config: cur.Config})
	}
}

func sameSession(cur *Session, other protocol.Session) bool {
	if cur == nil {
		return other == nil
	}
	return other != nil && other.ID() == cur.ID()
}

func reasonText(err error) string {
	if err == nil {
		return "serial monitor stopped"
	}
	return err.Error()
}
