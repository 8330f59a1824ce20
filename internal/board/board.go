// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package board composes the features into an engine for one piece of
// hardware.
package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/feature/auth"
	"github.com/noldarim/boardlink/internal/feature/lifecycle"
	"github.com/noldarim/boardlink/internal/feature/monitor"
	"github.com/noldarim/boardlink/internal/feature/ping"
	"github.com/noldarim/boardlink/internal/feature/upload"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetBoardLogger()
		log = &l
	})
	return log
}

// Board is the hardware specific part of an engine.
type Board interface {
	Kind() string
	Upload(ctx context.Context, filePath string) error
	monitor.Opener
}

// State is the single state value of a board engine. It is replaced, never
// mutated, by the event loop.
type State struct {
	board       Board
	device      string
	heartbeat   time.Duration
	backend     upload.Downloader
	credentials auth.Credentials
	settings    monitor.Settings

	lifecycle lifecycle.Phase
	auth      auth.Status
	upload    upload.State
	monitor   monitor.State
}

// Options describe the collaborators and settings of a board engine.
type Options struct {
	Board       Board
	Device      string
	Heartbeat   time.Duration
	Backend     upload.Downloader
	Credentials auth.Credentials
	Monitor     monitor.Settings
	// Stats, when set, counts queue traffic.
	Stats *engine.Stats
}

// NewState builds the initial state.
func NewState(o Options) State {
	return State{
		board:       o.Board,
		device:      o.Device,
		heartbeat:   o.Heartbeat,
		backend:     o.Backend,
		credentials: o.Credentials,
		settings:    o.Monitor,
		lifecycle:   lifecycle.PhaseNotStarted,
		auth:        auth.StatusUnknown,
		upload:      upload.State{Phase: upload.PhaseIdle},
		monitor:     monitor.State{Status: monitor.StatusIdle},
	}
}

func (s State) Lifecycle() lifecycle.Phase { return s.lifecycle }
func (s State) WithLifecycle(p lifecycle.Phase) State {
	s.lifecycle = p
	return s
}

func (s State) Heartbeat() time.Duration { return s.heartbeat }

func (s State) Credentials() auth.Credentials { return s.credentials }
func (s State) Auth() auth.Status             { return s.auth }
func (s State) WithAuth(st auth.Status) State {
	s.auth = st
	return s
}

func (s State) Upload() upload.State { return s.upload }
func (s State) WithUpload(u upload.State) State {
	s.upload = u
	return s
}
func (s State) Downloader() upload.Downloader { return s.backend }
func (s State) Uploader() upload.Uploader     { return uploader{s.board} }

func (s State) Monitor() monitor.State { return s.monitor }
func (s State) WithMonitor(m monitor.State) State {
	s.monitor = m
	return s
}
func (s State) Device() string                    { return s.device }
func (s State) Opener() monitor.Opener            { return s.board }
func (s State) MonitorSettings() monitor.Settings { return s.settings }

// Kind names the board type, e.g. "fake".
func (s State) Kind() string {
	if s.board == nil {
		return ""
	}
	return s.board.Kind()
}

// Snapshot is the JSON view of a state served by the status API.
type Snapshot struct {
	Board     string                `json:"board"`
	Device    string                `json:"device,omitempty"`
	Lifecycle lifecycle.Phase       `json:"lifecycle"`
	Auth      auth.Status           `json:"auth"`
	Upload    upload.State          `json:"upload"`
	Monitor   MonitorSnapshot       `json:"monitor"`
	Stats     *engine.StatsSnapshot `json:"stats,omitempty"`
}

type MonitorSnapshot struct {
	Status    monitor.Status         `json:"status"`
	Config    protocol.MonitorConfig `json:"config"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Snapshot copies the observable parts of s.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Board:     s.Kind(),
		Device:    s.device,
		Lifecycle: s.lifecycle,
		Auth:      s.auth,
		Upload:    s.upload,
		Monitor: MonitorSnapshot{
			Status:    s.monitor.Status,
			Config:    s.monitor.Config,
			SessionID: s.monitor.SessionID(),
		},
	}
}

// uploader adapts a possibly missing board to upload.Uploader.
type uploader struct {
	board Board
}

func (u uploader) Upload(ctx context.Context, filePath string) error {
	if u.board == nil {
		return fmt.Errorf("no board configured")
	}
	return u.board.Upload(ctx, filePath)
}

// Features returns the board features in registration order.
func Features() *engine.Composite[State] {
	return engine.NewComposite[State](
		lifecycle.New[State](),
		auth.New[State](),
		ping.New[State](),
		upload.New[State](),
		monitor.New[State](),
	)
}

// NewEngine wires a board engine.
func NewEngine(o Options) *engine.Engine[State] {
	features := Features()
	getLog().Info().
		Str("board", kindOf(o.Board)).
		Strs("features", features.Names()).
		Msg("Creating board engine")

	opts := []engine.Option[State]{
		engine.WithHooks(engine.Hooks[State]{
			PreProcessMessage: func(_ State, msg protocol.Incoming) {
				getLog().Trace().Str("message_type", fmt.Sprintf("%T", msg)).Msg("Message")
			},
			PreProcessEvent: func(_ State, ev engine.Event) {
				getLog().Trace().Str("event", ev.EventName()).Msg("Event")
			},
		}),
	}
	if o.Stats != nil {
		opts = append(opts, engine.WithBase[State](engine.NewInstrumentedBase(o.Stats)))
	}
	return engine.New(NewState(o), features, opts...)
}

func kindOf(b Board) string {
	if b == nil {
		return "none"
	}
	return b.Kind()
}

// Observer exposes a running engine to the status API.
type Observer struct {
	Engine *engine.Engine[State]
	Stats  *engine.Stats
}

func (o Observer) Snapshot() Snapshot {
	snap := o.Engine.State().Snapshot()
	if o.Stats != nil {
		st := o.Stats.Snapshot()
		snap.Stats = &st
	}
	return snap
}

func (o Observer) Stop(reason error) { o.Engine.Stop(reason) }
