// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth authenticates the agent against the control server right
// after the lifecycle starts. A rejection ends the engine.
package auth

import (
	"errors"
	"fmt"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"
)

const Name = "auth"

var ErrAuthRejected = errors.New("authentication rejected")

// Status of the authentication handshake.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	StatusRejected      Status = "rejected"
)

// Credentials are sent to the server in the AuthRequest.
type Credentials struct {
	Username string
	Password string
}

type Starting struct {
	Credentials Credentials
}

type Succeeded struct{}

type Failed struct {
	Reason error
}

func (Starting) EventName() string  { return "auth.starting" }
func (Succeeded) EventName() string { return "auth.succeeded" }
func (Failed) EventName() string    { return "auth.failed" }

type Holder[S any] interface {
	Credentials() Credentials
	Auth() Status
	WithAuth(Status) S
}

type Feature[S Holder[S]] struct{}

func New[S Holder[S]]() Feature[S] {
	return Feature[S]{}
}

func (Feature[S]) Name() string { return Name }

func (Feature[S]) HandleMessage(state S, msg protocol.Incoming) ([]engine.Event, error) {
	switch m := msg.(type) {
	case protocol.InternalStartLifecycle:
		return []engine.Event{Starting{Credentials: state.Credentials()}}, nil
	case protocol.AuthResult:
		if m.Error == nil {
			return []engine.Event{Succeeded{}}, nil
		}
		return []engine.Event{Failed{Reason: fmt.Errorf("%w: %s", ErrAuthRejected, *m.Error)}}, nil
	}
	return nil, nil
}

func (Feature[S]) StateProject(state S, ev engine.Event) S {
	switch ev.(type) {
	case Starting:
		return state.WithAuth(StatusPending)
	case Succeeded:
		return state.WithAuth(StatusAuthenticated)
	case Failed:
		return state.WithAuth(StatusRejected)
	}
	return state
}

func (Feature[S]) EffectProject(fx engine.Effects, _ S, ev engine.Event) {
	log := logger.GetAuthLogger()
	switch e := ev.(type) {
	case Starting:
		log.Debug().Str("username", e.Credentials.Username).Msg("Sending auth request")
		fx.Send(protocol.AuthRequest{
			Username: e.Credentials.Username,
			Password: e.Credentials.Password,
		})
	case Succeeded:
		log.Info().Msg("Authenticated")
	case Failed:
		log.Error().Err(e.Reason).Msg("Authentication failed")
		fx.Stop(e.Reason)
	}
}
