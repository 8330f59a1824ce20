// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle starts and ends an engine. Ending the lifecycle is the
// only path that fires the engine signal.
package lifecycle

import (
	"sync"

	"github.com/noldarim/boardlink/internal/engine"
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
		l := logger.GetEngineLogger().With().Str("feature", Name).Logger()
		log = &l
	})
	return log
}

const Name = "lifecycle"

// Phase is the coarse process phase of an engine.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhaseEnding     Phase = "ending"
)

type Started struct{}

type Ended struct {
	Reason error
}

func (Started) EventName() string { return "lifecycle.started" }
func (Ended) EventName() string   { return "lifecycle.ended" }

// Holder is implemented by board states that carry a lifecycle phase.
type Holder[S any] interface {
	Lifecycle() Phase
	WithLifecycle(Phase) S
}

type Feature[S Holder[S]] struct{}

func New[S Holder[S]]() Feature[S] {
	return Feature[S]{}
}

func (Feature[S]) Name() string { return Name }

func (Feature[S]) HandleMessage(_ S, msg protocol.Incoming) ([]engine.Event, error) {
	switch m := msg.(type) {
	case protocol.InternalStartLifecycle:
		return []engine.Event{Started{}}, nil
	case protocol.InternalEndLifecycle:
		return []engine.Event{Ended{Reason: m.Reason}}, nil
	}
	return nil, nil
}

func (Feature[S]) StateProject(state S, ev engine.Event) S {
	switch ev.(type) {
	case Started:
		return state.WithLifecycle(PhaseRunning)
	case Ended:
		return state.WithLifecycle(PhaseEnding)
	}
	return state
}

func (Feature[S]) EffectProject(fx engine.Effects, _ S, ev engine.Event) {
	if e, ok := ev.(Ended); ok {
		getLog().Info().Err(e.Reason).Msg("Lifecycle ended")
		fx.Signal().Fire(e.Reason)
	}
}
