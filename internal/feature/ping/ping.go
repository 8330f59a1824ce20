// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ping keeps the control server connection alive with periodic
// heartbeats.
package ping

import (
	"time"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/feature/lifecycle"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"
)

const Name = "ping"

// Holder is implemented by board states with a heartbeat interval. A
// non-positive interval disables heartbeats.
type Holder interface {
	Heartbeat() time.Duration
}

type Feature[S Holder] struct{}

func New[S Holder]() Feature[S] {
	return Feature[S]{}
}

func (Feature[S]) Name() string { return Name }

func (Feature[S]) HandleMessage(S, protocol.Incoming) ([]engine.Event, error) {
	return nil, nil
}

func (Feature[S]) StateProject(state S, _ engine.Event) S {
	return state
}

// EffectProject runs the heartbeat loop for the whole engine lifetime once
// the lifecycle has started.
func (Feature[S]) EffectProject(fx engine.Effects, state S, ev engine.Event) {
	if _, ok := ev.(lifecycle.Started); !ok {
		return
	}
	interval := state.Heartbeat()
	if interval <= 0 {
		return
	}
	log := logger.GetEngineLogger().With().Str("feature", Name).Logger()
	log.Debug().Dur("interval", interval).Msg("Heartbeat started")

	for {
		if err := engine.Sleep(interval, fx.Signal()); err != nil {
			log.Debug().Msg("Heartbeat stopped")
			return
		}
		fx.Send(protocol.PingMessage{})
	}
}
