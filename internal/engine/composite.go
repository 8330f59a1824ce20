// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"fmt"

	"github.com/noldarim/boardlink/internal/protocol"

	"github.com/samber/lo"
)

// Feature is a self-contained sub-engine (lifecycle, heartbeat, auth, ...).
// A board engine is the ordered composition of its features.
type Feature[S any] interface {
	Name() string
	// HandleMessage derives zero or more events from msg. An error rejects
	// the whole message.
	HandleMessage(state S, msg protocol.Incoming) ([]Event, error)
	// StateProject returns the state after ev. Features ignore events they
	// do not own by returning state unchanged.
	StateProject(state S, ev Event) S
	// EffectProject runs the side effects of ev against the state that was
	// current before ev was applied. It runs on its own goroutine.
	EffectProject(fx Effects, state S, ev Event)
}

// Composite fans messages, state projection and effects out to features in
// registration order.
type Composite[S any] struct {
	features []Feature[S]
}

// NewComposite registers features. Order is significant: events produced
// for one message are concatenated in this order.
func NewComposite[S any](features ...Feature[S]) *Composite[S] {
	return &Composite[S]{features: features}
}

// Names lists registered features in order.
func (c *Composite[S]) Names() []string {
	return lo.Map(c.features, func(f Feature[S], _ int) string {
		return f.Name()
	})
}

// MessageProject calls every feature with the same state and message. If
// any feature fails, no events are produced for the message.
func (c *Composite[S]) MessageProject(state S, msg protocol.Incoming) ([]Event, error) {
	perFeature := make([][]Event, 0, len(c.features))
	for _, f := range c.features {
		events, err := f.HandleMessage(state, msg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		perFeature = append(perFeature, events)
	}
	return lo.Flatten(perFeature), nil
}

// StateProject folds ev through every feature.
func (c *Composite[S]) StateProject(state S, ev Event) S {
	for _, f := range c.features {
		state = f.StateProject(state, ev)
	}
	return state
}

// EffectProject launches each feature's effect as an independent task and
// returns without waiting for any of them.
func (c *Composite[S]) EffectProject(fx Effects, state S, ev Event) {
	for _, f := range c.features {
		f := f
		fx.Go(f.Name()+":"+ev.EventName(), func() {
			f.EffectProject(fx, state, ev)
		})
	}
}
