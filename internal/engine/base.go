// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"sync/atomic"

	"github.com/noldarim/boardlink/internal/protocol"
)

// Event is derived from an incoming message by a projector and drives state
// transitions and effects. Every feature declares its own event types.
type Event interface {
	EventName() string
}

// Base bundles the cancellation signal with the three queues every engine
// owns: messages in, messages out and internal events.
type Base struct {
	Signal   *Signal
	Incoming *Queue[protocol.Incoming]
	Outgoing *Queue[protocol.Outgoing]
	Events   *Queue[Event]
}

// NewBase creates a base with plain queues.
func NewBase() Base {
	return Base{
		Signal:   NewSignal(),
		Incoming: NewQueue[protocol.Incoming](),
		Outgoing: NewQueue[protocol.Outgoing](),
		Events:   NewQueue[Event](),
	}
}

// Stats counts traffic through an instrumented base.
type Stats struct {
	Incoming atomic.Int64
	Outgoing atomic.Int64
	Events   atomic.Int64
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	Incoming int64 `json:"incoming"`
	Outgoing int64 `json:"outgoing"`
	Events   int64 `json:"events"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Incoming: s.Incoming.Load(),
		Outgoing: s.Outgoing.Load(),
		Events:   s.Events.Load(),
	}
}

// NewInstrumentedBase creates a base whose queues count every put into stats.
func NewInstrumentedBase(stats *Stats) Base {
	return Base{
		Signal: NewSignal(),
		Incoming: NewQueue(WithBeforePut(func(protocol.Incoming) {
			stats.Incoming.Add(1)
		})),
		Outgoing: NewQueue(WithBeforePut(func(protocol.Outgoing) {
			stats.Outgoing.Add(1)
		})),
		Events: NewQueue(WithBeforePut(func(Event) {
			stats.Events.Add(1)
		})),
	}
}
