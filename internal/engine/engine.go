// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine is the board agnostic reducer at the heart of the agent.
//
// Incoming messages are projected into events, events are projected into a
// new state and into side effects. Only the event loop writes state. Effects
// run concurrently and talk back exclusively by posting further incoming
// messages or sending outgoing ones.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

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
		l := logger.GetEngineLogger()
		log = &l
	})
	return log
}

// ErrAlreadyRunning is returned when Run is called twice on one engine.
var ErrAlreadyRunning = errors.New("engine already running")

// Projector defines how messages become events and how events become state
// and effects.
type Projector[S any] interface {
	MessageProject(state S, msg protocol.Incoming) ([]Event, error)
	StateProject(state S, ev Event) S
	EffectProject(fx Effects, state S, ev Event)
}

// Hooks are optional observation points in the two loops.
type Hooks[S any] struct {
	PreProcessMessage func(state S, msg protocol.Incoming)
	PreProcessEvent   func(state S, ev Event)
	ErrorProject      func(state S, msg protocol.Incoming, err error)
}

// Option configures an Engine.
type Option[S any] func(*Engine[S])

// WithBase makes the engine use an existing base (signal and queues).
func WithBase[S any](b Base) Option[S] {
	return func(e *Engine[S]) { e.base = b }
}

// WithHooks installs loop hooks.
func WithHooks[S any](h Hooks[S]) Option[S] {
	return func(e *Engine[S]) { e.hooks = h }
}

// Engine owns one state value and runs the message and event loops until
// its signal fires.
type Engine[S any] struct {
	base      Base
	projector Projector[S]
	hooks     Hooks[S]

	state   atomic.Pointer[S]
	started atomic.Bool
	effects sync.WaitGroup
}

// New creates an engine in the not-started phase.
func New[S any](initial S, projector Projector[S], opts ...Option[S]) *Engine[S] {
	e := &Engine[S]{projector: projector}
	for _, opt := range opts {
		opt(e)
	}
	if e.base.Signal == nil {
		e.base = NewBase()
	}
	e.state.Store(&initial)
	return e
}

// Base exposes the signal and queues, e.g. for an agent bridging a socket.
func (e *Engine[S]) Base() Base {
	return e.base
}

// State returns the last committed state.
func (e *Engine[S]) State() S {
	return *e.state.Load()
}

// Post enqueues an incoming message.
func (e *Engine[S]) Post(msg protocol.Incoming) {
	e.base.Incoming.Put(msg)
}

// Stop asks the engine to end with reason. The request travels through the
// pipeline like any other message so that features can tear down cleanly.
func (e *Engine[S]) Stop(reason error) {
	e.base.Incoming.Put(protocol.InternalEndLifecycle{Reason: reason})
}

// Run seeds the start-of-lifecycle message, runs both loops and blocks until
// the signal fires. Cancelling ctx fires the signal with ctx.Err(). Run
// returns once both loops and every effect have finished, with the reason
// the signal was fired with.
func (e *Engine[S]) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	effectCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopOnCtx := context.AfterFunc(ctx, func() {
		e.base.Signal.Fire(ctx.Err())
	})
	defer stopOnCtx()

	fx := Effects{base: e.base, ctx: effectCtx, spawn: e.spawn}

	getLog().Info().Msg("Engine started")
	e.base.Incoming.Put(protocol.InternalStartLifecycle{})

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		e.messageLoop()
	}()
	go func() {
		defer loops.Done()
		e.eventLoop(fx)
	}()

	e.base.Signal.Wait()
	getLog().Info().Err(e.base.Signal.Reason()).Msg("Engine draining")
	cancel()

	loops.Wait()
	e.effects.Wait()
	getLog().Info().Msg("Engine terminated")
	return e.base.Signal.Reason()
}

func (e *Engine[S]) messageLoop() {
	for {
		msg, err := Race(e.base.Incoming.Get, e.base.Signal)
		if err != nil {
			if IsCancelled(err) {
				return
			}
			getLog().Error().Err(err).Msg("Incoming queue read failed")
			continue
		}

		state := e.State()
		if e.hooks.PreProcessMessage != nil {
			e.hooks.PreProcessMessage(state, msg)
		}
		getLog().Debug().Str("message_type", fmt.Sprintf("%T", msg)).Msg("Processing message")

		events, err := e.projector.MessageProject(state, msg)
		if err != nil {
			e.errorProject(state, msg, err)
			continue
		}
		e.base.Events.PutAll(events...)
	}
}

func (e *Engine[S]) eventLoop(fx Effects) {
	for {
		ev, err := Race(e.base.Events.Get, e.base.Signal)
		if err != nil {
			if IsCancelled(err) {
				return
			}
			getLog().Error().Err(err).Msg("Event queue read failed")
			continue
		}

		prev := e.State()
		if e.hooks.PreProcessEvent != nil {
			e.hooks.PreProcessEvent(prev, ev)
		}
		getLog().Debug().Str("event", ev.EventName()).Msg("Processing event")

		next := e.projector.StateProject(prev, ev)
		e.state.Store(&next)
		e.spawn(ev.EventName(), func() {
			e.projector.EffectProject(fx, prev, ev)
		})
	}
}

func (e *Engine[S]) errorProject(state S, msg protocol.Incoming, err error) {
	if e.hooks.ErrorProject != nil {
		e.hooks.ErrorProject(state, msg, err)
		return
	}
	getLog().Warn().
		Err(err).
		Str("message_type", fmt.Sprintf("%T", msg)).
		Msg("Message projection failed")
}

// spawn runs fn as a tracked effect goroutine. A panicking effect is logged
// and does not take the process down.
func (e *Engine[S]) spawn(name string, fn func()) {
	e.effects.Add(1)
	go func() {
		defer e.effects.Done()
		defer func() {
			if r := recover(); r != nil {
				getLog().Error().
					Interface("panic", r).
					Str("effect", name).
					Str("stack", string(debug.Stack())).
					Msg("Effect panicked")
			}
		}()
		fn()
	}()
}

// Effects is the handle side effects use to talk back to the engine.
type Effects struct {
	base  Base
	ctx   context.Context
	spawn func(name string, fn func())
}

// NewEffects builds an Effects value outside of a running engine. Effects
// spawned through it run synchronously. Intended for tests and tools.
func NewEffects(ctx context.Context, b Base) Effects {
	return Effects{base: b, ctx: ctx, spawn: func(_ string, fn func()) { fn() }}
}

// Post enqueues an incoming message.
func (fx Effects) Post(msg protocol.Incoming) {
	fx.base.Incoming.Put(msg)
}

// Send enqueues an outgoing message.
func (fx Effects) Send(msg protocol.Outgoing) {
	fx.base.Outgoing.Put(msg)
}

// Stop requests the end of the engine lifecycle.
func (fx Effects) Stop(reason error) {
	fx.base.Incoming.Put(protocol.InternalEndLifecycle{Reason: reason})
}

// Signal is the engine wide cancellation signal.
func (fx Effects) Signal() *Signal {
	return fx.base.Signal
}

// Context is cancelled once the engine starts draining.
func (fx Effects) Context() context.Context {
	return fx.ctx
}

// Go runs fn as a tracked background task of the engine.
func (fx Effects) Go(name string, fn func()) {
	fx.spawn(name, fn)
}
