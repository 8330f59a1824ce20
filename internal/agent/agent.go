// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent bridges a socket to the queues of an engine for the
// lifetime of one connection.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"

	"github.com/rs/zerolog"
)

// ErrTransportClosed marks a connection that is gone for good.
var ErrTransportClosed = errors.New("transport closed")

// Socket is a bidirectional message connection to the control server.
// Rx and Tx must return promptly once ctx is cancelled.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Rx(ctx context.Context) (protocol.Incoming, error)
	Tx(ctx context.Context, msg protocol.Outgoing) error
}

// Runner is the part of an engine the agent drives.
type Runner interface {
	Base() engine.Base
	Run(ctx context.Context) error
	Stop(reason error)
}

// Agent owns one socket and one engine.
type Agent struct {
	id     string
	socket Socket
	engine Runner
	log    zerolog.Logger
}

func New(socket Socket, eng Runner) *Agent {
	id := uuid.NewString()
	return &Agent{
		id:     id,
		socket: socket,
		engine: eng,
		log:    logger.GetAgentLogger().With().Str("agent_id", id).Logger(),
	}
}

// ID identifies this agent run in logs.
func (a *Agent) ID() string { return a.id }

// Run connects the socket and pumps messages until the engine stops. It
// returns the reason the engine stopped with. A failed connect returns
// the connect error without starting the engine.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.socket.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.log.Info().Msg("Connected")

	base := a.engine.Base()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.receiveLoop(base)
	}()
	go func() {
		defer wg.Done()
		a.transmitLoop(base)
	}()
	go func() {
		defer wg.Done()
		base.Signal.Wait()
		if err := a.socket.Disconnect(); err != nil {
			a.log.Debug().Err(err).Msg("Disconnect failed")
		}
		a.log.Info().Msg("Disconnected")
	}()

	reason := a.engine.Run(ctx)
	wg.Wait()
	return reason
}

func (a *Agent) receiveLoop(base engine.Base) {
	for {
		msg, err := engine.Race(a.socket.Rx, base.Signal)
		if base.Signal.Fired() {
			return
		}
		switch {
		case err == nil:
			base.Incoming.Put(msg)
		case protocol.IsDecodeError(err):
			a.log.Warn().Err(err).Msg("Dropped undecodable message")
		case errors.Is(err, ErrTransportClosed):
			a.log.Error().Err(err).Msg("Connection lost")
			a.engine.Stop(err)
			return
		default:
			a.log.Error().Err(err).Msg("Receive failed")
			a.engine.Stop(fmt.Errorf("receive: %w", err))
			return
		}
	}
}

func (a *Agent) transmitLoop(base engine.Base) {
	for {
		msg, err := engine.Race(base.Outgoing.Get, base.Signal)
		if err != nil {
			return
		}
		_, err = engine.Race(func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.socket.Tx(ctx, msg)
		}, base.Signal)
		if engine.IsCancelled(err) {
			return
		}
		if err != nil {
			a.log.Error().Err(err).Str("message_type", fmt.Sprintf("%T", msg)).Msg("Send failed")
			a.engine.Stop(fmt.Errorf("send: %w", err))
			return
		}
	}
}
