// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"sync/atomic"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/protocol"
)

// Pipe is an in-memory Socket. The agent uses the Socket methods while the
// other end plays the control server through Send, SendFrame, Receive and
// Close. Messages pass through the wire codec in both directions.
type Pipe struct {
	inbound  *engine.Queue[protocol.Frame]
	outbound *engine.Queue[protocol.Frame]
	closed   *engine.Signal

	connected  atomic.Bool
	ConnectErr error
}

func NewPipe() *Pipe {
	return &Pipe{
		inbound:  engine.NewQueue[protocol.Frame](),
		outbound: engine.NewQueue[protocol.Frame](),
		closed:   engine.NewSignal(),
	}
}

func (p *Pipe) Connect(context.Context) error {
	if p.ConnectErr != nil {
		return p.ConnectErr
	}
	if p.closed.Fired() {
		return ErrTransportClosed
	}
	p.connected.Store(true)
	return nil
}

func (p *Pipe) Disconnect() error {
	p.connected.Store(false)
	p.closed.Fire(ErrTransportClosed)
	return nil
}

func (p *Pipe) Connected() bool {
	return p.connected.Load() && !p.closed.Fired()
}

func (p *Pipe) Rx(ctx context.Context) (protocol.Incoming, error) {
	f, err := p.get(ctx, p.inbound)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeIncoming(f)
}

func (p *Pipe) Tx(_ context.Context, msg protocol.Outgoing) error {
	if p.closed.Fired() {
		return ErrTransportClosed
	}
	f, err := protocol.EncodeOutgoing(msg)
	if err != nil {
		return err
	}
	p.outbound.Put(f)
	return nil
}

// Send delivers a server message to the agent.
func (p *Pipe) Send(msg protocol.Incoming) error {
	f, err := protocol.EncodeIncoming(msg)
	if err != nil {
		return err
	}
	p.inbound.Put(f)
	return nil
}

// SendFrame delivers a raw frame to the agent.
func (p *Pipe) SendFrame(f protocol.Frame) {
	p.inbound.Put(f)
}

// Receive returns the next message the agent sent.
func (p *Pipe) Receive(ctx context.Context) (protocol.Outgoing, error) {
	f, err := p.outbound.Get(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeOutgoing(f)
}

// Close drops the connection from the server side.
func (p *Pipe) Close() {
	p.closed.Fire(ErrTransportClosed)
}

func (p *Pipe) get(ctx context.Context, q *engine.Queue[protocol.Frame]) (protocol.Frame, error) {
	if p.closed.Fired() {
		return protocol.Frame{}, ErrTransportClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.closed.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	f, err := q.Get(ctx)
	if err != nil && p.closed.Fired() {
		return protocol.Frame{}, ErrTransportClosed
	}
	return f, err
}
