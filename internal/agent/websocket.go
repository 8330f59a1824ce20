// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noldarim/boardlink/internal/protocol"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// WebSocket is a Socket over a gorilla websocket connection. Text frames
// carry JSON envelopes and binary frames carry serial bytes.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

type WebSocketOption func(*WebSocket)

// WithHeader adds a header to the handshake request.
func WithHeader(key, value string) WebSocketOption {
	return func(w *WebSocket) { w.header.Add(key, value) }
}

func NewWebSocket(url string, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		url:    url,
		header: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebSocket) Connect(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", w.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.conn = conn
	w.connected.Store(true)
	return nil
}

func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

func (w *WebSocket) Disconnect() error {
	if !w.connected.CompareAndSwap(true, false) {
		return nil
	}
	w.writeMu.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocket) Rx(ctx context.Context) (protocol.Incoming, error) {
	if !w.Connected() {
		return nil, ErrTransportClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.connected.Store(false)
		return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	switch mt {
	case websocket.TextMessage:
		return protocol.DecodeIncoming(protocol.Frame{Data: data})
	case websocket.BinaryMessage:
		return protocol.DecodeIncoming(protocol.Frame{Binary: true, Data: data})
	default:
		return nil, &protocol.DecodeError{Err: fmt.Errorf("unexpected websocket message type %d", mt)}
	}
}

func (w *WebSocket) Tx(ctx context.Context, msg protocol.Outgoing) error {
	if !w.Connected() {
		return ErrTransportClosed
	}
	frame, err := protocol.EncodeOutgoing(msg)
	if err != nil {
		return err
	}

	mt := websocket.TextMessage
	if frame.Binary {
		mt = websocket.BinaryMessage
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(mt, frame.Data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || !w.Connected() {
			return fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
