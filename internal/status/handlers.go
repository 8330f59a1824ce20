// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package status

import (
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noldarim/boardlink/internal/board"
)

const watchWriteWait = 5 * time.Second

type handlers struct {
	src           Source
	watchInterval time.Duration
	upgrader      websocket.Upgrader

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	watchers sync.WaitGroup
}

// track registers a watch stream unless the server is shutting down.
func (h *handlers) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.watchers.Add(1)
	return true
}

func (h *handlers) closeWatchers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

// health handles GET /healthz
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// state handles GET /api/v1/state
func (h *handlers) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Snapshot())
}

// shutdown handles POST /api/v1/shutdown
func (h *handlers) shutdown(w http.ResponseWriter, r *http.Request) {
	requestLog(r).Warn().Str("remote", r.RemoteAddr).Msg("Shutdown requested")
	h.src.Stop(ErrShutdownRequested)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// watch handles GET /api/v1/watch. It upgrades to a websocket and pushes a
// snapshot whenever the state changes. Counters are ignored when comparing.
func (h *handlers) watch(w http.ResponseWriter, r *http.Request) {
	if !h.track() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "shutting down"})
		return
	}
	defer h.watchers.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		requestLog(r).Debug().Err(err).Msg("Watch upgrade failed")
		return
	}
	defer conn.Close()

	// Reader: only there to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	var last *board.Snapshot
	for {
		snap := h.src.Snapshot()
		if last == nil || changed(*last, snap) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			last = &snap
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "status api shutting down"),
				time.Now().Add(watchWriteWait))
			return
		case <-ticker.C:
		}
	}
}

func changed(a, b board.Snapshot) bool {
	a.Stats, b.Stats = nil, nil
	return !reflect.DeepEqual(a, b)
}
