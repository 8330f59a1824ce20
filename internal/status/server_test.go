// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/board"
	"github.com/noldarim/boardlink/internal/config"
	"github.com/noldarim/boardlink/internal/feature/auth"
	"github.com/noldarim/boardlink/internal/feature/monitor"
)

type fakeSource struct {
	mu      sync.Mutex
	snap    board.Snapshot
	stopped []error
}

func (f *fakeSource) Snapshot() board.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Stop(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, reason)
}

func (f *fakeSource) set(fn func(*board.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
}

func newTestServer(t *testing.T, src Source) *httptest.Server {
	t.Helper()
	s := New(config.StatusConfig{Host: "127.0.0.1", Port: 0}, src, WithWatchInterval(5*time.Millisecond))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestStatus_Health(t *testing.T) {
	srv := newTestServer(t, &fakeSource{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStatus_State(t *testing.T) {
	src := &fakeSource{snap: board.Snapshot{
		Board: "fake",
		Auth:  auth.StatusAuthenticated,
		Monitor: board.MonitorSnapshot{
			Status:    monitor.StatusActive,
			SessionID: "abc",
		},
	}}
	srv := newTestServer(t, src)

	resp, err := http.Get(srv.URL + "/api/v1/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got board.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "fake", got.Board)
	assert.Equal(t, auth.StatusAuthenticated, got.Auth)
	assert.Equal(t, monitor.StatusActive, got.Monitor.Status)
	assert.Equal(t, "abc", got.Monitor.SessionID)
}

func TestStatus_Shutdown(t *testing.T) {
	src := &fakeSource{}
	srv := newTestServer(t, src)

	resp, err := http.Get(srv.URL + "/api/v1/shutdown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/shutdown", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []error{ErrShutdownRequested}, src.stopped)
}

func TestStatus_RequestIDIsReusedWhenValid(t *testing.T) {
	srv := newTestServer(t, &fakeSource{})

	for _, tc := range []struct {
		sent string
		keep bool
	}{
		{"req-123", true},
		{"bad id; drop", false},
	} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", tc.sent)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		got := resp.Header.Get("X-Request-ID")
		if tc.keep {
			assert.Equal(t, tc.sent, got)
		} else {
			assert.NotEqual(t, tc.sent, got)
			assert.NotEmpty(t, got)
		}
	}
}

type panicSource struct{ fakeSource }

func (*panicSource) Snapshot() board.Snapshot { panic("boom") }

func TestStatus_RecoversFromPanics(t *testing.T) {
	srv := newTestServer(t, &panicSource{})

	resp, err := http.Get(srv.URL + "/api/v1/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestStatus_WatchPushesChanges(t *testing.T) {
	src := &fakeSource{snap: board.Snapshot{Board: "fake", Auth: auth.StatusPending}}
	srv := newTestServer(t, src)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/watch", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first board.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, auth.StatusPending, first.Auth)

	src.set(func(s *board.Snapshot) { s.Auth = auth.StatusAuthenticated })

	var second board.Snapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, auth.StatusAuthenticated, second.Auth)
}

func TestStatus_ServeEndsWatchStreamsOnShutdown(t *testing.T) {
	s := New(config.StatusConfig{}, &fakeSource{snap: board.Snapshot{Board: "fake"}}, WithWatchInterval(5*time.Millisecond))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/api/v1/watch", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first board.Snapshot
	require.NoError(t, conn.ReadJSON(&first))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return while a watch stream was open")
	}

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
