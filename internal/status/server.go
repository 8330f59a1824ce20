// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package status serves a small local HTTP API for inspecting and stopping
// a running agent.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noldarim/boardlink/internal/board"
	"github.com/noldarim/boardlink/internal/config"
	"github.com/noldarim/boardlink/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// ErrShutdownRequested is the stop reason for POST /api/v1/shutdown.
var ErrShutdownRequested = errors.New("shutdown requested via status api")

// Source is the running agent as seen by the status API.
type Source interface {
	Snapshot() board.Snapshot
	Stop(reason error)
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *handlers
}

type Option func(*handlers)

// WithWatchInterval sets how often /api/v1/watch polls for changes.
func WithWatchInterval(d time.Duration) Option {
	return func(h *handlers) { h.watchInterval = d }
}

// New wires the router. It does not listen; call Run for that.
func New(cfg config.StatusConfig, src Source, opts ...Option) *Server {
	h := &handlers{src: src, watchInterval: time.Second, done: make(chan struct{})}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(withRequestLog)
	r.Use(accessLog)
	r.Use(recoverPanics)

	r.Get("/healthz", h.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", h.state)
		r.Get("/watch", h.watch)
		r.Post("/shutdown", h.shutdown)
	})

	return &Server{
		handler:  r,
		handlers: h,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("status api listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Open watch streams are closed and awaited before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		getLog().Info().Str("addr", ln.Addr().String()).Msg("Status API listening")
		errCh <- s.httpServer.Serve(ln)
	}()

	var err error
	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("status api shutdown: %w", shutdownErr)
		}
	}

	// Hijacked connections are not covered by Shutdown.
	s.handlers.closeWatchers()
	s.handlers.watchers.Wait()
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}
