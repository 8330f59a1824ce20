// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package status

import (
	"errors"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9\-_]{1,128}$`)

// withRequestLog tags the request with an ID, reusing a well-formed one
// from the caller, and puts a logger carrying it into the request context.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		l := getLog().With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func requestLog(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

// accessLog logs every request once served. Watch streams are logged when
// they end.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 && websocket.IsWebSocketUpgrade(r) {
			status = http.StatusSwitchingProtocols
		}
		ev := requestLog(r).Info()
		if r.URL.Path == "/healthz" {
			ev = requestLog(r).Debug()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Status API request")
	})
}

// recoverPanics answers a panicking handler with a 500.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			requestLog(r).Error().
				Interface("panic", rec).
				Str("path", r.URL.Path).
				Str("stack", string(debug.Stack())).
				Msg("Status handler panicked")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
