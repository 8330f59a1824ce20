// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is matched (via errors.Is) by every *CancelledError.
var ErrCancelled = errors.New("cancelled")

// Signal is a one-shot, broadcastable stop flag carrying an optional reason.
// Firing it more than once is a no-op that keeps the first reason.
type Signal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason error
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire marks the signal as fired. Returns true only for the call that
// actually fired it.
func (s *Signal) Fire(reason error) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		fired = true
	})
	return fired
}

// Done returns a channel closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the signal fires and returns it.
func (s *Signal) Wait() *Signal {
	<-s.done
	return s
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason given to the first Fire call, or nil.
func (s *Signal) Reason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// CancelledError is returned by Race when a signal wins.
type CancelledError struct {
	Signal *Signal
}

func (e *CancelledError) Error() string {
	if r := e.Signal.Reason(); r != nil {
		return fmt.Sprintf("cancelled: %v", r)
	}
	return "cancelled"
}

// Is makes errors.Is(err, ErrCancelled) hold.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// IsCancelled reports whether err came from a signal winning a Race.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

type raceResult[T any] struct {
	value T
	err   error
}

// Race runs op concurrently with a wait on every signal. If a signal has
// already fired, or fires before op returns, Race cancels op's context,
// waits for op to return and reports a *CancelledError naming the signal.
// Otherwise it returns op's own result.
//
// op must honor its context: Race never returns while op is still running.
func Race[T any](op func(ctx context.Context) (T, error), signals ...*Signal) (T, error) {
	var zero T
	for _, s := range signals {
		if s.Fired() {
			return zero, &CancelledError{Signal: s}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan raceResult[T], 1)
	go func() {
		v, err := op(ctx)
		results <- raceResult[T]{value: v, err: err}
	}()

	won := make(chan *Signal, len(signals))
	stop := make(chan struct{})
	defer close(stop)
	for _, s := range signals {
		go func(s *Signal) {
			select {
			case <-s.Done():
				won <- s
			case <-stop:
			}
		}(s)
	}

	select {
	case r := <-results:
		return r.value, r.err
	case s := <-won:
		cancel()
		<-results
		return zero, &CancelledError{Signal: s}
	}
}

// Sleep waits for d unless one of the signals fires first, in which case it
// returns a *CancelledError.
func Sleep(d time.Duration, signals ...*Signal) error {
	_, err := Race(func(ctx context.Context) (struct{}, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return struct{}{}, nil
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	}, signals...)
	return err
}
