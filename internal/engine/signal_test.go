// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_FirstReasonWins(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Fired())
	assert.Nil(t, s.Reason())

	first := errors.New("first")
	assert.True(t, s.Fire(first))
	assert.False(t, s.Fire(errors.New("second")))

	assert.True(t, s.Fired())
	assert.Equal(t, first, s.Reason())
}

func TestSignal_WaitBroadcasts(t *testing.T) {
	s := NewSignal()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Same(t, s, s.Wait())
		}()
	}

	s.Fire(nil)
	wg.Wait()
}

func TestRace_OperationWins(t *testing.T) {
	s := NewSignal()

	v, err := Race(func(context.Context) (int, error) { return 7, nil }, s)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, s.Fired(), "signal must stay unfired")
}

func TestRace_OperationError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Race(func(context.Context) (int, error) { return 0, boom }, NewSignal())
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCancelled(err))
}

func TestRace_SignalWinsAndCancelsLoser(t *testing.T) {
	s := NewSignal()
	reason := errors.New("shutdown")

	loserDone := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Fire(reason)
	}()

	_, err := Race(func(ctx context.Context) (int, error) {
		defer close(loserDone)
		<-ctx.Done()
		return 0, ctx.Err()
	}, s)

	require.True(t, IsCancelled(err))
	var cancelled *CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Same(t, s, cancelled.Signal)
	assert.Contains(t, err.Error(), "shutdown")

	select {
	case <-loserDone:
	default:
		t.Fatal("Race returned before the operation finished")
	}
}

func TestRace_AlreadyFired(t *testing.T) {
	s := NewSignal()
	s.Fire(nil)

	called := false
	_, err := Race(func(context.Context) (int, error) {
		called = true
		return 1, nil
	}, s)
	assert.True(t, IsCancelled(err))
	assert.False(t, called)
}

func TestRace_SecondSignalWins(t *testing.T) {
	engineSignal, sessionSignal := NewSignal(), NewSignal()
	go func() {
		time.Sleep(5 * time.Millisecond)
		sessionSignal.Fire(nil)
	}()

	_, err := Race(func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, nil
	}, engineSignal, sessionSignal)

	var cancelled *CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Same(t, sessionSignal, cancelled.Signal)
	assert.False(t, engineSignal.Fired())
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(time.Millisecond, NewSignal()))

	s := NewSignal()
	go s.Fire(nil)
	start := time.Now()
	err := Sleep(time.Minute, s)
	assert.True(t, IsCancelled(err))
	assert.Less(t, time.Since(start), time.Second)
}
