// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package ping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/feature/lifecycle"
	"github.com/noldarim/boardlink/internal/protocol"
)

type heartbeat time.Duration

func (h heartbeat) Heartbeat() time.Duration { return time.Duration(h) }

func TestPing_SendsUntilCancelled(t *testing.T) {
	f := New[heartbeat]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.EffectProject(fx, heartbeat(5*time.Millisecond), lifecycle.Started{})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		msg, err := base.Outgoing.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, protocol.PingMessage{}, msg)
	}

	base.Signal.Fire(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
}

func TestPing_DisabledOrOtherEvents(t *testing.T) {
	f := New[heartbeat]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	f.EffectProject(fx, heartbeat(0), lifecycle.Started{})
	f.EffectProject(fx, heartbeat(time.Millisecond), lifecycle.Ended{})
	assert.Zero(t, base.Outgoing.Len())

	events, err := f.HandleMessage(heartbeat(1), protocol.InternalStartLifecycle{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
