// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package serialport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtual_InjectAndRead(t *testing.T) {
	v := NewVirtual()
	require.NoError(t, v.Inject([]byte("hello")))

	buf := make([]byte, 3)
	n, err := v.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	n, err = v.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))
}

func TestVirtual_ReadTimeout(t *testing.T) {
	v := NewVirtual()
	require.NoError(t, v.SetReadTimeout(20*time.Millisecond))

	start := time.Now()
	n, err := v.Read(make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestVirtual_BlockedReadWakesOnInject(t *testing.T) {
	v := NewVirtual()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := v.Read(buf)
		got <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, v.Inject([]byte("ping")))

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(time.Second):
		t.Fatal("read did not wake up")
	}
}

func TestVirtual_CloseUnblocksRead(t *testing.T) {
	v := NewVirtual()

	errs := make(chan error, 1)
	go func() {
		_, err := v.Read(make([]byte, 4))
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPortClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not return after close")
	}

	_, err := v.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrPortClosed)
	assert.ErrorIs(t, v.Inject([]byte("x")), ErrPortClosed)
}

func TestVirtual_OnWrite(t *testing.T) {
	var written [][]byte
	v := NewVirtual(WithOnWrite(func(b []byte) { written = append(written, b) }))

	n, err := v.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{[]byte("abc")}, written)
}
