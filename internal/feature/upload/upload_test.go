// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/protocol"
)

type downloaderFunc func(context.Context, string) (string, error)

func (f downloaderFunc) SoftwareDownload(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

type uploaderFunc func(context.Context, string) error

func (f uploaderFunc) Upload(ctx context.Context, path string) error { return f(ctx, path) }

type uploadState struct {
	up State
	dl Downloader
	ul Uploader
}

func (s uploadState) Upload() State { return s.up }
func (s uploadState) WithUpload(u State) uploadState {
	s.up = u
	return s
}
func (s uploadState) Downloader() Downloader { return s.dl }
func (s uploadState) Uploader() Uploader     { return s.ul }

func takeIncoming(t *testing.T, b engine.Base) protocol.Incoming {
	t.Helper()
	msg, ok := b.Incoming.TryGet()
	require.True(t, ok, "expected an incoming message")
	return msg
}

func takeOutgoing(t *testing.T, b engine.Base) protocol.Outgoing {
	t.Helper()
	msg, ok := b.Outgoing.TryGet()
	require.True(t, ok, "expected an outgoing message")
	return msg
}

// step projects msg through the feature the way the engine would.
func step(t *testing.T, f Feature[uploadState], fx engine.Effects, s uploadState, msg protocol.Incoming) uploadState {
	t.Helper()
	events, err := f.HandleMessage(s, msg)
	require.NoError(t, err)
	for _, ev := range events {
		prev := s
		s = f.StateProject(s, ev)
		f.EffectProject(fx, prev, ev)
	}
	return s
}

func TestUpload_Pipeline(t *testing.T) {
	f := New[uploadState]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	file := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(file, []byte("fw"), 0o644))

	var flashed string
	s := uploadState{
		up: State{Phase: PhaseIdle},
		dl: downloaderFunc(func(_ context.Context, id string) (string, error) {
			assert.Equal(t, "sw-1", id)
			return file, nil
		}),
		ul: uploaderFunc(func(_ context.Context, path string) error {
			flashed = path
			return nil
		}),
	}

	s = step(t, f, fx, s, protocol.UploadMessage{SoftwareID: "sw-1"})
	assert.Equal(t, PhaseDownloading, s.Upload().Phase)

	s = step(t, f, fx, s, takeIncoming(t, base))
	s = step(t, f, fx, s, takeIncoming(t, base))
	assert.Equal(t, PhaseUploading, s.Upload().Phase)

	s = step(t, f, fx, s, takeIncoming(t, base))
	assert.Equal(t, State{Phase: PhaseIdle, SoftwareID: "sw-1"}, s.Upload())
	assert.Equal(t, file, flashed)
	assert.NoFileExists(t, file, "downloaded software is removed after the upload")

	assert.Equal(t, protocol.UploadResultMessage{}, takeOutgoing(t, base))
}

func TestUpload_DownloadFailure(t *testing.T) {
	f := New[uploadState]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	s := uploadState{
		dl: downloaderFunc(func(context.Context, string) (string, error) {
			return "", errors.New("404")
		}),
	}
	s = step(t, f, fx, s, protocol.UploadMessage{SoftwareID: "x"})
	s = step(t, f, fx, s, takeIncoming(t, base))

	assert.Equal(t, PhaseIdle, s.Upload().Phase)
	assert.Equal(t, "404", s.Upload().LastError)

	out, ok := takeOutgoing(t, base).(protocol.UploadResultMessage)
	require.True(t, ok)
	require.NotNil(t, out.Error)
	assert.Equal(t, "download failed: 404", *out.Error)
}

func TestUpload_UploaderFailure(t *testing.T) {
	f := New[uploadState]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	s := uploadState{
		up: State{Phase: PhaseUploading},
		ul: uploaderFunc(func(context.Context, string) error {
			return errors.New("script exited with code 2")
		}),
	}
	s = step(t, f, fx, s, protocol.InternalUploadBoardSoftware{FilePath: filepath.Join(t.TempDir(), "gone")})
	s = step(t, f, fx, s, takeIncoming(t, base))

	assert.Equal(t, PhaseIdle, s.Upload().Phase)
	out, ok := takeOutgoing(t, base).(protocol.UploadResultMessage)
	require.True(t, ok)
	require.NotNil(t, out.Error)
	assert.Equal(t, "script exited with code 2", *out.Error)
}

func TestUpload_RejectedWhileBusy(t *testing.T) {
	f := New[uploadState]()
	base := engine.NewBase()
	fx := engine.NewEffects(context.Background(), base)

	busy := uploadState{up: State{Phase: PhaseDownloading, SoftwareID: "first"}}
	s := step(t, f, fx, busy, protocol.UploadMessage{SoftwareID: "second"})

	assert.Equal(t, busy.Upload(), s.Upload())
	out, ok := takeOutgoing(t, base).(protocol.UploadResultMessage)
	require.True(t, ok)
	require.NotNil(t, out.Error)
	assert.Equal(t, ErrUploadInProgress.Error(), *out.Error)
}

func TestUpload_EmptySoftwareID(t *testing.T) {
	_, err := New[uploadState]().HandleMessage(uploadState{}, protocol.UploadMessage{})
	assert.Error(t, err)
}
