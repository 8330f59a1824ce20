// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload downloads board software from the backend and flashes it.
//
// Each step is an effect that reports back with an internal message:
//
//	UploadMessage -> Downloading -> InternalSucceededSoftwareDownload
//	  -> DownloadSucceeded -> InternalUploadBoardSoftware -> Uploading
//	  -> InternalSucceededSoftwareUpload | InternalFailedSoftwareUpload
//	  -> UploadResultMessage
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/protocol"
)

const Name = "upload"

var ErrUploadInProgress = errors.New("an upload is already in progress")

// Downloader fetches a software image and returns the path of a local file.
type Downloader interface {
	SoftwareDownload(ctx context.Context, softwareID string) (string, error)
}

// Uploader flashes a local file onto the board.
type Uploader interface {
	Upload(ctx context.Context, filePath string) error
}

// Phase of the upload pipeline.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseUploading   Phase = "uploading"
)

// State is the upload part of a board state.
type State struct {
	Phase      Phase  `json:"phase"`
	SoftwareID string `json:"software_id,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type Downloading struct {
	SoftwareID string
}

type DownloadSucceeded struct {
	FilePath string
}

type DownloadFailed struct {
	Reason error
}

type Uploading struct {
	FilePath string
}

type Succeeded struct{}

type Failed struct {
	Reason error
}

// Rejected answers an upload request that arrived while another one runs.
type Rejected struct {
	SoftwareID string
}

func (Downloading) EventName() string       { return "upload.downloading" }
func (DownloadSucceeded) EventName() string { return "upload.download_succeeded" }
func (DownloadFailed) EventName() string    { return "upload.download_failed" }
func (Uploading) EventName() string         { return "upload.uploading" }
func (Succeeded) EventName() string         { return "upload.succeeded" }
func (Failed) EventName() string            { return "upload.failed" }
func (Rejected) EventName() string          { return "upload.rejected" }

type Holder[S any] interface {
	Upload() State
	WithUpload(State) S
	Downloader() Downloader
	Uploader() Uploader
}

type Feature[S Holder[S]] struct{}

func New[S Holder[S]]() Feature[S] {
	return Feature[S]{}
}

func (Feature[S]) Name() string { return Name }

func (Feature[S]) HandleMessage(state S, msg protocol.Incoming) ([]engine.Event, error) {
	switch m := msg.(type) {
	case protocol.UploadMessage:
		if m.SoftwareID == "" {
			return nil, errors.New("upload request without software id")
		}
		if p := state.Upload().Phase; p != "" && p != PhaseIdle {
			return []engine.Event{Rejected{SoftwareID: m.SoftwareID}}, nil
		}
		return []engine.Event{Downloading{SoftwareID: m.SoftwareID}}, nil
	case protocol.InternalSucceededSoftwareDownload:
		return []engine.Event{DownloadSucceeded{FilePath: m.FilePath}}, nil
	case protocol.InternalFailedSoftwareDownload:
		return []engine.Event{DownloadFailed{Reason: m.Reason}}, nil
	case protocol.InternalUploadBoardSoftware:
		return []engine.Event{Uploading{FilePath: m.FilePath}}, nil
	case protocol.InternalSucceededSoftwareUpload:
		return []engine.Event{Succeeded{}}, nil
	case protocol.InternalFailedSoftwareUpload:
		return []engine.Event{Failed{Reason: m.Reason}}, nil
	}
	return nil, nil
}

func (Feature[S]) StateProject(state S, ev engine.Event) S {
	cur := state.Upload()
	switch e := ev.(type) {
	case Downloading:
		return state.WithUpload(State{Phase: PhaseDownloading, SoftwareID: e.SoftwareID})
	case Uploading:
		cur.Phase = PhaseUploading
		return state.WithUpload(cur)
	case DownloadFailed:
		return state.WithUpload(State{Phase: PhaseIdle, SoftwareID: cur.SoftwareID, LastError: errText(e.Reason)})
	case Failed:
		return state.WithUpload(State{Phase: PhaseIdle, SoftwareID: cur.SoftwareID, LastError: errText(e.Reason)})
	case Succeeded:
		return state.WithUpload(State{Phase: PhaseIdle, SoftwareID: cur.SoftwareID})
	}
	return state
}

func (Feature[S]) EffectProject(fx engine.Effects, state S, ev engine.Event) {
	log := logger.GetUploadLogger()
	switch e := ev.(type) {
	case Downloading:
		log.Info().Str("software_id", e.SoftwareID).Msg("Downloading board software")
		path, err := state.Downloader().SoftwareDownload(fx.Context(), e.SoftwareID)
		if err != nil {
			fx.Post(protocol.InternalFailedSoftwareDownload{Reason: err})
			return
		}
		fx.Post(protocol.InternalSucceededSoftwareDownload{FilePath: path})

	case DownloadSucceeded:
		log.Debug().Str("path", e.FilePath).Msg("Board software downloaded")
		fx.Post(protocol.InternalUploadBoardSoftware{FilePath: e.FilePath})

	case DownloadFailed:
		log.Warn().Err(e.Reason).Msg("Board software download failed")
		fx.Send(protocol.UploadResultMessage{Error: protocol.ErrorText(fmt.Errorf("download failed: %w", e.Reason))})

	case Uploading:
		log.Info().Str("path", e.FilePath).Msg("Uploading board software")
		err := state.Uploader().Upload(fx.Context(), e.FilePath)
		if rmErr := os.Remove(e.FilePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Str("path", e.FilePath).Msg("Failed to remove downloaded software")
		}
		if err != nil {
			fx.Post(protocol.InternalFailedSoftwareUpload{Reason: err})
			return
		}
		fx.Post(protocol.InternalSucceededSoftwareUpload{})

	case Succeeded:
		log.Info().Msg("Board software uploaded")
		fx.Send(protocol.UploadResultMessage{})

	case Failed:
		log.Warn().Err(e.Reason).Msg("Board software upload failed")
		fx.Send(protocol.UploadResultMessage{Error: protocol.ErrorText(e.Reason)})

	case Rejected:
		log.Warn().Str("software_id", e.SoftwareID).Msg("Upload rejected, another one is running")
		fx.Send(protocol.UploadResultMessage{Error: protocol.ErrorText(ErrUploadInProgress)})
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
