// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noldarim/boardlink/internal/agent"
	"github.com/noldarim/boardlink/internal/backend"
	"github.com/noldarim/boardlink/internal/board"
	"github.com/noldarim/boardlink/internal/config"
	"github.com/noldarim/boardlink/internal/engine"
	"github.com/noldarim/boardlink/internal/feature/auth"
	"github.com/noldarim/boardlink/internal/feature/monitor"
	"github.com/noldarim/boardlink/internal/logger"
	"github.com/noldarim/boardlink/internal/panel"
	"github.com/noldarim/boardlink/internal/protocol"
	"github.com/noldarim/boardlink/internal/status"
)

// ErrPanelClosed is the stop reason when the user quits the panel.
var ErrPanelClosed = errors.New("panel closed")

type agentOptions struct {
	panel bool
}

func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &agentOptions{}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the board agent",
		Long: `Connect to the lab server and serve its requests until the connection
drops, the server rejects the credentials, or the process is interrupted.

With --panel the fake board gets a terminal front panel: LEDs, text and
displays written by the client are shown, and keys toggle switches and
press buttons.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.NewConfig(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			return runAgent(ctx, cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.panel, "panel", false, "show the fake board front panel")
	return cmd
}

func runAgent(ctx context.Context, cfg *config.AppConfig, opts *agentOptions) error {
	if opts.panel {
		if cfg.Board.Type != config.BoardFake {
			return fmt.Errorf("--panel needs a %s board, configured: %s", config.BoardFake, cfg.Board.Type)
		}
		quietConsole(&cfg.Log)
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if err := logger.CloseGlobal(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logger: %v\n", err)
		}
	}()
	log := logger.GetAgentLogger()

	var written chan []byte
	if opts.panel {
		written = make(chan []byte, 64)
	}
	b := buildBoard(cfg, written)

	client, err := backend.NewClient(cfg.Backend, cfg.Auth)
	if err != nil {
		return err
	}
	wsURL, err := cfg.Backend.WebsocketEndpoint()
	if err != nil {
		return err
	}

	stats := &engine.Stats{}
	eng := board.NewEngine(board.Options{
		Board:       b,
		Device:      cfg.Board.Device,
		Heartbeat:   cfg.Board.Heartbeat,
		Backend:     client,
		Credentials: auth.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password},
		Monitor: monitor.Settings{
			ReadTimeout: cfg.Monitor.ReadTimeout,
			ReadSize:    cfg.Monitor.ReadSize,
			Default: protocol.MonitorConfig{
				BaudRate: cfg.Monitor.BaudRate,
				Framing:  protocol.Framing(cfg.Monitor.Framing),
			},
		},
		Stats: stats,
	})

	// Side services live until the agent is done. The panel must restore the
	// terminal before we return.
	var side sync.WaitGroup
	defer side.Wait()
	sideCtx, cancelSide := context.WithCancel(ctx)
	defer cancelSide()

	if cfg.Status.Enabled {
		srv := status.New(cfg.Status, board.Observer{Engine: eng, Stats: stats})
		side.Add(1)
		go func() {
			defer side.Done()
			if err := srv.Run(sideCtx); err != nil {
				log.Error().Err(err).Msg("Status API failed")
			}
		}()
	}
	if opts.panel {
		side.Add(1)
		go func() {
			defer side.Done()
			if err := panel.Run(sideCtx, panel.New(eng, panel.WithWritten(written))); err != nil {
				log.Error().Err(err).Msg("Panel failed")
			}
			eng.Stop(ErrPanelClosed)
		}()
	}

	a := agent.New(agent.NewWebSocket(wsURL, agent.WithHeader("User-Agent", appName+"/"+appVersion)), eng)
	log.Info().
		Str("agent_id", a.ID()).
		Str("board", b.Kind()).
		Str("server", wsURL).
		Msg("Starting agent")

	reason := a.Run(ctx)
	switch {
	case reason == nil,
		errors.Is(reason, context.Canceled),
		errors.Is(reason, status.ErrShutdownRequested),
		errors.Is(reason, ErrPanelClosed):
		log.Info().Err(reason).Msg("Agent stopped")
		return nil
	default:
		log.Error().Err(reason).Msg("Agent stopped")
		return reason
	}
}

func buildBoard(cfg *config.AppConfig, written chan<- []byte) board.Board {
	switch cfg.Board.Type {
	case config.BoardScript:
		return board.NewScript(cfg.Board.UploadScript, cfg.Board.Device, cfg.Board.UploadTimeout)
	default:
		opts := []board.FakeOption{board.WithTick(cfg.Board.FakeTick)}
		if written != nil {
			opts = append(opts, board.WithWriteSink(func(data []byte) {
				select {
				case written <- data:
				default:
				}
			}))
		}
		return board.NewFake(opts...)
	}
}

// quietConsole keeps log lines off the terminal while the panel owns it.
func quietConsole(cfg *config.LogConfig) {
	for i := range cfg.Output {
		if cfg.Output[i].Type == "console" {
			cfg.Output[i].Enabled = false
		}
	}
}
