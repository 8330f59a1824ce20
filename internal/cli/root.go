// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the boardlink command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	appName    = "boardlink"
	appVersion = "0.1.0-alpha"
)

// RootOptions holds flags shared by all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the boardlink command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Connect a development board to a remote lab server",
		Long:          "boardlink keeps a websocket open to the lab server and executes its upload and serial monitor requests against a local board.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: ./config.yaml, ~/.boardlink/config.yaml)")

	cmd.AddCommand(NewAgentCommand(opts))
	cmd.AddCommand(NewPortsCommand())
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, appVersion)
		},
	}
}
