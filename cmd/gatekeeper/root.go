// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "gatekeeper - credential and session service",
		Long: `gatekeeper registers users, verifies credentials, manages sessions and
password resets, and guards an HTTP API with a pluggable auth strategy.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSessionsCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Loaded, error) {
	return config.Load(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault(logging.Options{
		Service: "gatekeeper",
		Version: version,
		Format:  cfg.Format,
		Level:   level,
		Redact:  cfg.Redact,
	}), nil
}
