// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
)

// NewSessionsCmd creates the sessions subcommand.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted sessions",
	}
	cmd.AddCommand(newSessionsPruneCmd(nil))
	return cmd
}

func newSessionsPruneCmd(deps *ServeDeps) *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete persisted sessions older than a duration",
		Long: `Delete sessions in the postgres or redis session store whose age exceeds
--older-than (default: auth.session_duration).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg := loaded.Config

			ttl := cfg.Auth.SessionDuration.Std()
			if olderThan != "" {
				d, err := config.ParseDuration(olderThan)
				if err != nil {
					return err
				}
				ttl = d.Std()
			}

			switch cfg.Storage.Sessions {
			case config.StorePostgres, config.StoreRedis:
			default:
				return oops.Code("SESSIONS_PRUNE_UNSUPPORTED").
					With("sessions_store", cfg.Storage.Sessions).
					Errorf("pruning needs a shared session store (postgres or redis)")
			}

			logger, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			comps, err := buildComponents(cmd.Context(), cfg, logger, deps)
			if err != nil {
				return err
			}
			defer comps.Close()

			n, err := comps.service.PruneSessions(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			cmd.Printf("Pruned %d sessions older than %s\n", n, ttl.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "age cutoff, e.g. 24h or seconds")
	return cmd
}
