// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/store"
)

// migrator wraps the methods the migrate commands use from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand. Without a subcommand it applies pending migrations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema used by the
postgres user and session stores. Without a subcommand, applies all
pending migrations.`,
		RunE: runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the current schema version and clear the dirty flag.
Use after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops every gatekeeper table)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("refusing to drop all tables without --yes")
			}
			return withMigrator(cmd, func(m migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm dropping all tables")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the applied schema version and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				if jsonOutput {
					data, err := json.MarshalIndent(status, "", "  ")
					if err != nil {
						return oops.Code("OUTPUT_FAILED").Wrap(err)
					}
					cmd.Println(string(data))
					return nil
				}
				cmd.Println(formatMigrationStatus(status))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m migrator) error {
		if err := m.Force(version); err != nil {
			return err
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil
	})
}

// withMigrator resolves the database URL from configuration and runs fn.
func withMigrator(cmd *cobra.Command, fn func(migrator) error) error {
	loaded, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := getDatabaseURL(loaded.Config.Storage.DatabaseURL)
	if err != nil {
		return err
	}

	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

func getDatabaseURL(configured string) (string, error) {
	if configured == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("storage.database_url is required (set it in the config file, GATEKEEPER_STORAGE__DATABASE_URL, DATABASE_URL or --database-url)")
	}
	return configured, nil
}

// parseForceVersion parses the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

func formatMigrationStatus(s store.MigrationStatus) string {
	var b strings.Builder
	if s.Version == 0 {
		b.WriteString("Schema version: none")
	} else {
		fmt.Fprintf(&b, "Schema version: %d (%s)", s.Version, s.Name)
	}
	if s.Dirty {
		b.WriteString(" [dirty]")
	}
	if len(s.Pending) == 0 {
		b.WriteString("\nPending: none")
		return b.String()
	}
	pending := make([]string, len(s.Pending))
	for i, v := range s.Pending {
		pending[i] = fmt.Sprintf("%d", v)
	}
	fmt.Fprintf(&b, "\nPending: %s", strings.Join(pending, ", "))
	return b.String()
}
