// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credgate/pkg/errutil"
)

// newMigrateCmd creates the migrate command group.
func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential database schema",
		Long: `Apply, roll back or inspect the users table migrations.
Without a subcommand, all pending migrations are applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, migrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, migrateUp)
		},
	})
	cmd.AddCommand(newMigrateDownCmd(deps))
	cmd.AddCommand(&cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the current version and pending migrations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, migrateStatus)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Mark VERSION as applied without running it. Use this to clear the
dirty flag after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func newMigrateDownCmd(deps *Deps) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all of them drops the users table)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 0 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("--steps must be positive")
			}
			return withMigrator(cmd, deps, func(cmd *cobra.Command, m Migrator) error {
				if steps > 0 {
					if err := m.Steps(-steps); err != nil {
						return err
					}
					cmd.Printf("Rolled back %d migration(s)\n", steps)
					return nil
				}
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 = all)")
	return cmd
}

func withMigrator(cmd *cobra.Command, deps *Deps, run func(*cobra.Command, Migrator) error) error {
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogWarn(logger, "failed to close migrator", closeErr)
		}
	}()

	return run(cmd, m)
}

func migrateUp(cmd *cobra.Command, m Migrator) error {
	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}

	cmd.Printf("Applying %d migration(s)...\n", len(pending))
	if err := m.Up(); err != nil {
		return err
	}
	slog.Info("migrations applied", "count", len(pending))
	cmd.Println("Migrations completed successfully")
	return nil
}

func migrateStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("Version: %d (%s)\n", version, state)
	if len(pending) == 0 {
		cmd.Println("Pending: none")
		return nil
	}
	cmd.Println("Pending:")
	for _, mig := range pending {
		cmd.Printf("  %s\n", mig)
	}
	return nil
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("invalid version %q: must be an integer", s)
	}
	return version, nil
}
