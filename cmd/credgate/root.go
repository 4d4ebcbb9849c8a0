// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/credgate/internal/config"
	"github.com/holomush/credgate/internal/logging"
)

const serviceName = "credgate"

// NewRootCmd creates the root command for the credgate CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "credgate - local and directory credential verification",
		Long: `credgate signs up users into a PostgreSQL credential table and
authenticates them against that table and an optional LDAP directory.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file path (YAML)")
	flags.String("database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSlice("auth-order", nil, "authenticators to try, in order (local, directory)")

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newUserCmd(deps))
	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig layers the config file, environment and command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	return config.Load(path, cmd.Flags())
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := logging.New(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   logging.ParseLevel(cfg.Log.Level),
		Output:  w,
	})
	slog.SetDefault(logger)
	return logger
}

// prepare loads configuration and logging for a subcommand.
func prepare(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogging(cfg, cmd.ErrOrStderr()), nil
}
