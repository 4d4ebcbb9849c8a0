// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newLoginCmd(deps *Deps) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Check a username and password against the configured authenticators",
		Long: `Check a username and password against each configured authenticator
in order and print the resulting identity as JSON. The password is read from
the first line of standard input unless --password is given. Exits non-zero
on failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, deps, args[0], password)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (visible in process listings; prefer stdin)")
	return cmd
}

func runLogin(cmd *cobra.Command, deps *Deps, username, password string) error {
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	password, err = resolvePassword(cmd, password)
	if err != nil {
		return err
	}

	b, err := openBackend(cmd.Context(), cfg, deps, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	identity, err := b.gateway.Authenticate(cmd.Context(), username, password)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(identity); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
