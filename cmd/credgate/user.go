// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newUserCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}

	var password string
	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Sign up a local account",
		Long: `Sign up a local account. The password is read from the first line of
standard input unless --password is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, deps, args[0], password)
		},
	}
	create.Flags().StringVar(&password, "password", "", "password (visible in process listings; prefer stdin)")
	cmd.AddCommand(create)

	return cmd
}

func runUserCreate(cmd *cobra.Command, deps *Deps, username, password string) error {
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

	cred, err := b.store.CreateUser(cmd.Context(), username, password)
	if err != nil {
		return err
	}

	cmd.Printf("Created user %s (id %d, email %s)\n", cred.Username, cred.ID, cred.Email)
	return nil
}

// resolvePassword returns flagValue, or the first line of stdin when it is empty.
func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return "", nil
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
