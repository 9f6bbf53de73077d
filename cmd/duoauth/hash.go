// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/duoauth/internal/auth"
	"github.com/holomush/duoauth/internal/config"
)

// newHashCmd creates the hash subcommand.
func newHashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash [secret]",
		Short: "Print a bcrypt hash of a secret",
		Long: `Print a bcrypt hash of a password or PIN at the configured cost factor.
The secret is read from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("cost-factor") {
				cfg, err := config.Load(config.Locate(configFile), nil)
				if err != nil {
					return err
				}
				cost = cfg.CostFactor
			}
			return runHash(cmd, cost, args)
		},
	}

	cmd.Flags().IntVar(&cost, "cost-factor", auth.DefaultCost, "bcrypt cost factor (12-30)")

	return cmd
}

func runHash(cmd *cobra.Command, cost int, args []string) error {
	var secret string
	if len(args) == 1 {
		secret = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return oops.Code("HASH_INPUT_FAILED").Wrapf(err, "read secret")
		}
		secret = strings.TrimRight(line, "\r\n")
	}

	clamped, changed := auth.ClampCost(cost)
	if changed {
		cmd.PrintErrf("cost factor %d out of range; using %d\n", cost, clamped)
	}

	hash, err := auth.NewBcryptHasher(clamped).Hash(secret)
	if err != nil {
		return err
	}
	cmd.Println(hash)
	return nil
}
