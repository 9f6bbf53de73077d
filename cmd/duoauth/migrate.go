// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/duoauth/internal/config"
	"github.com/holomush/duoauth/internal/credential/backend"
	"github.com/holomush/duoauth/internal/credential/postgres"
	"github.com/holomush/duoauth/internal/credential/sqlite"
	"github.com/holomush/duoauth/internal/credential/sqlmigrate"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the SQL backends",
		Long: `Apply or inspect the schema migrations of the configured sqlite or
postgres backend. The json and redis backends have no schema.`,
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *sqlmigrate.Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *sqlmigrate.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("version %d (dirty)\n", v)
					return nil
				}
				cmd.Printf("version %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*sqlmigrate.Migrator) error) error {
	cfg, err := config.Load(config.Locate(configFile), cmd.Flags())
	if err != nil {
		return err
	}

	m, err := openMigrator(cfg.Backend())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("closing migrator: %v\n", closeErr)
		}
	}()
	return fn(m)
}

func openMigrator(cfg backend.Config) (*sqlmigrate.Migrator, error) {
	kind, _ := backend.Resolve(cfg)
	switch kind {
	case backend.KindSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			return nil, oops.Code("MIGRATION_INIT_FAILED").With("path", cfg.SQLitePath).Wrap(err)
		}
		return sqlite.NewMigrator(cfg.SQLitePath)
	case backend.KindPostgres:
		return postgres.NewMigrator(cfg.PostgresURL)
	default:
		return nil, oops.Code("MIGRATION_UNSUPPORTED").
			With("database", string(kind)).
			Errorf("backend %q has no schema to migrate", kind)
	}
}
