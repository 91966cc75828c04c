package main

import (
	"errors"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dbz-battle/authapi/internal/config"
	"github.com/dbz-battle/authapi/internal/infra"
)

// NewMigrateCmd creates the migrate subcommand and its up/down/version children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply or roll back the embedded schema migrations against DATABASE_URL.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrateUp(url); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			err = withMigrator(url, func(m *infra.Migrator) error { return m.Down() })
			if err != nil {
				return err
			}
			cmd.Println("Migrations rolled back")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return withMigrator(url, func(m *infra.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return cmd
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}
	return cfg.DatabaseURL, nil
}

func migrateUp(url string) error {
	return withMigrator(url, func(m *infra.Migrator) error { return m.Up() })
}

func withMigrator(url string, fn func(*infra.Migrator) error) (err error) {
	m, err := infra.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()
	return fn(m)
}
