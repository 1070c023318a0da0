package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/storm-crm/internal/config"
	"github.com/jonathan/storm-crm/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long:  "Apply, revert or inspect the embedded schema migrations. Requires DATABASE_URL.",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := db.MigrateUp(url); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all applied migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := db.MigrateDown(url); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations reverted")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		version, dirty, err := db.MigrationVersion(url)
		if err != nil {
			return err
		}
		if dirty {
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

// migrationURL returns the database URL; migrations only apply to the postgres store.
func migrationURL() (string, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return "", err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return "", fmt.Errorf("migrations require the %s store, configured store is %s",
			config.DriverPostgres, cfg.StoreDriver)
	}
	return cfg.DatabaseURL, nil
}
