package cmd

import (
	"fmt"
	"strings"

	"github.com/killallgit/marginalia/internal/database"
	"github.com/killallgit/marginalia/pkg/config"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Manage the annotation database schema.

Available subcommands:
  up      - Create or update every table
  status  - Show which tables exist`,
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply the schema",
		Long: `Create missing tables and columns in the configured database.

Applying the schema twice is a no-op.`,
		RunE: runMigrateUp,
	}
	upCmd.Flags().Bool("dry-run", false, "show the tables that would be migrated without changing anything")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  `Display every table of the schema and whether it exists in the configured database.`,
		RunE:  runMigrateStatus,
	}

	migrateCmd.AddCommand(upCmd, statusCmd)
	return migrateCmd
}

// openDatabase opens the configured database, optionally bringing the
// schema up to date
func openDatabase(cfg *config.Config, migrate bool) (*database.DB, error) {
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database path is not configured")
	}
	db, err := database.Open(database.OptionsFromConfig(cfg.Database))
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	db, err := openDatabase(cfg, !dryRun)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if dryRun {
		status, err := db.MigrationStatus()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Dry run mode - no changes will be made")
		for _, s := range status {
			if !s.Exists {
				fmt.Fprintf(out, "  would create %s\n", s.Table)
			}
		}
		return nil
	}

	fmt.Fprintf(out, "Schema is up to date (%s)\n", cfg.Database.Path)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.MigrationStatus()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Database Migration Status")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	for _, s := range status {
		state := "pending"
		if s.Exists {
			state = "applied"
		}
		fmt.Fprintf(out, "  %-30s %s\n", s.Table, state)
	}
	return nil
}
