package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hireflow/hireflow/internal/cli/ui"
	"github.com/hireflow/hireflow/internal/store"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Apply and inspect the schema migrations bundled with the binary.

Available subcommands:
  up       - Apply all pending migrations
  down     - Roll back the last applied migration
  status   - Show which migrations are applied`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE:  runMigrateStatus,
	})

	return cmd
}

type migrateEnv struct {
	migrator   *store.Migrator
	migrations []*store.Migration
	close      func() error
}

func openMigrator(cmd *cobra.Command) (*migrateEnv, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	migrations, err := store.Migrations()
	if err != nil {
		return nil, err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	return &migrateEnv{
		migrator:   store.NewMigrator(db, logger),
		migrations: migrations,
		close:      db.Close,
	}, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	env, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	out := cmd.OutOrStdout()
	var applied int
	err = ui.WithSpinner(out, "Applying migrations", noColor, func() error {
		applied, err = env.migrator.Up(cmd.Context(), env.migrations)
		return err
	})
	if err != nil {
		return &reportError{err: err, report: ui.MigrationError(err, noColor)}
	}

	if applied == 0 {
		fmt.Fprintln(out, "Schema is up to date")
		return nil
	}
	ui.Success(out, fmt.Sprintf("Applied %d migration(s)", applied), noColor)
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	env, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	mig, err := env.migrator.Down(cmd.Context(), env.migrations)
	if err != nil {
		return &reportError{err: err, report: ui.MigrationError(err, noColor)}
	}
	if mig == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back")
		return nil
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Rolled back %d_%s", mig.Version, mig.Name), noColor)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	env, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	statuses, err := env.migrator.Status(cmd.Context(), env.migrations)
	if err != nil {
		return err
	}

	table := ui.NewTable(cmd.OutOrStdout(), noColor, "Version", "Name", "Status", "Applied at")
	pending := 0
	for _, s := range statuses {
		state := "applied"
		if !s.Applied {
			state = "pending"
			pending++
		}
		table.AddRow(fmt.Sprintf("%d", s.Version), s.Name, state, formatTime(s.AppliedAt))
	}
	table.Render()

	if pending > 0 {
		fmt.Fprint(cmd.OutOrStdout(), "\n"+ui.Warning(fmt.Sprintf("%d migration(s) pending; run hireflow migrate up", pending), noColor))
	}
	return nil
}
