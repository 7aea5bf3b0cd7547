// Package commands implements the hireflow command line.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/cli/config"
	"github.com/hireflow/hireflow/internal/cli/ui"
	"github.com/hireflow/hireflow/internal/logging"
	"github.com/hireflow/hireflow/internal/store"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configPath string
	noColor    bool
)

// openDB is replaced in tests
var openDB = func(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	return store.Open(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

// reportError carries a preformatted report for Execute to print
type reportError struct {
	err    error
	report string
}

func (e *reportError) Error() string { return e.err.Error() }
func (e *reportError) Unwrap() error { return e.err }

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hireflow",
		Short: "Applicant tracking backend",
		Long: color.CyanString(`hireflow - applicant tracking backend

Serves the hiring API, runs background workers and manages the database.
Configuration comes from hireflow.yaml or HIREFLOW_* environment variables.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewWorkerCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewTenantCommand())
	rootCmd.AddCommand(NewUserCommand())
	rootCmd.AddCommand(NewJobsCommand())
	rootCmd.AddCommand(NewAnalyticsCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			kv := ui.NewKeyValues(cmd.OutOrStdout(), noColor)
			kv.Add("hireflow", Version)
			kv.Add("Git commit", GitCommit)
			kv.Add("Build date", BuildDate)
			kv.Add("Go version", runtime.Version())
			kv.Render()
		},
	}
}

// loadConfig reads the configuration and builds the logger
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, &reportError{err: err, report: ui.ConfigError(err, noColor)}
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, &reportError{err: err, report: ui.ConfigError(err, noColor)}
	}
	return cfg, logger, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}

	var re *reportError
	if errors.As(err, &re) {
		rootCmd.PrintErr(re.report)
	} else {
		ui.Write(rootCmd.ErrOrStderr(), ui.Message{Problem: err.Error(), NoColor: noColor})
	}
	return err
}
