package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hireflow/hireflow/internal/ats/analytics"
	"github.com/hireflow/hireflow/internal/ats/tenants"
	"github.com/hireflow/hireflow/internal/cli/ui"
)

var (
	exportTenant  string
	exportPosting string
	exportOut     string
)

// NewAnalyticsCommand creates the analytics command
func NewAnalyticsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Hiring analytics",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write a dashboard snapshot to a SQLite file",
		Long: `Compute the dashboard of a tenant, or of one of its postings, and write
it to a SQLite file with stage_counts, funnel, sources and summary tables.`,
		Example: `  hireflow analytics export --tenant acme --out reports/acme.db`,
		RunE:    runAnalyticsExport,
	}
	export.Flags().StringVar(&exportTenant, "tenant", "", "Tenant slug")
	export.Flags().StringVar(&exportPosting, "posting", "", "Restrict to one posting ID")
	export.Flags().StringVarP(&exportOut, "out", "o", "dashboard.db", "Output file")
	cmd.AddCommand(export)

	return cmd
}

func runAnalyticsExport(cmd *cobra.Command, args []string) error {
	var posting *uuid.UUID
	if exportPosting != "" {
		id, err := uuid.Parse(exportPosting)
		if err != nil {
			return fmt.Errorf("invalid --posting: %w", err)
		}
		posting = &id
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tenant, err := tenantID(cmd, tenants.NewStore(db), exportTenant)
	if err != nil {
		return err
	}

	svc := analytics.NewService(db, nil, logger)
	out := cmd.OutOrStdout()
	var d *analytics.Dashboard
	err = ui.WithSpinner(out, "Computing dashboard", noColor, func() error {
		d, err = svc.Dashboard(cmd.Context(), tenant, posting)
		if err != nil {
			return err
		}
		return analytics.NewExporter().Export(cmd.Context(), d, exportOut)
	})
	if err != nil {
		return err
	}

	kv := ui.NewKeyValues(out, noColor)
	kv.Add("File", exportOut)
	kv.Add("Open postings", fmt.Sprintf("%d", d.OpenPostings))
	kv.Add("Applications (30d)", fmt.Sprintf("%d", d.ApplicationsLast30Days))
	kv.Add("Generated", formatTime(d.GeneratedAt))
	kv.Render()
	return nil
}
