package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hireflow/hireflow/internal/cli/ui"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

// NewJobsCommand creates the jobs command
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue and status",
		RunE:  runJobsStats,
	})

	return cmd
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := jobs.NewQueue(db).Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(stats) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return nil
	}

	table := ui.NewTable(out, noColor, "Queue", "Pending", "Running", "Completed", "Failed", "Cancelled")
	failed := 0
	for _, s := range stats {
		table.AddRow(s.Queue,
			strconv.Itoa(s.Pending),
			strconv.Itoa(s.Running),
			strconv.Itoa(s.Completed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Cancelled))
		failed += s.Failed
	}
	table.Render()

	if failed > 0 {
		fmt.Fprint(out, "\n"+ui.Warning(fmt.Sprintf("%d job(s) failed permanently", failed), noColor))
	}
	return nil
}
