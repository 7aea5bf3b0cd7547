package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const exportSchema = `
	CREATE TABLE IF NOT EXISTS stage_counts (
		stage TEXT PRIMARY KEY,
		count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funnel (
		position INTEGER PRIMARY KEY,
		stage TEXT NOT NULL,
		reached INTEGER NOT NULL,
		conversion_rate REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		source TEXT PRIMARY KEY,
		count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS summary (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Exporter writes dashboard snapshots into SQLite files
type Exporter struct{}

// NewExporter creates an exporter
func NewExporter() *Exporter {
	return &Exporter{}
}

// Export writes d to the SQLite database at path, replacing any snapshot
// already there
func (e *Exporter) Export(ctx context.Context, d *Dashboard, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open export file: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, exportSchema); err != nil {
		return fmt.Errorf("failed to create export tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin export: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stage_counts", "funnel", "sources", "summary"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, k := range sortedKeys(d.StageCounts) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stage_counts (stage, count) VALUES (?, ?)`, k, d.StageCounts[k]); err != nil {
			return fmt.Errorf("failed to export stage counts: %w", err)
		}
	}
	for i, step := range d.Funnel {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funnel (position, stage, reached, conversion_rate) VALUES (?, ?, ?, ?)`,
			i, string(step.Stage), step.Reached, step.ConversionRate); err != nil {
			return fmt.Errorf("failed to export funnel: %w", err)
		}
	}
	for _, k := range sortedKeys(d.SourceBreakdown) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sources (source, count) VALUES (?, ?)`, k, d.SourceBreakdown[k]); err != nil {
			return fmt.Errorf("failed to export sources: %w", err)
		}
	}

	posting := ""
	if d.PostingID != nil {
		posting = d.PostingID.String()
	}
	summary := [][2]string{
		{"generated_at", d.GeneratedAt.UTC().Format(time.RFC3339)},
		{"posting_id", posting},
		{"avg_time_to_hire_days", strconv.FormatFloat(d.AvgTimeToHireDays, 'f', 2, 64)},
		{"open_postings", strconv.Itoa(d.OpenPostings)},
		{"applications_last_30_days", strconv.Itoa(d.ApplicationsLast30Days)},
	}
	for _, kv := range summary {
		if _, err := tx.ExecContext(ctx, `INSERT INTO summary (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to export summary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
