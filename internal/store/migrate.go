package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a single schema migration
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrationStatus reports whether a migration has been applied
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

// Migrations returns the migrations bundled with the binary
func Migrations() ([]*Migration, error) {
	return LoadMigrations(embeddedMigrations, "migrations")
}

// LoadMigrations reads NNNN_name.up.sql / NNNN_name.down.sql pairs from dir
func LoadMigrations(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, direction, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration version %d has conflicting names %q and %q", version, m.Name, name)
		}

		if direction == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]*Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d_%s has no up file", m.Version, m.Name)
		}
		migrations = append(migrations, m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func parseMigrationFile(file string) (int64, string, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	var direction string
	switch {
	case strings.HasSuffix(base, ".up"):
		direction = "up"
	case strings.HasSuffix(base, ".down"):
		direction = "down"
	default:
		return 0, "", "", fmt.Errorf("migration %s must end in .up.sql or .down.sql", file)
	}
	base = strings.TrimSuffix(base, "."+direction)

	versionPart, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("migration %s must be named NNNN_name", file)
	}
	version, err := strconv.ParseInt(versionPart, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("migration %s has invalid version: %w", file, err)
	}
	return version, name, direction, nil
}

// Migrator applies migrations and records them in schema_migrations
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMigrator creates a migrator
func NewMigrator(db *sql.DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger}
}

// Initialize ensures the schema_migrations table exists
func (m *Migrator) Initialize(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	return nil
}

// applied returns applied versions mapped to their application time
func (m *Migrator) applied(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]time.Time)
	for rows.Next() {
		var version int64
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return applied, nil
}

// Up applies every pending migration in version order and returns how many ran
func (m *Migrator) Up(ctx context.Context, migrations []*Migration) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		start := time.Now()
		if err := m.exec(ctx, mig.Up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
			return count, fmt.Errorf("migration %d_%s failed: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info("applied migration",
			zap.Int64("version", mig.Version),
			zap.String("name", mig.Name),
			zap.Duration("duration", time.Since(start)))
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migration.
// Returns nil, nil when nothing is applied.
func (m *Migrator) Down(ctx context.Context, migrations []*Migration) (*Migration, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var last *Migration
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			last = mig
		}
	}
	if last == nil {
		return nil, nil
	}
	if last.Down == "" {
		return nil, fmt.Errorf("migration %d_%s has no down migration", last.Version, last.Name)
	}

	if err := m.exec(ctx, last.Down, `DELETE FROM schema_migrations WHERE version = $1`, last.Version); err != nil {
		return nil, fmt.Errorf("rollback of %d_%s failed: %w", last.Version, last.Name, err)
	}
	m.logger.Info("rolled back migration", zap.Int64("version", last.Version), zap.String("name", last.Name))
	return last, nil
}

// Status lists every known migration with its applied state
func (m *Migrator) Status(ctx context.Context, migrations []*Migration) ([]MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		at, ok := applied[mig.Version]
		statuses = append(statuses, MigrationStatus{Migration: *mig, Applied: ok, AppliedAt: at})
	}
	return statuses, nil
}

// exec runs a migration body and its bookkeeping statement in one transaction
func (m *Migrator) exec(ctx context.Context, body, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
