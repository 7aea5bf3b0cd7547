// Package audit records before/after snapshots of every mutation and
// renders field-level diffs between them.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/store"
)

// Action is what happened to the entity
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
	ActionReview Action = "review"
)

// Entity types
const (
	EntityPosting     = "posting"
	EntityCandidate   = "candidate"
	EntityApplication = "application"
	EntityDocument    = "document"
)

// Entry is one audit log row
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	ActorID    uuid.NullUUID   `json:"actor_id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Action     Action          `json:"action"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder writes audit entries. Services depend on this, not on *Log.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Record describes a mutation. Before and After are marshalled to JSON;
// nil means the snapshot does not exist (create or delete).
type Record struct {
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	Action     Action
	Before     interface{}
	After      interface{}
}

// Log is the Postgres-backed audit log
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// NewLog creates an audit log
func NewLog(db *sql.DB) *Log {
	return &Log{db: db, now: time.Now}
}

func snapshot(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Record appends an entry. It joins the transaction carried by ctx, so the
// entry commits or rolls back with the mutation it describes.
func (l *Log) Record(ctx context.Context, rec Record) error {
	before, err := snapshot(rec.Before)
	if err != nil {
		return fmt.Errorf("failed to encode before snapshot: %w", err)
	}
	after, err := snapshot(rec.After)
	if err != nil {
		return fmt.Errorf("failed to encode after snapshot: %w", err)
	}

	actor := uuid.NullUUID{UUID: rec.ActorID, Valid: rec.ActorID != uuid.Nil}
	_, err = store.Conn(ctx, l.db).ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor_id, entity_type, entity_id, action, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), rec.TenantID, actor, rec.EntityType, rec.EntityID, string(rec.Action), before, after, l.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", store.ConvertDBError(err))
	}
	return nil
}

const entryColumns = `id, tenant_id, actor_id, entity_type, entity_id, action, before, after, created_at`

func scanEntry(row store.RowScanner) (*Entry, error) {
	var e Entry
	var before, after []byte
	if err := row.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.EntityType, &e.EntityID, &e.Action, &before, &after, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Before = before
	e.After = after
	return &e, nil
}

// ListForEntity returns the entity's history, oldest first
func (l *Log) ListForEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at ASC, id ASC`,
		tenantID, entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one entry of the tenant
func (l *Log) Get(ctx context.Context, tenantID, id uuid.UUID) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit entry %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return e, nil
}

// DiffEntry returns the field-level changes recorded by one entry
func (l *Log) DiffEntry(ctx context.Context, tenantID, id uuid.UUID) ([]Change, error) {
	e, err := l.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return Diff(e.Before, e.After)
}
