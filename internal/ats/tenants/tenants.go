// Package tenants manages the organisations that own all other data.
package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{3,40}$`)

// Tenant is one customer organisation
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists tenants
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a tenant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create validates and inserts a tenant. A taken slug is a validation error.
func (s *Store) Create(ctx context.Context, slug, name string) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	name = strings.TrimSpace(name)

	errs := validation.New()
	if !slugPattern.MatchString(slug) {
		errs.Add("slug", "must be 3-40 lowercase letters, digits or hyphens")
	}
	errs.Required("name", name)
	errs.MaxLength("name", name, 200)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	t := &Tenant{ID: uuid.New(), Slug: slug, Name: name, CreatedAt: s.now().UTC()}
	_, err := store.Conn(ctx, s.db).ExecContext(ctx,
		`INSERT INTO tenants (id, slug, name, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Slug, t.Name, t.CreatedAt,
	)
	if err != nil {
		err = store.ConvertDBError(err)
		if store.IsUniqueViolation(err) {
			errs.Add("slug", "is already taken")
			return nil, errs.Err()
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

func (s *Store) getOne(ctx context.Context, where string, arg interface{}) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at FROM tenants WHERE `+where, arg,
	).Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant: %w", store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// Get returns a tenant by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.getOne(ctx, "id = $1", id)
}

// GetBySlug returns a tenant by slug
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.getOne(ctx, "slug = $1", strings.ToLower(slug))
}
