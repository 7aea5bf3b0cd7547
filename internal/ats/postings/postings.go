// Package postings manages job postings and their publication lifecycle.
package postings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/query"
)

var documentTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,39}$`)

// Posting is an open or planned job
type Posting struct {
	ID                uuid.UUID      `json:"id"`
	TenantID          uuid.UUID      `json:"tenant_id"`
	Title             string         `json:"title"`
	Department        string         `json:"department"`
	Location          string         `json:"location"`
	EmploymentType    EmploymentType `json:"employment_type"`
	Description       string         `json:"description"`
	Status            Status         `json:"status"`
	RequiredDocuments []string       `json:"required_documents"`
	AllowFastTrack    bool           `json:"allow_fast_track"`
	Version           int            `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
}

// Input holds the editable fields of a posting
type Input struct {
	Title             string         `json:"title"`
	Department        string         `json:"department"`
	Location          string         `json:"location"`
	EmploymentType    EmploymentType `json:"employment_type"`
	Description       string         `json:"description"`
	RequiredDocuments []string       `json:"required_documents"`
	AllowFastTrack    bool           `json:"allow_fast_track"`
}

func (in *Input) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Department = strings.TrimSpace(in.Department)
	in.Location = strings.TrimSpace(in.Location)

	seen := make(map[string]bool, len(in.RequiredDocuments))
	docs := make([]string, 0, len(in.RequiredDocuments))
	for _, d := range in.RequiredDocuments {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		docs = append(docs, d)
	}
	in.RequiredDocuments = docs
}

func (in *Input) validate() error {
	errs := validation.New()
	errs.Required("title", in.Title)
	errs.MaxLength("title", in.Title, 200)
	errs.MaxLength("department", in.Department, 100)
	errs.MaxLength("location", in.Location, 100)
	errs.MaxLength("description", in.Description, 20000)
	errs.OneOf("employment_type", string(in.EmploymentType), employmentTypes...)
	for _, d := range in.RequiredDocuments {
		if !documentTypePattern.MatchString(d) {
			errs.Add("required_documents", fmt.Sprintf("%q is not a valid document type", d))
		}
	}
	return errs.Err()
}

// ListOptions are the list parameters accepted for postings
var ListOptions = query.Options{
	Sortable:    []string{"created_at", "title"},
	Filterable:  []string{"status", "department"},
	DefaultSort: "-created_at",
	MaxPerPage:  100,
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"title":      "title",
}

// Service manages postings of every tenant
type Service struct {
	db     *sql.DB
	tx     *store.TxManager
	audit  audit.Recorder
	events *events.Emitter
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a posting service
func NewService(db *sql.DB, tx *store.TxManager, recorder audit.Recorder, emitter *events.Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, tx: tx, audit: recorder, events: emitter, logger: logger, now: time.Now}
}

const columns = `id, tenant_id, title, department, location, employment_type, description,
	status, required_documents, allow_fast_track, version, created_at, updated_at, published_at`

func scanPosting(row store.RowScanner) (*Posting, error) {
	var p Posting
	var published sql.NullTime
	err := row.Scan(&p.ID, &p.TenantID, &p.Title, &p.Department, &p.Location, &p.EmploymentType,
		&p.Description, &p.Status, pq.Array(&p.RequiredDocuments), &p.AllowFastTrack, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &published)
	if err != nil {
		return nil, err
	}
	if published.Valid {
		t := published.Time
		p.PublishedAt = &t
	}
	if p.RequiredDocuments == nil {
		p.RequiredDocuments = []string{}
	}
	return &p, nil
}

func (s *Service) get(ctx context.Context, tenantID, id uuid.UUID, forUpdate bool) (*Posting, error) {
	q := `SELECT ` + columns + ` FROM postings WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	p, err := scanPosting(store.Conn(ctx, s.db).QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("posting %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}
	return p, nil
}

// Get returns a posting of the tenant
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Posting, error) {
	return s.get(ctx, tenantID, id, false)
}

// List returns one page of the tenant's postings and the total match count
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, p query.Params) ([]*Posting, int, error) {
	where := query.NewWhere("tenant_id = ?", tenantID)
	if status, ok := p.Filter("status"); ok {
		where.Add("status = ?", status)
	}
	if dept, ok := p.Filter("department"); ok {
		where.Add("department = ?", dept)
	}
	if p.Search != "" {
		where.Add("title ILIKE ?", "%"+p.Search+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings `+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count postings: %w", err)
	}

	limit, args := where.Paginate(p)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM postings `+where.SQL()+` `+p.OrderBy(sortColumns, "id ASC")+` `+limit,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list postings: %w", err)
	}
	defer rows.Close()

	result := []*Posting{}
	for rows.Next() {
		posting, err := scanPosting(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan posting: %w", err)
		}
		result = append(result, posting)
	}
	return result, total, rows.Err()
}

// Create adds a draft posting
func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, in Input) (*Posting, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Posting{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Title:             in.Title,
		Department:        in.Department,
		Location:          in.Location,
		EmploymentType:    in.EmploymentType,
		Description:       in.Description,
		Status:            StatusDraft,
		RequiredDocuments: in.RequiredDocuments,
		AllowFastTrack:    in.AllowFastTrack,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			INSERT INTO postings (id, tenant_id, title, department, location, employment_type, description,
				status, required_documents, allow_fast_track, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID, p.TenantID, p.Title, p.Department, p.Location, p.EmploymentType, p.Description,
			p.Status, pq.Array(p.RequiredDocuments), p.AllowFastTrack, p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert posting: %w", store.ConvertDBError(err))
		}
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityPosting, EntityID: p.ID,
			Action: audit.ActionCreate, After: p,
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the editable fields. expectedVersion must match the stored
// version or store.ErrOptimisticLock is returned.
func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, in Input, expectedVersion int) (*Posting, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *Posting
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		if before.Version != expectedVersion {
			return fmt.Errorf("posting %s at version %d, got %d: %w", id, before.Version, expectedVersion, store.ErrOptimisticLock)
		}

		after := *before
		after.Title = in.Title
		after.Department = in.Department
		after.Location = in.Location
		after.EmploymentType = in.EmploymentType
		after.Description = in.Description
		after.RequiredDocuments = in.RequiredDocuments
		after.AllowFastTrack = in.AllowFastTrack
		after.Version++
		after.UpdatedAt = s.now().UTC()

		if err := s.save(ctx, &after, expectedVersion); err != nil {
			return err
		}
		updated = &after
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityPosting, EntityID: id,
			Action: audit.ActionUpdate, Before: before, After: &after,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) save(ctx context.Context, p *Posting, expectedVersion int) error {
	result, err := store.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE postings SET title = $1, department = $2, location = $3, employment_type = $4,
			description = $5, status = $6, required_documents = $7, allow_fast_track = $8,
			version = $9, updated_at = $10, published_at = $11
		WHERE tenant_id = $12 AND id = $13 AND version = $14`,
		p.Title, p.Department, p.Location, p.EmploymentType,
		p.Description, p.Status, pq.Array(p.RequiredDocuments), p.AllowFastTrack,
		p.Version, p.UpdatedAt, p.PublishedAt,
		p.TenantID, p.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update posting: %w", store.ConvertDBError(err))
	}
	if err := store.ExpectOneRow(result); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("posting %s: %w", p.ID, store.ErrOptimisticLock)
		}
		return err
	}
	return nil
}

// StatusChange is the payload of posting.status_changed
type StatusChange struct {
	PostingID uuid.UUID `json:"posting_id"`
	Title     string    `json:"title"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
}

// ChangeStatus moves a posting through its lifecycle. The first move to open
// stamps PublishedAt; reopening keeps the original date.
func (s *Service) ChangeStatus(ctx context.Context, tenantID, actorID, id uuid.UUID, to Status) (*Posting, error) {
	if !to.Valid() {
		errs := validation.New()
		errs.Add("status", "must be one of: draft, open, closed, archived")
		return nil, errs.Err()
	}

	var updated *Posting
	var ev events.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		if !CanTransition(before.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, before.Status, to)
		}

		now := s.now().UTC()
		after := *before
		after.Status = to
		after.Version++
		after.UpdatedAt = now
		if to == StatusOpen && after.PublishedAt == nil {
			after.PublishedAt = &now
		}

		if err := s.save(ctx, &after, before.Version); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityPosting, EntityID: id,
			Action: audit.ActionUpdate, Before: before, After: &after,
		}); err != nil {
			return err
		}

		ev = events.New(events.PostingStatusChanged, tenantID, StatusChange{
			PostingID: id, Title: after.Title, From: before.Status, To: to,
		})
		updated = &after
		return s.events.Durable(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("posting status changed",
		zap.String("posting_id", id.String()),
		zap.String("status", string(to)))
	s.events.Live(ctx, ev)
	return updated, nil
}

// Delete removes a draft posting. Published postings must be archived instead.
func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		if before.Status != StatusDraft {
			return fmt.Errorf("%w: only draft postings can be deleted, archive it instead", ErrInvalidTransition)
		}
		if _, err := store.Conn(ctx, s.db).ExecContext(ctx,
			`DELETE FROM postings WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
			return fmt.Errorf("failed to delete posting: %w", store.ConvertDBError(err))
		}
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityPosting, EntityID: id,
			Action: audit.ActionDelete, Before: before,
		})
	})
}
