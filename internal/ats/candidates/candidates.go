// Package candidates manages the people who apply to postings.
package candidates

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
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/query"
)

// Source is where a candidate came from
type Source string

const (
	SourceReferral   Source = "referral"
	SourceJobBoard   Source = "job_board"
	SourceCareerSite Source = "career_site"
	SourceAgency     Source = "agency"
	SourceOther      Source = "other"
)

var sources = []string{string(SourceReferral), string(SourceJobBoard), string(SourceCareerSite), string(SourceAgency), string(SourceOther)}

var (
	e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	tagPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,29}$`)
)

// Candidate is a person in the talent pool
type Candidate struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Source    Source    `json:"source"`
	Tags      []string  `json:"tags"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input holds the editable fields of a candidate
type Input struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Source    Source   `json:"source"`
	Tags      []string `json:"tags"`
	Notes     string   `json:"notes"`
}

// NormalizePhone strips formatting from a phone number and returns it in
// E.164 form. A leading 00 is treated as the international prefix.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("unexpected character %q", r)
		}
	}

	phone := b.String()
	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	if !strings.HasPrefix(phone, "+") {
		return "", errors.New("must include a country code")
	}
	if !e164Pattern.MatchString(phone) {
		return "", errors.New("must be 8 to 15 digits")
	}
	return phone, nil
}

// NormalizeTag lower-cases and trims a tag
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func (in *Input) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Source == "" {
		in.Source = SourceOther
	}

	errs := validation.New()
	errs.Required("first_name", in.FirstName)
	errs.MaxLength("first_name", in.FirstName, 100)
	errs.Required("last_name", in.LastName)
	errs.MaxLength("last_name", in.LastName, 100)
	errs.Email("email", in.Email)
	errs.OneOf("source", string(in.Source), sources...)
	errs.MaxLength("notes", in.Notes, 10000)

	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		errs.Add("phone", err.Error())
	}
	in.Phone = phone

	seen := make(map[string]bool, len(in.Tags))
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		t = NormalizeTag(t)
		if seen[t] {
			continue
		}
		if !tagPattern.MatchString(t) {
			errs.Add("tags", fmt.Sprintf("%q is not a valid tag", t))
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	in.Tags = tags

	return errs.Err()
}

// ListOptions are the list parameters accepted for candidates
var ListOptions = query.Options{
	Sortable:    []string{"created_at", "last_name"},
	Filterable:  []string{"source", "tag"},
	DefaultSort: "-created_at",
	MaxPerPage:  100,
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"last_name":  "last_name",
}

// Service manages candidates of every tenant
type Service struct {
	db     *sql.DB
	tx     *store.TxManager
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a candidate service
func NewService(db *sql.DB, tx *store.TxManager, recorder audit.Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, tx: tx, audit: recorder, logger: logger, now: time.Now}
}

const columns = `id, tenant_id, first_name, last_name, email, phone, source, tags, notes, created_at, updated_at`

func scanCandidate(row store.RowScanner) (*Candidate, error) {
	var c Candidate
	err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Source, pq.Array(&c.Tags), &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c, nil
}

func (s *Service) get(ctx context.Context, tenantID, id uuid.UUID, forUpdate bool) (*Candidate, error) {
	q := `SELECT ` + columns + ` FROM candidates WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	c, err := scanCandidate(store.Conn(ctx, s.db).QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return c, nil
}

// Get returns a candidate of the tenant
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Candidate, error) {
	return s.get(ctx, tenantID, id, false)
}

// List returns one page of candidates. Search matches a substring of the
// full name or the email.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, p query.Params) ([]*Candidate, int, error) {
	where := query.NewWhere("tenant_id = ?", tenantID)
	if source, ok := p.Filter("source"); ok {
		where.Add("source = ?", source)
	}
	if tag, ok := p.Filter("tag"); ok {
		where.Add("? = ANY(tags)", NormalizeTag(tag))
	}
	if p.Search != "" {
		like := "%" + p.Search + "%"
		where.Add("(first_name || ' ' || last_name ILIKE ? OR email ILIKE ?)", like, like)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates `+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count candidates: %w", err)
	}

	limit, args := where.Paginate(p)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM candidates `+where.SQL()+` `+p.OrderBy(sortColumns, "id ASC")+` `+limit,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	result := []*Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan candidate: %w", err)
		}
		result = append(result, c)
	}
	return result, total, rows.Err()
}

func duplicateEmail(err error) error {
	if store.IsUniqueViolation(err) {
		errs := validation.New()
		errs.Add("email", "is already in use by another candidate")
		return errs.Err()
	}
	return err
}

// Create adds a candidate. The email must be unique within the tenant.
func (s *Service) Create(ctx context.Context, tenantID, actorID uuid.UUID, in Input) (*Candidate, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &Candidate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		Source:    in.Source,
		Tags:      in.Tags,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			INSERT INTO candidates (id, tenant_id, first_name, last_name, email, phone, source, tags, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.TenantID, c.FirstName, c.LastName, c.Email, c.Phone, c.Source, pq.Array(c.Tags), c.Notes, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return duplicateEmail(store.ConvertDBError(err))
		}
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityCandidate, EntityID: c.ID,
			Action: audit.ActionCreate, After: c,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the editable fields of a candidate
func (s *Service) Update(ctx context.Context, tenantID, actorID, id uuid.UUID, in Input) (*Candidate, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var updated *Candidate
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}

		after := *before
		after.FirstName = in.FirstName
		after.LastName = in.LastName
		after.Email = in.Email
		after.Phone = in.Phone
		after.Source = in.Source
		after.Tags = in.Tags
		after.Notes = in.Notes
		after.UpdatedAt = s.now().UTC()

		_, err = store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE candidates SET first_name = $1, last_name = $2, email = $3, phone = $4,
				source = $5, tags = $6, notes = $7, updated_at = $8
			WHERE tenant_id = $9 AND id = $10`,
			after.FirstName, after.LastName, after.Email, after.Phone,
			after.Source, pq.Array(after.Tags), after.Notes, after.UpdatedAt,
			tenantID, id,
		)
		if err != nil {
			return duplicateEmail(store.ConvertDBError(err))
		}
		updated = &after
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityCandidate, EntityID: id,
			Action: audit.ActionUpdate, Before: before, After: &after,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddTag adds tag to a candidate when it is not already present.
// It reports whether the candidate changed.
func (s *Service) AddTag(ctx context.Context, tenantID, actorID, id uuid.UUID, tag string) (bool, error) {
	tag = NormalizeTag(tag)
	if !tagPattern.MatchString(tag) {
		errs := validation.New()
		errs.Add("tag", fmt.Sprintf("%q is not a valid tag", tag))
		return false, errs.Err()
	}

	changed := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		for _, t := range before.Tags {
			if t == tag {
				return nil
			}
		}

		after := *before
		after.Tags = append(append([]string(nil), before.Tags...), tag)
		after.UpdatedAt = s.now().UTC()
		if _, err := store.Conn(ctx, s.db).ExecContext(ctx,
			`UPDATE candidates SET tags = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
			pq.Array(after.Tags), after.UpdatedAt, tenantID, id); err != nil {
			return fmt.Errorf("failed to tag candidate: %w", store.ConvertDBError(err))
		}
		changed = true
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityCandidate, EntityID: id,
			Action: audit.ActionUpdate, Before: before, After: &after,
		})
	})
	return changed, err
}

// Delete removes a candidate and, through cascades, their applications
func (s *Service) Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		if _, err := store.Conn(ctx, s.db).ExecContext(ctx,
			`DELETE FROM candidates WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
			return fmt.Errorf("failed to delete candidate: %w", store.ConvertDBError(err))
		}
		s.logger.Info("candidate deleted", zap.String("candidate_id", id.String()))
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityCandidate, EntityID: id,
			Action: audit.ActionDelete, Before: before,
		})
	})
}
