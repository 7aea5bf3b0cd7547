// Package webhooks delivers domain events to tenant-registered HTTP
// endpoints. Every delivery is a job on the webhooks queue, paced per
// endpoint by a rate limiter and signed with the endpoint's secret.
package webhooks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
)

// Endpoint is a URL that receives a tenant's events
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribed reports whether the endpoint wants events of type event
func (e *Endpoint) Subscribed(event string) bool {
	for _, name := range e.Events {
		if name == event {
			return true
		}
	}
	return false
}

// Input holds the editable fields of an endpoint
type Input struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active,omitempty"`
}

func (in *Input) normalize() error {
	in.URL = strings.TrimSpace(in.URL)

	seen := make(map[string]bool, len(in.Events))
	evs := make([]string, 0, len(in.Events))
	for _, e := range in.Events {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		evs = append(evs, e)
	}
	in.Events = evs

	errs := validation.New()
	if err := ValidateURL(in.URL); err != nil {
		errs.Add("url", err.Error())
	}
	if len(in.Events) == 0 {
		errs.Add("events", "must subscribe to at least one event")
	}
	for _, e := range in.Events {
		if !events.Valid(e) {
			errs.Add("events", fmt.Sprintf("%q is not one of: %s", e, strings.Join(events.Catalogue(), ", ")))
		}
	}
	return errs.Err()
}

// ValidateURL accepts absolute https URLs, and http URLs pointing at the
// local machine
func ValidateURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	if u.User != nil {
		return errors.New("must not contain credentials")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalhost(u.Hostname()) {
			return nil
		}
		return errors.New("must use https")
	default:
		return errors.New("must use https")
	}
}

func isLocalhost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// NewSecret returns a random signing secret
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// Delivery is one attempt to deliver an event
type Delivery struct {
	ID         uuid.UUID `json:"id"`
	EndpointID uuid.UUID `json:"endpoint_id"`
	JobID      uuid.UUID `json:"job_id"`
	Event      string    `json:"event"`
	Attempt    int       `json:"attempt"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Endpoints stores webhook endpoints and their delivery log
type Endpoints struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewEndpoints creates an endpoint store
func NewEndpoints(db *sql.DB, logger *zap.Logger) *Endpoints {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Endpoints{db: db, logger: logger, now: time.Now}
}

const columns = `id, tenant_id, url, secret, events, active, created_at`

func scanEndpoint(row store.RowScanner) (*Endpoint, error) {
	var e Endpoint
	if err := row.Scan(&e.ID, &e.TenantID, &e.URL, &e.Secret, pq.Array(&e.Events), &e.Active, &e.CreatedAt); err != nil {
		return nil, err
	}
	if e.Events == nil {
		e.Events = []string{}
	}
	return &e, nil
}

func (s *Endpoints) query(ctx context.Context, q string, args ...interface{}) ([]*Endpoint, error) {
	rows, err := store.Conn(ctx, s.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer rows.Close()

	result := []*Endpoint{}
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Get returns an endpoint of the tenant
func (s *Endpoints) Get(ctx context.Context, tenantID, id uuid.UUID) (*Endpoint, error) {
	e, err := scanEndpoint(store.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+columns+` FROM webhook_endpoints WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("webhook endpoint %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}
	return e, nil
}

// List returns every endpoint of the tenant, oldest first
func (s *Endpoints) List(ctx context.Context, tenantID uuid.UUID) ([]*Endpoint, error) {
	return s.query(ctx,
		`SELECT `+columns+` FROM webhook_endpoints WHERE tenant_id = $1 ORDER BY created_at ASC, id ASC`, tenantID)
}

// Subscribers returns the active endpoints subscribed to event
func (s *Endpoints) Subscribers(ctx context.Context, tenantID uuid.UUID, event string) ([]*Endpoint, error) {
	return s.query(ctx,
		`SELECT `+columns+` FROM webhook_endpoints
		WHERE tenant_id = $1 AND active AND $2 = ANY(events)
		ORDER BY created_at ASC, id ASC`, tenantID, event)
}

// Create registers an endpoint with a fresh secret. The secret is only
// returned here.
func (s *Endpoints) Create(ctx context.Context, tenantID uuid.UUID, in Input) (*Endpoint, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		ID:        uuid.New(),
		TenantID:  tenantID,
		URL:       in.URL,
		Secret:    secret,
		Events:    in.Events,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: s.now().UTC(),
	}
	_, err = store.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, tenant_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TenantID, e.URL, e.Secret, pq.Array(e.Events), e.Active, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook endpoint: %w", store.ConvertDBError(err))
	}
	return e, nil
}

// Update replaces the URL and events of an endpoint and, when given, its
// active flag
func (s *Endpoints) Update(ctx context.Context, tenantID, id uuid.UUID, in Input) (*Endpoint, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	e.URL = in.URL
	e.Events = in.Events
	if in.Active != nil {
		e.Active = *in.Active
	}

	result, err := store.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE webhook_endpoints SET url = $1, events = $2, active = $3 WHERE tenant_id = $4 AND id = $5`,
		e.URL, pq.Array(e.Events), e.Active, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook endpoint: %w", store.ConvertDBError(err))
	}
	if err := store.ExpectOneRow(result); err != nil {
		return nil, fmt.Errorf("webhook endpoint %s: %w", id, err)
	}
	return e, nil
}

// Deactivate stops deliveries to an endpoint
func (s *Endpoints) Deactivate(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := store.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE webhook_endpoints SET active = FALSE WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	return nil
}

// Delete removes an endpoint and its delivery log
func (s *Endpoints) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result, err := store.Conn(ctx, s.db).ExecContext(ctx,
		`DELETE FROM webhook_endpoints WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook endpoint: %w", err)
	}
	if err := store.ExpectOneRow(result); err != nil {
		return fmt.Errorf("webhook endpoint %s: %w", id, err)
	}
	return nil
}

// RecordDelivery appends an attempt to the delivery log
func (s *Endpoints) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, job_id, event, attempt, status_code, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.EndpointID, d.JobID, d.Event, d.Attempt, d.StatusCode, d.Error, d.DurationMS, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	return nil
}

// Deliveries returns the latest attempts for an endpoint of the tenant,
// newest first
func (s *Endpoints) Deliveries(ctx context.Context, tenantID, endpointID uuid.UUID, limit int) ([]*Delivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.endpoint_id, d.job_id, d.event, d.attempt, d.status_code, d.error, d.duration_ms, d.created_at
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id
		WHERE e.tenant_id = $1 AND d.endpoint_id = $2
		ORDER BY d.created_at DESC
		LIMIT $3`,
		tenantID, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}
	defer rows.Close()

	result := []*Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.JobID, &d.Event, &d.Attempt, &d.StatusCode,
			&d.Error, &d.DurationMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}
