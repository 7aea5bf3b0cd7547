// Package documents tracks files candidates submit and their review.
// File bytes live in a blob store; only metadata is kept here.
package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/apperr"
	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
)

// MaxSize is the largest accepted document in bytes
const MaxSize = 10 << 20

// SupersededNote is the review note of documents replaced by a newer upload
const SupersededNote = "superseded"

// Status is the review state of a document
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ContentTypes maps accepted MIME types to their usual extension
var ContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,39}$`)

// ErrNotPending is returned when reviewing a document that was already reviewed
var ErrNotPending = fmt.Errorf("document has already been reviewed: %w", apperr.ErrConflict)

// Document is an uploaded file attached to an application
type Document struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      uuid.UUID     `json:"tenant_id"`
	ApplicationID uuid.UUID     `json:"application_id"`
	Type          string        `json:"type"`
	FileName      string        `json:"file_name"`
	ContentType   string        `json:"content_type"`
	SizeBytes     int64         `json:"size_bytes"`
	StorageKey    string        `json:"storage_key"`
	Status        Status        `json:"status"`
	ReviewerID    uuid.NullUUID `json:"reviewer_id"`
	ReviewNote    string        `json:"review_note,omitempty"`
	UploadedAt    time.Time     `json:"uploaded_at"`
	ReviewedAt    *time.Time    `json:"reviewed_at,omitempty"`
}

// Upload is the metadata of a stored file
type Upload struct {
	Type        string `json:"type"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StorageKey  string `json:"storage_key"`
}

func (u *Upload) validate() error {
	u.Type = strings.ToLower(strings.TrimSpace(u.Type))
	u.FileName = path.Base(strings.TrimSpace(u.FileName))
	u.ContentType = strings.ToLower(strings.TrimSpace(u.ContentType))

	errs := validation.New()
	if !typePattern.MatchString(u.Type) {
		errs.Add("type", "must be a lowercase identifier")
	}
	if u.FileName == "" || u.FileName == "." || u.FileName == "/" {
		errs.Add("file_name", "is required")
	}
	errs.MaxLength("file_name", u.FileName, 255)
	if _, ok := ContentTypes[u.ContentType]; !ok {
		errs.Add("content_type", "must be a PDF, PNG, JPEG or DOCX file")
	}
	switch {
	case u.SizeBytes <= 0:
		errs.Add("size_bytes", "must be positive")
	case u.SizeBytes > MaxSize:
		errs.Add("size_bytes", "must be at most 10 MiB")
	}
	errs.Required("storage_key", u.StorageKey)
	return errs.Err()
}

// Review is a reviewer's decision
type Review struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

// ReviewResult is the payload of document.reviewed
type ReviewResult struct {
	DocumentID    uuid.UUID `json:"document_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	Type          string    `json:"type"`
	Status        Status    `json:"status"`
	Note          string    `json:"note,omitempty"`
	ReviewerID    uuid.UUID `json:"reviewer_id"`
}

// Service stores document metadata and reviews
type Service struct {
	db     *sql.DB
	tx     *store.TxManager
	audit  audit.Recorder
	events *events.Emitter
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a document service
func NewService(db *sql.DB, tx *store.TxManager, recorder audit.Recorder, emitter *events.Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, tx: tx, audit: recorder, events: emitter, logger: logger, now: time.Now}
}

const columns = `id, tenant_id, application_id, type, file_name, content_type, size_bytes, storage_key,
	status, reviewer_id, review_note, uploaded_at, reviewed_at`

func scanDocument(row store.RowScanner) (*Document, error) {
	var d Document
	var reviewed sql.NullTime
	err := row.Scan(&d.ID, &d.TenantID, &d.ApplicationID, &d.Type, &d.FileName, &d.ContentType, &d.SizeBytes,
		&d.StorageKey, &d.Status, &d.ReviewerID, &d.ReviewNote, &d.UploadedAt, &reviewed)
	if err != nil {
		return nil, err
	}
	if reviewed.Valid {
		t := reviewed.Time
		d.ReviewedAt = &t
	}
	return &d, nil
}

func (s *Service) get(ctx context.Context, tenantID, id uuid.UUID, forUpdate bool) (*Document, error) {
	q := `SELECT ` + columns + ` FROM documents WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	d, err := scanDocument(store.Conn(ctx, s.db).QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// Get returns a document of the tenant
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Document, error) {
	return s.get(ctx, tenantID, id, false)
}

// Upload records a stored file against an application. A pending document of
// the same type for the application is superseded.
func (s *Service) Upload(ctx context.Context, tenantID, actorID, applicationID uuid.UUID, in Upload) (*Document, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var doc *Document
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		conn := store.Conn(ctx, s.db)

		var exists bool
		if err := conn.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM applications WHERE tenant_id = $1 AND id = $2)`,
			tenantID, applicationID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check application: %w", err)
		}
		if !exists {
			return fmt.Errorf("application %s: %w", applicationID, store.ErrNotFound)
		}

		now := s.now().UTC()
		if err := s.supersede(ctx, conn, tenantID, actorID, applicationID, in.Type, now); err != nil {
			return err
		}

		doc = &Document{
			ID:            uuid.New(),
			TenantID:      tenantID,
			ApplicationID: applicationID,
			Type:          in.Type,
			FileName:      in.FileName,
			ContentType:   in.ContentType,
			SizeBytes:     in.SizeBytes,
			StorageKey:    in.StorageKey,
			Status:        StatusPending,
			UploadedAt:    now,
		}
		_, err := conn.ExecContext(ctx, `
			INSERT INTO documents (id, tenant_id, application_id, type, file_name, content_type, size_bytes, storage_key, status, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			doc.ID, doc.TenantID, doc.ApplicationID, doc.Type, doc.FileName, doc.ContentType,
			doc.SizeBytes, doc.StorageKey, doc.Status, doc.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", store.ConvertDBError(err))
		}
		return s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityDocument, EntityID: doc.ID,
			Action: audit.ActionCreate, After: doc,
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// supersede rejects the application's pending documents of docType and
// records an audit entry for each
func (s *Service) supersede(ctx context.Context, conn store.DBTX, tenantID, actorID, applicationID uuid.UUID, docType string, now time.Time) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT `+columns+` FROM documents
		WHERE tenant_id = $1 AND application_id = $2 AND type = $3 AND status = $4
		ORDER BY uploaded_at, id
		FOR UPDATE`,
		tenantID, applicationID, docType, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to load pending documents: %w", err)
	}
	var pending []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan document: %w", err)
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load pending documents: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, len(pending))
	for i, d := range pending {
		ids[i] = d.ID.String()
	}
	if _, err := conn.ExecContext(ctx, `
		UPDATE documents SET status = $1, review_note = $2, reviewed_at = $3
		WHERE tenant_id = $4 AND id = ANY($5)`,
		StatusRejected, SupersededNote, now, tenantID, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to supersede documents: %w", err)
	}

	for _, before := range pending {
		after := *before
		after.Status = StatusRejected
		after.ReviewNote = SupersededNote
		after.ReviewedAt = &now
		if err := s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityDocument, EntityID: before.ID,
			Action: audit.ActionUpdate, Before: before, After: &after,
		}); err != nil {
			return err
		}
	}
	s.logger.Debug("superseded pending documents",
		zap.String("application_id", applicationID.String()),
		zap.String("type", docType),
		zap.Int("count", len(pending)))
	return nil
}

// Review approves or rejects a pending document. Rejection needs a note.
func (s *Service) Review(ctx context.Context, tenantID, reviewerID, id uuid.UUID, in Review) (*Document, error) {
	in.Note = strings.TrimSpace(in.Note)
	errs := validation.New()
	errs.OneOf("status", string(in.Status), string(StatusApproved), string(StatusRejected))
	if in.Status == StatusRejected && in.Note == "" {
		errs.Add("note", "is required when rejecting")
	}
	errs.MaxLength("note", in.Note, 2000)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	var reviewed *Document
	var ev events.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, id, true)
		if err != nil {
			return err
		}
		if before.Status != StatusPending {
			return ErrNotPending
		}

		now := s.now().UTC()
		after := *before
		after.Status = in.Status
		after.ReviewNote = in.Note
		after.ReviewerID = uuid.NullUUID{UUID: reviewerID, Valid: reviewerID != uuid.Nil}
		after.ReviewedAt = &now

		if _, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE documents SET status = $1, review_note = $2, reviewer_id = $3, reviewed_at = $4
			WHERE tenant_id = $5 AND id = $6`,
			after.Status, after.ReviewNote, after.ReviewerID, now, tenantID, id); err != nil {
			return fmt.Errorf("failed to review document: %w", store.ConvertDBError(err))
		}
		if err := s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: reviewerID,
			EntityType: audit.EntityDocument, EntityID: id,
			Action: audit.ActionReview, Before: before, After: &after,
		}); err != nil {
			return err
		}

		ev = events.New(events.DocumentReviewed, tenantID, ReviewResult{
			DocumentID:    id,
			ApplicationID: after.ApplicationID,
			Type:          after.Type,
			Status:        after.Status,
			Note:          after.ReviewNote,
			ReviewerID:    reviewerID,
		})
		reviewed = &after
		return s.events.Durable(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.events.Live(ctx, ev)
	return reviewed, nil
}

// ListForApplication returns every document of an application, newest first
func (s *Service) ListForApplication(ctx context.Context, tenantID, applicationID uuid.UUID) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM documents
		WHERE tenant_id = $1 AND application_id = $2
		ORDER BY uploaded_at DESC, id ASC`,
		tenantID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ApprovedTypes returns the distinct document types approved for an
// application, sorted
func (s *Service) ApprovedTypes(ctx context.Context, tenantID, applicationID uuid.UUID) ([]string, error) {
	rows, err := store.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT DISTINCT type FROM documents
		WHERE tenant_id = $1 AND application_id = $2 AND status = $3
		ORDER BY type`,
		tenantID, applicationID, StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved documents: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}
