package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/ats/analytics"
	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/bulk"
	"github.com/hireflow/hireflow/internal/ats/candidates"
	"github.com/hireflow/hireflow/internal/ats/documents"
	"github.com/hireflow/hireflow/internal/ats/notify"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/ats/postings"
	"github.com/hireflow/hireflow/internal/ats/users"
	"github.com/hireflow/hireflow/internal/ats/webhooks"
	"github.com/hireflow/hireflow/internal/web/jobs"
	"github.com/hireflow/hireflow/internal/web/query"
)

// UserService is implemented by *users.Service
type UserService interface {
	Register(ctx context.Context, tenantID uuid.UUID, email, name, password string, roles []string) (*users.User, error)
	Login(ctx context.Context, tenantSlug, email, password string) (*users.LoginResult, error)
}

// PostingService is implemented by *postings.Service
type PostingService interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*postings.Posting, error)
	List(ctx context.Context, tenantID uuid.UUID, p query.Params) ([]*postings.Posting, int, error)
	Create(ctx context.Context, tenantID, actorID uuid.UUID, in postings.Input) (*postings.Posting, error)
	Update(ctx context.Context, tenantID, actorID, id uuid.UUID, in postings.Input, expectedVersion int) (*postings.Posting, error)
	ChangeStatus(ctx context.Context, tenantID, actorID, id uuid.UUID, to postings.Status) (*postings.Posting, error)
	Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error
}

// CandidateService is implemented by *candidates.Service
type CandidateService interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*candidates.Candidate, error)
	List(ctx context.Context, tenantID uuid.UUID, p query.Params) ([]*candidates.Candidate, int, error)
	Create(ctx context.Context, tenantID, actorID uuid.UUID, in candidates.Input) (*candidates.Candidate, error)
	Update(ctx context.Context, tenantID, actorID, id uuid.UUID, in candidates.Input) (*candidates.Candidate, error)
	AddTag(ctx context.Context, tenantID, actorID, id uuid.UUID, tag string) (bool, error)
	Delete(ctx context.Context, tenantID, actorID, id uuid.UUID) error
}

// ApplicationService is implemented by *pipeline.Service
type ApplicationService interface {
	Apply(ctx context.Context, tenantID, actorID, postingID, candidateID uuid.UUID) (*pipeline.Application, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*pipeline.Application, error)
	Move(ctx context.Context, tenantID, actorID, appID uuid.UUID, req pipeline.MoveRequest) (*pipeline.Application, error)
	Reorder(ctx context.Context, tenantID, actorID, appID uuid.UUID, position int) ([]*pipeline.Application, error)
	History(ctx context.Context, tenantID, appID uuid.UUID) ([]*pipeline.HistoryEntry, error)
	Board(ctx context.Context, tenantID, postingID uuid.UUID) (*pipeline.Board, error)
}

// DocumentService is implemented by *documents.Service
type DocumentService interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*documents.Document, error)
	Upload(ctx context.Context, tenantID, actorID, applicationID uuid.UUID, in documents.Upload) (*documents.Document, error)
	Review(ctx context.Context, tenantID, reviewerID, id uuid.UUID, in documents.Review) (*documents.Document, error)
	ListForApplication(ctx context.Context, tenantID, applicationID uuid.UUID) ([]*documents.Document, error)
}

// NotificationService is implemented by *notify.Notifier
type NotificationService interface {
	Send(ctx context.Context, tenantID uuid.UUID, n notify.Notification) (*notify.Record, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*notify.Record, error)
}

// WebhookService is implemented by *webhooks.Endpoints
type WebhookService interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*webhooks.Endpoint, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*webhooks.Endpoint, error)
	Create(ctx context.Context, tenantID uuid.UUID, in webhooks.Input) (*webhooks.Endpoint, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, in webhooks.Input) (*webhooks.Endpoint, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	Deliveries(ctx context.Context, tenantID, endpointID uuid.UUID, limit int) ([]*webhooks.Delivery, error)
}

// AuditService is implemented by *audit.Log
type AuditService interface {
	ListForEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]*audit.Entry, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*audit.Entry, error)
	DiffEntry(ctx context.Context, tenantID, id uuid.UUID) ([]audit.Change, error)
}

// BulkService is implemented by *bulk.Service
type BulkService interface {
	Submit(ctx context.Context, tenantID, actorID uuid.UUID, req bulk.Request) (*bulk.Operation, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bulk.Operation, error)
}

// AnalyticsService is implemented by *analytics.Service
type AnalyticsService interface {
	Dashboard(ctx context.Context, tenantID uuid.UUID, postingID *uuid.UUID) (*analytics.Dashboard, error)
}

// JobStats is implemented by *jobs.Queue
type JobStats interface {
	Stats(ctx context.Context) ([]jobs.QueueStats, error)
}

// Pinger is implemented by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}
