package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

// Requests with more ids than InlineLimit run in the background
const InlineLimit = 100

// TypeRun is the job type of background bulk operations
const TypeRun = "bulk.run"

// Status is the state of an operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation is a stored bulk request and its outcome
type Operation struct {
	ID          uuid.UUID    `json:"id"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	ActorID     uuid.UUID    `json:"actor_id"`
	Action      Action       `json:"action"`
	Status      Status       `json:"status"`
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []ItemResult `json:"results"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Summary is the payload of bulk.completed
type Summary struct {
	OperationID uuid.UUID `json:"operation_id"`
	Action      Action    `json:"action"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
}

type runPayload struct {
	OperationID uuid.UUID `json:"operation_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	ActorID     uuid.UUID `json:"actor_id"`
	Request     Request   `json:"request"`
}

// Service runs bulk requests inline or as jobs and keeps their outcome in
// bulk_operations
type Service struct {
	db     *sql.DB
	tx     *store.TxManager
	runner *Runner
	queue  jobs.Enqueuer
	events *events.Emitter
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a bulk service
func NewService(db *sql.DB, tx *store.TxManager, runner *Runner, queue jobs.Enqueuer, emitter *events.Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, tx: tx, runner: runner, queue: queue, events: emitter, logger: logger, now: time.Now}
}

// Submit validates req and either runs it at once or, above InlineLimit
// ids, stores a pending operation and enqueues it
func (s *Service) Submit(ctx context.Context, tenantID, actorID uuid.UUID, req Request) (*Operation, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	op := &Operation{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    req.Action,
		Status:    StatusPending,
		Total:     len(req.ApplicationIDs),
		Results:   []ItemResult{},
		CreatedAt: s.now().UTC(),
	}

	if len(req.ApplicationIDs) > InlineLimit {
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := s.insert(ctx, op); err != nil {
				return err
			}
			job, err := jobs.NewJob(jobs.DefaultQueue, TypeRun, runPayload{
				OperationID: op.ID, TenantID: tenantID, ActorID: actorID, Request: req,
			})
			if err != nil {
				return err
			}
			job.MaxAttempts = 1
			return s.queue.Enqueue(ctx, job)
		})
		if err != nil {
			return nil, err
		}
		return op, nil
	}

	if err := s.insert(ctx, op); err != nil {
		return nil, err
	}
	return s.execute(ctx, op, req)
}

func (s *Service) insert(ctx context.Context, op *Operation) error {
	_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO bulk_operations (id, tenant_id, actor_id, action, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		op.ID, op.TenantID, op.ActorID, op.Action, op.Status, op.Total, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store bulk operation: %w", store.ConvertDBError(err))
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bulk_operations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update bulk operation: %w", err)
	}
	return nil
}

// execute runs req for op and stores the outcome
func (s *Service) execute(ctx context.Context, op *Operation, req Request) (*Operation, error) {
	result, err := s.runner.Run(ctx, op.TenantID, op.ActorID, req)
	if err != nil {
		if serr := s.setStatus(context.WithoutCancel(ctx), op.ID, StatusFailed); serr != nil {
			s.logger.Error("failed to mark bulk operation failed", zap.Error(serr))
		}
		return nil, err
	}

	done := s.now().UTC()
	op.Status = StatusCompleted
	op.Total = result.Total
	op.Succeeded = result.Succeeded
	op.Failed = result.Failed
	op.Skipped = result.Skipped
	op.Results = result.Items
	op.CompletedAt = &done

	results, err := json.Marshal(op.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk results: %w", err)
	}

	ev := events.New(events.BulkCompleted, op.TenantID, Summary{
		OperationID: op.ID,
		Action:      op.Action,
		Total:       op.Total,
		Succeeded:   op.Succeeded,
		Failed:      op.Failed,
		Skipped:     op.Skipped,
	})

	// Cancellation skips items but the outcome is still recorded.
	ctx = context.WithoutCancel(ctx)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE bulk_operations
			SET status = $1, total = $2, succeeded = $3, failed = $4, skipped = $5, results = $6, completed_at = $7
			WHERE id = $8`,
			op.Status, op.Total, op.Succeeded, op.Failed, op.Skipped, results, done, op.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to complete bulk operation: %w", err)
		}
		return s.events.Durable(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	s.events.Live(ctx, ev)
	return op, nil
}

// Get returns an operation of the tenant
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Operation, error) {
	var (
		op        Operation
		actor     uuid.NullUUID
		results   []byte
		completed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, actor_id, action, status, total, succeeded, failed, skipped, results, created_at, completed_at
		FROM bulk_operations WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&op.ID, &op.TenantID, &actor, &op.Action, &op.Status, &op.Total, &op.Succeeded, &op.Failed,
		&op.Skipped, &results, &op.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bulk operation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk operation: %w", err)
	}

	op.ActorID = actor.UUID
	op.Results = []ItemResult{}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &op.Results); err != nil {
			return nil, fmt.Errorf("failed to decode bulk results: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time
		op.CompletedAt = &t
	}
	return &op, nil
}

// RunJob is the bulk.run job handler
func (s *Service) RunJob(ctx context.Context, job *jobs.Job) error {
	var payload runPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	op, err := s.Get(ctx, payload.TenantID, payload.OperationID)
	if err != nil {
		if store.IsNotFound(err) {
			return jobs.Permanent(err)
		}
		return err
	}
	if op.Status == StatusCompleted {
		return nil
	}
	if err := s.setStatus(ctx, op.ID, StatusRunning); err != nil {
		return err
	}

	if _, err := s.execute(ctx, op, payload.Request); err != nil {
		return jobs.Permanent(err)
	}
	return nil
}

// RegisterHandlers adds the bulk.run handler to registry
func (s *Service) RegisterHandlers(registry *jobs.HandlerRegistry) {
	registry.Register(TypeRun, s.RunJob)
}
