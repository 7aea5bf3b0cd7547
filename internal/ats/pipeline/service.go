package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/apperr"
	"github.com/hireflow/hireflow/internal/ats/audit"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/postings"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
)

var (
	// ErrAlreadyApplied is returned when the candidate already has an application for the posting
	ErrAlreadyApplied = fmt.Errorf("candidate has already applied to this posting: %w", apperr.ErrConflict)

	// ErrPostingNotOpen is returned when applying to a posting that is not open
	ErrPostingNotOpen = fmt.Errorf("posting is not accepting applications: %w", apperr.ErrConflict)
)

// Application is one candidate's progress on one posting
type Application struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	PostingID      uuid.UUID  `json:"posting_id"`
	CandidateID    uuid.UUID  `json:"candidate_id"`
	Stage          Stage      `json:"stage"`
	Position       int        `json:"position"`
	Version        int        `json:"version"`
	AppliedAt      time.Time  `json:"applied_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	HiredAt        *time.Time `json:"hired_at,omitempty"`
	RejectedReason string     `json:"rejected_reason,omitempty"`
}

// HistoryEntry is one recorded move
type HistoryEntry struct {
	ID            uuid.UUID     `json:"id"`
	ApplicationID uuid.UUID     `json:"application_id"`
	From          Stage         `json:"from"`
	To            Stage         `json:"to"`
	ActorID       uuid.NullUUID `json:"actor_id"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// StageChange is the payload of application.created and application.stage_changed
type StageChange struct {
	ApplicationID uuid.UUID `json:"application_id"`
	PostingID     uuid.UUID `json:"posting_id"`
	CandidateID   uuid.UUID `json:"candidate_id"`
	From          Stage     `json:"from,omitempty"`
	To            Stage     `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	ActorID       uuid.UUID `json:"actor_id"`
}

// PostingLookup loads postings. *postings.Service satisfies it.
type PostingLookup interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*postings.Posting, error)
}

// Service applies candidates to postings and moves their applications
type Service struct {
	db       *sql.DB
	tx       *store.TxManager
	machine  *Machine
	postings PostingLookup
	audit    audit.Recorder
	events   *events.Emitter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a pipeline service
func NewService(db *sql.DB, tx *store.TxManager, machine *Machine, postings PostingLookup,
	recorder audit.Recorder, emitter *events.Emitter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		tx:       tx,
		machine:  machine,
		postings: postings,
		audit:    recorder,
		events:   emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// Machine returns the machine moves are validated with
func (s *Service) Machine() *Machine {
	return s.machine
}

const columns = `id, tenant_id, posting_id, candidate_id, stage, position, version, applied_at, updated_at, hired_at, rejected_reason`

func scanApplication(row store.RowScanner) (*Application, error) {
	var a Application
	var hired sql.NullTime
	err := row.Scan(&a.ID, &a.TenantID, &a.PostingID, &a.CandidateID, &a.Stage, &a.Position,
		&a.Version, &a.AppliedAt, &a.UpdatedAt, &hired, &a.RejectedReason)
	if err != nil {
		return nil, err
	}
	if hired.Valid {
		t := hired.Time
		a.HiredAt = &t
	}
	return &a, nil
}

func (s *Service) get(ctx context.Context, tenantID, id uuid.UUID, forUpdate bool) (*Application, error) {
	q := `SELECT ` + columns + ` FROM applications WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	a, err := scanApplication(store.Conn(ctx, s.db).QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return a, nil
}

// Get returns an application of the tenant
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Application, error) {
	return s.get(ctx, tenantID, id, false)
}

func (s *Service) nextPosition(ctx context.Context, tenantID, postingID uuid.UUID, stage Stage) (int, error) {
	var next int
	err := store.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM applications
		WHERE tenant_id = $1 AND posting_id = $2 AND stage = $3`,
		tenantID, postingID, stage,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to find column end: %w", err)
	}
	return next, nil
}

func (s *Service) appendHistory(ctx context.Context, a *Application, from Stage, actorID uuid.UUID, reason string) error {
	actor := uuid.NullUUID{UUID: actorID, Valid: actorID != uuid.Nil}
	_, err := store.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO stage_history (id, tenant_id, application_id, from_stage, to_stage, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), a.TenantID, a.ID, from, a.Stage, actor, reason, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage history: %w", store.ConvertDBError(err))
	}
	return nil
}

// Apply creates an application in the applied column of an open posting.
// A candidate can apply to each posting once.
func (s *Service) Apply(ctx context.Context, tenantID, actorID, postingID, candidateID uuid.UUID) (*Application, error) {
	var app *Application
	var ev events.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		posting, err := s.postings.Get(ctx, tenantID, postingID)
		if err != nil {
			return err
		}
		if posting.Status != postings.StatusOpen {
			return ErrPostingNotOpen
		}

		var exists bool
		if err := store.Conn(ctx, s.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM candidates WHERE tenant_id = $1 AND id = $2)`,
			tenantID, candidateID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check candidate: %w", err)
		}
		if !exists {
			errs := validation.New()
			errs.Add("candidate_id", "does not exist")
			return errs.Err()
		}

		position, err := s.nextPosition(ctx, tenantID, postingID, StageApplied)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		app = &Application{
			ID:          uuid.New(),
			TenantID:    tenantID,
			PostingID:   postingID,
			CandidateID: candidateID,
			Stage:       StageApplied,
			Position:    position,
			Version:     1,
			AppliedAt:   now,
			UpdatedAt:   now,
		}
		_, err = store.Conn(ctx, s.db).ExecContext(ctx, `
			INSERT INTO applications (id, tenant_id, posting_id, candidate_id, stage, position, version, applied_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			app.ID, app.TenantID, app.PostingID, app.CandidateID, app.Stage, app.Position, app.Version, app.AppliedAt, app.UpdatedAt,
		)
		if err != nil {
			err = store.ConvertDBError(err)
			if store.IsUniqueViolation(err) {
				return ErrAlreadyApplied
			}
			return fmt.Errorf("failed to insert application: %w", err)
		}

		if err := s.appendHistory(ctx, app, "", actorID, ""); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityApplication, EntityID: app.ID,
			Action: audit.ActionCreate, After: app,
		}); err != nil {
			return err
		}

		ev = events.New(events.ApplicationCreated, tenantID, StageChange{
			ApplicationID: app.ID, PostingID: postingID, CandidateID: candidateID, To: StageApplied, ActorID: actorID,
		})
		return s.events.Durable(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.events.Live(ctx, ev)
	return app, nil
}

// MoveRequest describes a stage change
type MoveRequest struct {
	To     Stage  `json:"to"`
	Reason string `json:"reason"`
	// ExpectedVersion, when non-zero, must match the stored version
	ExpectedVersion int `json:"expected_version"`
}

// Move validates and applies a stage change. The application joins the end
// of the target column and the column it left is renumbered.
func (s *Service) Move(ctx context.Context, tenantID, actorID, appID uuid.UUID, req MoveRequest) (*Application, error) {
	var moved *Application
	var ev events.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := s.get(ctx, tenantID, appID, true)
		if err != nil {
			return err
		}
		if req.ExpectedVersion != 0 && before.Version != req.ExpectedVersion {
			return fmt.Errorf("application %s at version %d, got %d: %w", appID, before.Version, req.ExpectedVersion, store.ErrOptimisticLock)
		}

		posting, err := s.postings.Get(ctx, tenantID, before.PostingID)
		if err != nil {
			return err
		}
		if err := s.machine.Validate(ctx, &Transition{
			Application: before,
			Posting:     posting,
			To:          req.To,
			Reason:      req.Reason,
			ActorID:     actorID,
		}); err != nil {
			return err
		}

		position, err := s.nextPosition(ctx, tenantID, before.PostingID, req.To)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		after := *before
		after.Stage = req.To
		after.Position = position
		after.Version++
		after.UpdatedAt = now
		if req.To == StageHired {
			after.HiredAt = &now
		}
		if req.To == StageRejected {
			after.RejectedReason = req.Reason
		}

		result, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE applications SET stage = $1, position = $2, version = $3, updated_at = $4,
				hired_at = $5, rejected_reason = $6
			WHERE tenant_id = $7 AND id = $8 AND version = $9`,
			after.Stage, after.Position, after.Version, after.UpdatedAt,
			after.HiredAt, after.RejectedReason,
			tenantID, appID, before.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to move application: %w", store.ConvertDBError(err))
		}
		if err := store.ExpectOneRow(result); err != nil {
			return fmt.Errorf("application %s: %w", appID, store.ErrOptimisticLock)
		}

		if _, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE applications SET position = position - 1
			WHERE tenant_id = $1 AND posting_id = $2 AND stage = $3 AND position > $4`,
			tenantID, before.PostingID, before.Stage, before.Position); err != nil {
			return fmt.Errorf("failed to close column gap: %w", err)
		}

		if err := s.appendHistory(ctx, &after, before.Stage, actorID, req.Reason); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, audit.Record{
			TenantID: tenantID, ActorID: actorID,
			EntityType: audit.EntityApplication, EntityID: appID,
			Action: audit.ActionMove, Before: before, After: &after,
		}); err != nil {
			return err
		}

		ev = events.New(events.ApplicationStageChanged, tenantID, StageChange{
			ApplicationID: appID,
			PostingID:     after.PostingID,
			CandidateID:   after.CandidateID,
			From:          before.Stage,
			To:            after.Stage,
			Reason:        req.Reason,
			ActorID:       actorID,
		})
		moved = &after
		return s.events.Durable(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application moved",
		zap.String("application_id", appID.String()),
		zap.String("stage", string(moved.Stage)))
	s.events.Live(ctx, ev)
	return moved, nil
}

// Reorder moves an application to position within its column. Positions
// past either end are clamped and the column is renumbered 0..n-1.
func (s *Service) Reorder(ctx context.Context, tenantID, actorID, appID uuid.UUID, position int) ([]*Application, error) {
	var column []*Application
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		target, err := s.get(ctx, tenantID, appID, true)
		if err != nil {
			return err
		}

		rows, err := store.Conn(ctx, s.db).QueryContext(ctx, `
			SELECT `+columns+` FROM applications
			WHERE tenant_id = $1 AND posting_id = $2 AND stage = $3
			ORDER BY position ASC, applied_at ASC, id ASC
			FOR UPDATE`,
			tenantID, target.PostingID, target.Stage)
		if err != nil {
			return fmt.Errorf("failed to load column: %w", err)
		}
		var current []*Application
		for rows.Next() {
			a, err := scanApplication(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan application: %w", err)
			}
			current = append(current, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		column = Reposition(current, appID, position)

		ids := make([]string, len(column))
		positions := make([]int64, len(column))
		for i, a := range column {
			ids[i] = a.ID.String()
			positions[i] = int64(a.Position)
		}
		if _, err := store.Conn(ctx, s.db).ExecContext(ctx, `
			UPDATE applications AS a SET position = v.position
			FROM unnest($1::uuid[], $2::int[]) AS v(id, position)
			WHERE a.tenant_id = $3 AND a.id = v.id AND a.position <> v.position`,
			pq.Array(ids), pq.Array(positions), tenantID); err != nil {
			return fmt.Errorf("failed to renumber column: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, a := range column {
		if a.ID == appID {
			position = a.Position
		}
	}
	s.events.Live(ctx, events.New(events.ApplicationReordered, tenantID, map[string]interface{}{
		"application_id": appID,
		"actor_id":       actorID,
		"position":       position,
	}))
	return column, nil
}

// Reposition moves the application id to position within column and
// renumbers the column densely. column is not modified.
func Reposition(column []*Application, id uuid.UUID, position int) []*Application {
	result := make([]*Application, 0, len(column))
	var moving *Application
	for _, a := range column {
		if a.ID == id {
			moving = a
			continue
		}
		result = append(result, a)
	}
	if moving != nil {
		if position < 0 {
			position = 0
		}
		if position > len(result) {
			position = len(result)
		}
		result = append(result, nil)
		copy(result[position+1:], result[position:])
		result[position] = moving
	}

	out := make([]*Application, len(result))
	for i, a := range result {
		c := *a
		c.Position = i
		out[i] = &c
	}
	return out
}

// History returns the moves of an application, oldest first
func (s *Service) History(ctx context.Context, tenantID, appID uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.get(ctx, tenantID, appID, false); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, from_stage, to_stage, actor_id, reason, created_at
		FROM stage_history
		WHERE tenant_id = $1 AND application_id = $2
		ORDER BY created_at ASC, id ASC`,
		tenantID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := []*HistoryEntry{}
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.ApplicationID, &h.From, &h.To, &h.ActorID, &h.Reason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}
