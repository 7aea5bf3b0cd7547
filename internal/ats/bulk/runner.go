// Package bulk applies one action to many applications at once.
package bulk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hireflow/hireflow/internal/ats/notify"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/validation"
)

// Action is what a bulk request does to each application
type Action string

const (
	ActionMove   Action = "move"
	ActionReject Action = "reject"
	ActionTag    Action = "tag"
	ActionNotify Action = "notify"
)

// Limits
const (
	MaxItems           = 1000
	BatchSize          = 100
	DefaultConcurrency = 8
)

// Params holds the arguments of the action. Which fields apply depends on
// the action.
type Params struct {
	Stage    pipeline.Stage         `json:"stage,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Tag      string                 `json:"tag,omitempty"`
	Channel  notify.Channel         `json:"channel,omitempty"`
	Template string                 `json:"template,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Request is one bulk action over a set of applications
type Request struct {
	Action         Action      `json:"action"`
	ApplicationIDs []uuid.UUID `json:"application_ids"`
	Params         Params      `json:"params"`
}

// Normalize removes duplicate ids, keeping the first occurrence, and
// validates the request
func (r *Request) Normalize() error {
	seen := make(map[uuid.UUID]bool, len(r.ApplicationIDs))
	ids := make([]uuid.UUID, 0, len(r.ApplicationIDs))
	for _, id := range r.ApplicationIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	r.ApplicationIDs = ids
	r.Params.Reason = strings.TrimSpace(r.Params.Reason)
	r.Params.Tag = strings.TrimSpace(r.Params.Tag)

	errs := validation.New()
	switch n := len(r.ApplicationIDs); {
	case n == 0:
		errs.Add("application_ids", "must contain at least one id")
	case n > MaxItems:
		errs.Add("application_ids", fmt.Sprintf("must contain at most %d ids", MaxItems))
	}

	switch r.Action {
	case ActionMove:
		if !r.Params.Stage.Valid() {
			errs.Add("params.stage", "must be a pipeline stage")
		}
	case ActionReject:
		errs.Required("params.reason", r.Params.Reason)
	case ActionTag:
		errs.Required("params.tag", r.Params.Tag)
	case ActionNotify:
		errs.OneOf("params.channel", string(r.Params.Channel), string(notify.ChannelSMS), string(notify.ChannelEmail))
		errs.Required("params.template", r.Params.Template)
	default:
		errs.Add("action", "must be one of: move, reject, tag, notify")
	}
	return errs.Err()
}

// ItemStatus is the outcome of one application
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemError   ItemStatus = "error"
	ItemSkipped ItemStatus = "skipped"
)

// ItemResult is the outcome for one application
type ItemResult struct {
	ApplicationID uuid.UUID  `json:"application_id"`
	Status        ItemStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
}

// Result summarizes a run
type Result struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Items     []ItemResult `json:"items"`
}

func summarize(items []ItemResult) *Result {
	r := &Result{Total: len(items), Items: items}
	for _, it := range items {
		switch it.Status {
		case ItemOK:
			r.Succeeded++
		case ItemError:
			r.Failed++
		case ItemSkipped:
			r.Skipped++
		}
	}
	return r
}

// Mover moves applications through the pipeline
type Mover interface {
	Move(ctx context.Context, tenantID, actorID, appID uuid.UUID, req pipeline.MoveRequest) (*pipeline.Application, error)
}

// Tagger tags candidates
type Tagger interface {
	AddTag(ctx context.Context, tenantID, actorID, id uuid.UUID, tag string) (bool, error)
}

// Notifier messages the candidate of an application
type Notifier interface {
	SendToApplication(ctx context.Context, tenantID, applicationID uuid.UUID, channel notify.Channel, template string, data map[string]interface{}) (*notify.Record, error)
}

// Runner applies requests item by item with bounded concurrency. Items
// fail independently; cancelling ctx marks the items not yet started as
// skipped.
type Runner struct {
	db          *sql.DB
	mover       Mover
	tagger      Tagger
	notifier    Notifier
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner. concurrency <= 0 uses DefaultConcurrency.
func NewRunner(db *sql.DB, mover Mover, tagger Tagger, notifier Notifier, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, mover: mover, tagger: tagger, notifier: notifier, concurrency: concurrency, logger: logger}
}

var errNotFound = errors.New("application not found")

// candidatesOf maps the tenant's applications among ids to their candidates
func (r *Runner) candidatesOf(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, candidate_id FROM applications WHERE tenant_id = $1 AND id = ANY($2::uuid[])`,
		tenantID, pq.Array(strs))
	if err != nil {
		return nil, fmt.Errorf("failed to load applications: %w", err)
	}
	defer rows.Close()

	owners := make(map[uuid.UUID]uuid.UUID, len(ids))
	for rows.Next() {
		var id, candidate uuid.UUID
		if err := rows.Scan(&id, &candidate); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		owners[id] = candidate
	}
	return owners, rows.Err()
}

// Run normalizes req and applies it. The error is non-nil only when the
// request is invalid or the applications could not be loaded.
func (r *Runner) Run(ctx context.Context, tenantID, actorID uuid.UUID, req Request) (*Result, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	owners, err := r.candidatesOf(ctx, tenantID, req.ApplicationIDs)
	if err != nil {
		return nil, err
	}

	items := make([]ItemResult, len(req.ApplicationIDs))
	for i, id := range req.ApplicationIDs {
		items[i] = ItemResult{ApplicationID: id, Status: ItemSkipped}
	}

	for start := 0; start < len(items); start += BatchSize {
		end := start + BatchSize
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		g.SetLimit(r.concurrency)
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				break
			}
			i := i
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				id := items[i].ApplicationID
				candidate, ok := owners[id]
				if !ok {
					items[i].Status, items[i].Error = ItemError, errNotFound.Error()
					return nil
				}
				if err := r.apply(ctx, tenantID, actorID, id, candidate, req); err != nil {
					items[i].Status, items[i].Error = ItemError, err.Error()
					return nil
				}
				items[i].Status = ItemOK
				return nil
			})
		}
		_ = g.Wait()
	}

	result := summarize(items)
	r.logger.Info("bulk action finished",
		zap.String("action", string(req.Action)),
		zap.String("tenant_id", tenantID.String()),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (r *Runner) apply(ctx context.Context, tenantID, actorID, appID, candidateID uuid.UUID, req Request) error {
	p := req.Params
	switch req.Action {
	case ActionMove:
		_, err := r.mover.Move(ctx, tenantID, actorID, appID, pipeline.MoveRequest{To: p.Stage, Reason: p.Reason})
		return err
	case ActionReject:
		_, err := r.mover.Move(ctx, tenantID, actorID, appID, pipeline.MoveRequest{To: pipeline.StageRejected, Reason: p.Reason})
		return err
	case ActionTag:
		_, err := r.tagger.AddTag(ctx, tenantID, actorID, candidateID, p.Tag)
		return err
	case ActionNotify:
		_, err := r.notifier.SendToApplication(ctx, tenantID, appID, p.Channel, p.Template, p.Data)
		return err
	}
	return fmt.Errorf("unknown action %q", req.Action)
}
