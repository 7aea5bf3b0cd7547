// Package analytics computes the hiring dashboard of a tenant.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/web/cache"
)

// CacheTTL is how long a dashboard is served from cache
const CacheTTL = 5 * time.Minute

// FunnelStep is one stage of the main line
type FunnelStep struct {
	Stage pipeline.Stage `json:"stage"`
	// Reached counts applications that got at least this far
	Reached int `json:"reached"`
	// ConversionRate is Reached over the previous step's Reached
	ConversionRate float64 `json:"conversion_rate"`
}

// Dashboard is a summary of a tenant's hiring, optionally for one posting
type Dashboard struct {
	PostingID              *uuid.UUID     `json:"posting_id,omitempty"`
	StageCounts            map[string]int `json:"stage_counts"`
	Funnel                 []FunnelStep   `json:"funnel"`
	SourceBreakdown        map[string]int `json:"source_breakdown"`
	AvgTimeToHireDays      float64        `json:"avg_time_to_hire_days"`
	OpenPostings           int            `json:"open_postings"`
	ApplicationsLast30Days int            `json:"applications_last_30_days"`
	GeneratedAt            time.Time      `json:"generated_at"`
}

// BuildFunnel turns furthest-stage counts into funnel steps. furthest maps
// a main line index to the number of applications whose furthest stage has
// that index. The first step converts at 1 when anything reached it.
func BuildFunnel(furthest map[int]int) []FunnelStep {
	stages := pipeline.Forward()
	steps := make([]FunnelStep, len(stages))

	reached := 0
	for i := len(stages) - 1; i >= 0; i-- {
		reached += furthest[i]
		steps[i] = FunnelStep{Stage: stages[i], Reached: reached}
	}

	for i := range steps {
		switch {
		case i == 0 && steps[i].Reached > 0:
			steps[i].ConversionRate = 1
		case i > 0 && steps[i-1].Reached > 0:
			steps[i].ConversionRate = float64(steps[i].Reached) / float64(steps[i-1].Reached)
		}
	}
	return steps
}

// Service computes and caches dashboards
type Service struct {
	db     *sql.DB
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an analytics service. A nil cache disables caching.
func NewService(db *sql.DB, c cache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, cache: c, logger: logger, now: time.Now}
}

func tenantPrefix(tenantID uuid.UUID) string {
	return "analytics:" + tenantID.String() + ":"
}

func cacheKey(tenantID uuid.UUID, postingID *uuid.UUID) string {
	if postingID == nil {
		return tenantPrefix(tenantID) + "all"
	}
	return tenantPrefix(tenantID) + postingID.String()
}

// scope restricts application queries to the tenant and, when set, the
// posting. alias prefixes the column names.
type scope struct {
	where string
	args  []interface{}
}

func newScope(tenantID uuid.UUID, postingID *uuid.UUID, alias string) scope {
	s := scope{where: alias + "tenant_id = $1", args: []interface{}{tenantID}}
	if postingID != nil {
		s.where += " AND " + alias + "posting_id = $2"
		s.args = append(s.args, *postingID)
	}
	return s
}

// next is the placeholder for an extra argument
func (s scope) next() string {
	return "$" + strconv.Itoa(len(s.args)+1)
}

func (s scope) with(arg interface{}) []interface{} {
	return append(append([]interface{}(nil), s.args...), arg)
}

// Dashboard returns the dashboard for the tenant, from cache when fresh
func (s *Service) Dashboard(ctx context.Context, tenantID uuid.UUID, postingID *uuid.UUID) (*Dashboard, error) {
	key := cacheKey(tenantID, postingID)
	if s.cache != nil {
		var d Dashboard
		err := cache.GetJSON(ctx, s.cache, key, &d)
		if err == nil {
			return &d, nil
		}
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	d, err := s.Compute(ctx, tenantID, postingID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, d, CacheTTL); err != nil {
			s.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return d, nil
}

// Compute runs the dashboard queries concurrently, bypassing the cache
func (s *Service) Compute(ctx context.Context, tenantID uuid.UUID, postingID *uuid.UUID) (*Dashboard, error) {
	now := s.now().UTC()
	d := &Dashboard{PostingID: postingID, GeneratedAt: now}
	apps := newScope(tenantID, postingID, "")
	joined := newScope(tenantID, postingID, "a.")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.countBy(ctx, `SELECT stage, COUNT(*) FROM applications WHERE `+apps.where+` GROUP BY stage`, apps.args...)
		if err != nil {
			return fmt.Errorf("stage counts: %w", err)
		}
		for _, st := range pipeline.Stages() {
			if _, ok := counts[string(st)]; !ok {
				counts[string(st)] = 0
			}
		}
		d.StageCounts = counts
		return nil
	})

	g.Go(func() error {
		counts, err := s.countBy(ctx, `
			SELECT c.source, COUNT(*) FROM applications a
			JOIN candidates c ON c.id = a.candidate_id
			WHERE `+joined.where+` GROUP BY c.source`, joined.args...)
		if err != nil {
			return fmt.Errorf("source breakdown: %w", err)
		}
		d.SourceBreakdown = counts
		return nil
	})

	g.Go(func() error {
		furthest, err := s.furthest(ctx, joined)
		if err != nil {
			return fmt.Errorf("funnel: %w", err)
		}
		d.Funnel = BuildFunnel(furthest)
		return nil
	})

	g.Go(func() error {
		err := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (hired_at - applied_at)) / 86400), 0)
			FROM applications WHERE `+apps.where+` AND hired_at IS NOT NULL`, apps.args...).
			Scan(&d.AvgTimeToHireDays)
		if err != nil {
			return fmt.Errorf("time to hire: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		q := `SELECT COUNT(*) FROM postings WHERE tenant_id = $1 AND status = 'open'`
		args := []interface{}{tenantID}
		if postingID != nil {
			q += ` AND id = $2`
			args = append(args, *postingID)
		}
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&d.OpenPostings); err != nil {
			return fmt.Errorf("open postings: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM applications WHERE `+apps.where+` AND applied_at >= `+apps.next(),
			apps.with(now.AddDate(0, 0, -30))...).Scan(&d.ApplicationsLast30Days)
		if err != nil {
			return fmt.Errorf("recent applications: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute dashboard: %w", err)
	}
	return d, nil
}

func (s *Service) countBy(ctx context.Context, q string, args ...interface{}) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// furthest counts applications by the furthest main line stage their
// history reached
func (s *Service) furthest(ctx context.Context, sc scope) (map[int]int, error) {
	stages := pipeline.Forward()
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT furthest, COUNT(*) FROM (
			SELECT h.application_id, MAX(array_position(`+sc.next()+`::text[], h.to_stage)) AS furthest
			FROM stage_history h
			JOIN applications a ON a.id = h.application_id
			WHERE `+sc.where+`
			GROUP BY h.application_id
		) f
		WHERE furthest IS NOT NULL
		GROUP BY furthest`,
		sc.with(pq.Array(names))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]int)
	for rows.Next() {
		var position, n int
		if err := rows.Scan(&position, &n); err != nil {
			return nil, err
		}
		result[position-1] = n
	}
	return result, rows.Err()
}

// Invalidate drops every cached dashboard of the tenant
func (s *Service) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePrefix(ctx, tenantPrefix(tenantID))
}

// Invalidator returns a live sink that drops cached dashboards when
// applications or postings change
func (s *Service) Invalidator() events.LiveSink {
	return events.LiveFunc(func(ctx context.Context, ev events.Event) {
		switch ev.Type {
		case events.ApplicationCreated, events.ApplicationStageChanged,
			events.PostingStatusChanged, events.BulkCompleted:
		default:
			return
		}
		if err := s.Invalidate(ctx, ev.TenantID); err != nil {
			s.logger.Warn("failed to invalidate analytics cache",
				zap.String("tenant_id", ev.TenantID.String()), zap.Error(err))
		}
	})
}
