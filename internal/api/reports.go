package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/ats/bulk"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/response"
	"github.com/hireflow/hireflow/internal/web/router"
)

// ListAuditHandler handles GET /audit?entity_type=&entity_id=
func ListAuditHandler(svc AuditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
		entityID, err := router.QueryUUID(r, "entity_id")
		if err != nil {
			response.RenderBadRequest(w, err.Error())
			return
		}

		errs := validation.New()
		errs.Required("entity_type", entityType)
		if entityID == uuid.Nil {
			errs.Add("entity_id", "is required")
		}
		if err := errs.Err(); err != nil {
			response.RenderServiceError(w, err)
			return
		}

		entries, err := svc.ListForEntity(r.Context(), auth.TenantFrom(r.Context()), entityType, entityID)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"entries": entries})
	}
}

// GetAuditHandler handles GET /audit/{id}
func GetAuditHandler(svc AuditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		entry, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, entry)
	}
}

// AuditDiffHandler handles GET /audit/{id}/diff
func AuditDiffHandler(svc AuditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		changes, err := svc.DiffEntry(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"entry_id": id, "changes": changes})
	}
}

// RegisterAuditRoutes registers audit trail routes
func RegisterAuditRoutes(r chi.Router, svc AuditService) {
	read := r.With(middleware.RequirePermission(auth.AuditRead))
	read.Get("/audit", ListAuditHandler(svc))
	read.Get("/audit/{id}", GetAuditHandler(svc))
	read.Get("/audit/{id}/diff", AuditDiffHandler(svc))
}

// SubmitBulkHandler handles POST /bulk. Operations that were queued
// instead of run inline answer 202.
func SubmitBulkHandler(svc BulkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulk.Request
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		op, err := svc.Submit(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), req)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		if op.Status == bulk.StatusPending {
			response.Accepted(w, op)
			return
		}
		response.OK(w, op)
	}
}

// GetBulkHandler handles GET /bulk/{id}
func GetBulkHandler(svc BulkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		op, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, op)
	}
}

// RegisterBulkRoutes registers bulk operation routes
func RegisterBulkRoutes(r chi.Router, svc BulkService) {
	run := r.With(middleware.RequirePermission(auth.BulkRun))
	run.Post("/bulk", SubmitBulkHandler(svc))
	run.Get("/bulk/{id}", GetBulkHandler(svc))
}

// DashboardHandler handles GET /analytics/dashboard?posting_id=
func DashboardHandler(svc AnalyticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postingID, err := router.QueryUUID(r, "posting_id")
		if err != nil {
			response.RenderBadRequest(w, err.Error())
			return
		}
		var scope *uuid.UUID
		if postingID != uuid.Nil {
			scope = &postingID
		}

		d, err := svc.Dashboard(r.Context(), auth.TenantFrom(r.Context()), scope)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, d)
	}
}

// RegisterAnalyticsRoutes registers analytics routes
func RegisterAnalyticsRoutes(r chi.Router, svc AnalyticsService) {
	r.With(middleware.RequirePermission(auth.AnalyticsRead)).Get("/analytics/dashboard", DashboardHandler(svc))
}

// JobStatsHandler handles GET /jobs/stats
func JobStatsHandler(svc JobStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"queues": stats})
	}
}

// RegisterJobRoutes registers job queue inspection routes
func RegisterJobRoutes(r chi.Router, svc JobStats) {
	r.With(middleware.RequirePermission(auth.TenantAdmin)).Get("/jobs/stats", JobStatsHandler(svc))
}
