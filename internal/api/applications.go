package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/response"
)

type applyRequest struct {
	PostingID   uuid.UUID `json:"posting_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
}

type reorderRequest struct {
	Position int `json:"position"`
}

// ApplyHandler handles POST /applications
func ApplyHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyRequest
		if !decode(w, r, &req) {
			return
		}

		errs := validation.New()
		if req.PostingID == uuid.Nil {
			errs.Add("posting_id", "is required")
		}
		if req.CandidateID == uuid.Nil {
			errs.Add("candidate_id", "is required")
		}
		if err := errs.Err(); err != nil {
			response.RenderServiceError(w, err)
			return
		}

		ctx := r.Context()
		app, err := svc.Apply(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), req.PostingID, req.CandidateID)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, app)
	}
}

// GetApplicationHandler handles GET /applications/{id}
func GetApplicationHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		app, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, app)
	}
}

// MoveApplicationHandler handles POST /applications/{id}/move. Refused
// transitions render as 409.
func MoveApplicationHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req pipeline.MoveRequest
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		app, err := svc.Move(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, req)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, app)
	}
}

// ReorderApplicationHandler handles POST /applications/{id}/reorder and
// returns the renumbered column
func ReorderApplicationHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req reorderRequest
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		column, err := svc.Reorder(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, req.Position)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"column": column})
	}
}

// ApplicationHistoryHandler handles GET /applications/{id}/history
func ApplicationHistoryHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		history, err := svc.History(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"history": history})
	}
}

// BoardHandler handles GET /postings/{id}/board
func BoardHandler(svc ApplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		board, err := svc.Board(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, board)
	}
}

// RegisterApplicationRoutes registers application and board routes
func RegisterApplicationRoutes(r chi.Router, svc ApplicationService) {
	read := r.With(middleware.RequirePermission(auth.ApplicationsRead))
	read.Get("/applications/{id}", GetApplicationHandler(svc))
	read.Get("/applications/{id}/history", ApplicationHistoryHandler(svc))
	read.Get("/postings/{id}/board", BoardHandler(svc))

	r.With(middleware.RequirePermission(auth.ApplicationsWrite)).Post("/applications", ApplyHandler(svc))

	move := r.With(middleware.RequirePermission(auth.ApplicationsMove))
	move.Post("/applications/{id}/move", MoveApplicationHandler(svc))
	move.Post("/applications/{id}/reorder", ReorderApplicationHandler(svc))
}
