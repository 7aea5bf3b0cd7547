package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/ats/candidates"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/query"
	"github.com/hireflow/hireflow/internal/web/response"
)

type tagRequest struct {
	Tag string `json:"tag"`
}

// ListCandidatesHandler handles GET /candidates
func ListCandidatesHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := query.Parse(r, candidates.ListOptions)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}

		items, total, err := svc.List(r.Context(), auth.TenantFrom(r.Context()), params)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Paginated(w, items, params.Page, params.PerPage, total)
	}
}

// GetCandidateHandler handles GET /candidates/{id}
func GetCandidateHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		c, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, c)
	}
}

// CreateCandidateHandler handles POST /candidates
func CreateCandidateHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in candidates.Input
		if !decode(w, r, &in) {
			return
		}

		ctx := r.Context()
		c, err := svc.Create(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, c)
	}
}

// UpdateCandidateHandler handles PUT /candidates/{id}
func UpdateCandidateHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var in candidates.Input
		if !decode(w, r, &in) {
			return
		}

		ctx := r.Context()
		c, err := svc.Update(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, c)
	}
}

// AddCandidateTagHandler handles POST /candidates/{id}/tags
func AddCandidateTagHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req tagRequest
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		added, err := svc.AddTag(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, req.Tag)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]bool{"added": added})
	}
}

// DeleteCandidateHandler handles DELETE /candidates/{id}
func DeleteCandidateHandler(svc CandidateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		ctx := r.Context()
		if err := svc.Delete(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id); err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// RegisterCandidateRoutes registers all routes for candidates
func RegisterCandidateRoutes(r chi.Router, svc CandidateService) {
	read := r.With(middleware.RequirePermission(auth.CandidatesRead))
	read.Get("/candidates", ListCandidatesHandler(svc))
	read.Get("/candidates/{id}", GetCandidateHandler(svc))

	write := r.With(middleware.RequirePermission(auth.CandidatesWrite))
	write.Post("/candidates", CreateCandidateHandler(svc))
	write.Put("/candidates/{id}", UpdateCandidateHandler(svc))
	write.Post("/candidates/{id}/tags", AddCandidateTagHandler(svc))
	write.Delete("/candidates/{id}", DeleteCandidateHandler(svc))
}
