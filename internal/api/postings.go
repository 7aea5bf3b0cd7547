package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/ats/postings"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/query"
	"github.com/hireflow/hireflow/internal/web/response"
)

// updatePostingRequest carries the version the client last read
type updatePostingRequest struct {
	postings.Input
	Version int `json:"version"`
}

type statusRequest struct {
	Status postings.Status `json:"status"`
}

// ListPostingsHandler handles GET /postings
func ListPostingsHandler(svc PostingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := query.Parse(r, postings.ListOptions)
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

// GetPostingHandler handles GET /postings/{id}
func GetPostingHandler(svc PostingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, p)
	}
}

// CreatePostingHandler handles POST /postings
func CreatePostingHandler(svc PostingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in postings.Input
		if !decode(w, r, &in) {
			return
		}

		ctx := r.Context()
		p, err := svc.Create(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, p)
	}
}

// UpdatePostingHandler handles PUT /postings/{id}. A zero version skips
// the optimistic lock check.
func UpdatePostingHandler(svc PostingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req updatePostingRequest
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		p, err := svc.Update(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, req.Input, req.Version)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, p)
	}
}

// ChangePostingStatusHandler handles POST /postings/{id}/status
func ChangePostingStatusHandler(svc PostingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req statusRequest
		if !decode(w, r, &req) {
			return
		}

		ctx := r.Context()
		p, err := svc.ChangeStatus(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, req.Status)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, p)
	}
}

// DeletePostingHandler handles DELETE /postings/{id}
func DeletePostingHandler(svc PostingService) http.HandlerFunc {
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

// RegisterPostingRoutes registers all routes for postings
func RegisterPostingRoutes(r chi.Router, svc PostingService) {
	read := r.With(middleware.RequirePermission(auth.PostingsRead))
	read.Get("/postings", ListPostingsHandler(svc))
	read.Get("/postings/{id}", GetPostingHandler(svc))

	write := r.With(middleware.RequirePermission(auth.PostingsWrite))
	write.Post("/postings", CreatePostingHandler(svc))
	write.Put("/postings/{id}", UpdatePostingHandler(svc))
	write.Post("/postings/{id}/status", ChangePostingStatusHandler(svc))
	write.Delete("/postings/{id}", DeletePostingHandler(svc))
}
