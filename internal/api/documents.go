package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/ats/documents"
	"github.com/hireflow/hireflow/internal/ats/notify"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/response"
)

// UploadDocumentHandler handles POST /applications/{id}/documents. The
// file itself lives in object storage; only its metadata is recorded.
func UploadDocumentHandler(svc DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var in documents.Upload
		if !decode(w, r, &in) {
			return
		}

		ctx := r.Context()
		doc, err := svc.Upload(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), appID, in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, doc)
	}
}

// ListDocumentsHandler handles GET /applications/{id}/documents
func ListDocumentsHandler(svc DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		docs, err := svc.ListForApplication(r.Context(), auth.TenantFrom(r.Context()), appID)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"documents": docs})
	}
}

// GetDocumentHandler handles GET /documents/{id}
func GetDocumentHandler(svc DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		doc, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, doc)
	}
}

// ReviewDocumentHandler handles POST /documents/{id}/review
func ReviewDocumentHandler(svc DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var in documents.Review
		if !decode(w, r, &in) {
			return
		}

		ctx := r.Context()
		doc, err := svc.Review(ctx, auth.TenantFrom(ctx), auth.ActorFrom(ctx), id, in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, doc)
	}
}

// RegisterDocumentRoutes registers all routes for documents
func RegisterDocumentRoutes(r chi.Router, svc DocumentService) {
	read := r.With(middleware.RequirePermission(auth.DocumentsRead))
	read.Get("/applications/{id}/documents", ListDocumentsHandler(svc))
	read.Get("/documents/{id}", GetDocumentHandler(svc))

	r.With(middleware.RequirePermission(auth.ApplicationsWrite)).
		Post("/applications/{id}/documents", UploadDocumentHandler(svc))
	r.With(middleware.RequirePermission(auth.DocumentsReview)).
		Post("/documents/{id}/review", ReviewDocumentHandler(svc))
}

// SendNotificationHandler handles POST /notifications. Delivery happens
// on the job queue, so the response is 202.
func SendNotificationHandler(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var n notify.Notification
		if !decode(w, r, &n) {
			return
		}

		rec, err := svc.Send(r.Context(), auth.TenantFrom(r.Context()), n)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Accepted(w, rec)
	}
}

// GetNotificationHandler handles GET /notifications/{id}
func GetNotificationHandler(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		rec, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, rec)
	}
}

// RegisterNotificationRoutes registers notification routes
func RegisterNotificationRoutes(r chi.Router, svc NotificationService) {
	send := r.With(middleware.RequirePermission(auth.NotificationsSend))
	send.Post("/notifications", SendNotificationHandler(svc))
	send.Get("/notifications/{id}", GetNotificationHandler(svc))
}
