package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/ats/webhooks"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/response"
	"github.com/hireflow/hireflow/internal/web/router"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 200
)

// redact hides the signing secret, which is only shown on creation
func redact(e *webhooks.Endpoint) *webhooks.Endpoint {
	out := *e
	out.Secret = ""
	return &out
}

// ListWebhooksHandler handles GET /webhooks
func ListWebhooksHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.List(r.Context(), auth.TenantFrom(r.Context()))
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}

		out := make([]*webhooks.Endpoint, len(items))
		for i, e := range items {
			out[i] = redact(e)
		}
		response.OK(w, map[string]interface{}{"webhooks": out})
	}
}

// GetWebhookHandler handles GET /webhooks/{id}
func GetWebhookHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		e, err := svc.Get(r.Context(), auth.TenantFrom(r.Context()), id)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, redact(e))
	}
}

// CreateWebhookHandler handles POST /webhooks. The response carries the
// signing secret.
func CreateWebhookHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in webhooks.Input
		if !decode(w, r, &in) {
			return
		}

		e, err := svc.Create(r.Context(), auth.TenantFrom(r.Context()), in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, e)
	}
}

// UpdateWebhookHandler handles PUT /webhooks/{id}
func UpdateWebhookHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var in webhooks.Input
		if !decode(w, r, &in) {
			return
		}

		e, err := svc.Update(r.Context(), auth.TenantFrom(r.Context()), id, in)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, redact(e))
	}
}

// DeleteWebhookHandler handles DELETE /webhooks/{id}
func DeleteWebhookHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), auth.TenantFrom(r.Context()), id); err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// WebhookDeliveriesHandler handles GET /webhooks/{id}/deliveries?limit=
func WebhookDeliveriesHandler(svc WebhookService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		limit, err := router.QueryInt(r, "limit", defaultDeliveryLimit)
		if err != nil {
			response.RenderBadRequest(w, err.Error())
			return
		}
		if limit < 1 || limit > maxDeliveryLimit {
			errs := validation.New()
			errs.Add("limit", "must be between 1 and 200")
			response.RenderServiceError(w, errs.Err())
			return
		}

		deliveries, err := svc.Deliveries(r.Context(), auth.TenantFrom(r.Context()), id, limit)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, map[string]interface{}{"deliveries": deliveries})
	}
}

// RegisterWebhookRoutes registers all routes for webhook endpoints
func RegisterWebhookRoutes(r chi.Router, svc WebhookService) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.RequirePermission(auth.WebhooksManage))
		r.Get("/", ListWebhooksHandler(svc))
		r.Post("/", CreateWebhookHandler(svc))
		r.Get("/{id}", GetWebhookHandler(svc))
		r.Put("/{id}", UpdateWebhookHandler(svc))
		r.Delete("/{id}", DeleteWebhookHandler(svc))
		r.Get("/{id}/deliveries", WebhookDeliveriesHandler(svc))
	})
}
