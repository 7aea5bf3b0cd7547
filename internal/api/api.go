// Package api exposes the hiring services as a JSON HTTP API under
// /api/v1.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/ratelimit"
	"github.com/hireflow/hireflow/internal/web/response"
	"github.com/hireflow/hireflow/internal/web/router"
	"github.com/hireflow/hireflow/internal/web/websocket"
)

// BasePath prefixes every route
const BasePath = "/api/v1"

// Services are the backends the handlers call. Nil services leave their
// routes unregistered.
type Services struct {
	Users         UserService
	Postings      PostingService
	Candidates    CandidateService
	Applications  ApplicationService
	Documents     DocumentService
	Notifications NotificationService
	Webhooks      WebhookService
	Audit         AuditService
	Bulk          BulkService
	Analytics     AnalyticsService
	Jobs          JobStats
	Health        Pinger
}

// Config configures the middleware stack
type Config struct {
	Logger         *zap.Logger
	Tokens         middleware.TokenValidator
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Limiter limits requests per client IP; nil disables it
	Limiter ratelimit.RateLimiter
	// Hub serves /ws; nil disables it
	Hub       *websocket.Hub
	WebSocket websocket.Config
}

// NewRouter builds the HTTP handler for the API
func NewRouter(cfg Config, svc Services) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := router.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(cfg.Logger),
		middleware.Logging(cfg.Logger, BasePath+"/healthz"),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)),
	)

	r.Route(BasePath, func(r chi.Router) {
		// http.TimeoutHandler cannot be hijacked, so the socket sits outside it
		if cfg.Hub != nil {
			r.With(
				middleware.AuthWithConfig(middleware.AuthConfig{Validator: cfg.Tokens, QueryParam: "token"}),
				middleware.RequireTenant(),
			).Handle("/ws", websocket.NewUpgrader(cfg.Hub, cfg.WebSocket))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			if cfg.Limiter != nil {
				r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
			}

			r.Get("/healthz", HealthHandler(svc.Health))
			if svc.Users != nil {
				r.Post("/auth/login", LoginHandler(svc.Users))
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.Tokens), middleware.RequireTenant())

				if svc.Users != nil {
					RegisterUserRoutes(r, svc.Users)
				}
				if svc.Postings != nil {
					RegisterPostingRoutes(r, svc.Postings)
				}
				if svc.Candidates != nil {
					RegisterCandidateRoutes(r, svc.Candidates)
				}
				if svc.Applications != nil {
					RegisterApplicationRoutes(r, svc.Applications)
				}
				if svc.Documents != nil {
					RegisterDocumentRoutes(r, svc.Documents)
				}
				if svc.Notifications != nil {
					RegisterNotificationRoutes(r, svc.Notifications)
				}
				if svc.Webhooks != nil {
					RegisterWebhookRoutes(r, svc.Webhooks)
				}
				if svc.Audit != nil {
					RegisterAuditRoutes(r, svc.Audit)
				}
				if svc.Bulk != nil {
					RegisterBulkRoutes(r, svc.Bulk)
				}
				if svc.Analytics != nil {
					RegisterAnalyticsRoutes(r, svc.Analytics)
				}
				if svc.Jobs != nil {
					RegisterJobRoutes(r, svc.Jobs)
				}
			})
		})
	})

	return r
}

// pathID parses the UUID path parameter name, rendering a 400 on failure
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := router.PathUUID(r, name)
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// decode reads the JSON body into dst, rendering a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := response.DecodeJSON(w, r, dst); err != nil {
		response.RenderBadRequest(w, err.Error())
		return false
	}
	return true
}
