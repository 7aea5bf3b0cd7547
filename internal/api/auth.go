package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/middleware"
	"github.com/hireflow/hireflow/internal/web/response"
)

type loginRequest struct {
	Tenant   string `json:"tenant"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler handles POST /auth/login
func LoginHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decode(w, r, &req) {
			return
		}

		result, err := svc.Login(r.Context(), req.Tenant, req.Email, req.Password)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.OK(w, result)
	}
}

// HealthHandler handles GET /healthz. A nil pinger always reports healthy.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				response.RenderError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
				return
			}
		}
		response.OK(w, map[string]string{"status": "ok"})
	}
}

type registerRequest struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// RegisterUserHandler handles POST /users
func RegisterUserHandler(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !decode(w, r, &req) {
			return
		}

		u, err := svc.Register(r.Context(), auth.TenantFrom(r.Context()), req.Email, req.Name, req.Password, req.Roles)
		if err != nil {
			response.RenderServiceError(w, err)
			return
		}
		response.Created(w, u)
	}
}

// RegisterUserRoutes registers user management routes
func RegisterUserRoutes(r chi.Router, svc UserService) {
	r.With(middleware.RequirePermission(auth.TenantAdmin)).Post("/users", RegisterUserHandler(svc))
}
