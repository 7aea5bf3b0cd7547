package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/web/auth"
	webcontext "github.com/hireflow/hireflow/internal/web/context"
	"github.com/hireflow/hireflow/internal/web/response"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthConfig holds configuration for authentication middleware
type AuthConfig struct {
	Validator TokenValidator
	// QueryParam, when set, is consulted if the Authorization header is absent.
	// Browsers cannot set headers on WebSocket upgrades.
	QueryParam string
}

// Auth requires a valid bearer token
func Auth(validator TokenValidator) Middleware {
	return AuthWithConfig(AuthConfig{Validator: validator})
}

// AuthWithConfig creates an authentication middleware with custom configuration
func AuthWithConfig(config AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok && config.QueryParam != "" {
				token = r.URL.Query().Get(config.QueryParam)
				ok = token != ""
			}
			if !ok {
				response.RenderUnauthorized(w, "Authorization required")
				return
			}

			claims, err := config.Validator.ValidateToken(token)
			if err != nil {
				response.RenderUnauthorized(w, "Invalid token")
				return
			}

			id, err := claims.Identity()
			if err != nil {
				response.RenderUnauthorized(w, "Invalid token claims")
				return
			}

			if info := webcontext.GetRequestInfo(r.Context()); info != nil {
				info.UserID = id.UserID.String()
				info.TenantID = id.TenantID
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// RequireTenant rejects requests that are not scoped to a tenant
func RequireTenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if webcontext.GetTenant(r.Context()) == uuid.Nil {
				response.RenderUnauthorized(w, "Tenant required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
