package middleware

import (
	"net/http"

	"github.com/hireflow/hireflow/internal/web/auth"
	webcontext "github.com/hireflow/hireflow/internal/web/context"
	"github.com/hireflow/hireflow/internal/web/response"
)

// RequirePermission requires one of the user's roles to grant permission
func RequirePermission(permission auth.RBACPermission) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles := webcontext.GetUserRoles(r.Context())
			if webcontext.GetCurrentUser(r.Context()) == "" {
				response.RenderUnauthorized(w, "")
				return
			}

			if !auth.UserHasPermission(roles, permission) {
				response.RenderForbidden(w, "Missing permission "+string(permission))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
