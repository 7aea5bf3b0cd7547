package auth

import (
	"context"

	"github.com/google/uuid"

	webcontext "github.com/hireflow/hireflow/internal/web/context"
)

// GetCurrentUser retrieves the current user ID from the context
// Returns an empty string if no user is authenticated
func GetCurrentUser(ctx context.Context) string {
	return webcontext.GetCurrentUser(ctx)
}

// WithIdentity stores every part of the identity in the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = webcontext.SetCurrentUser(ctx, id.UserID.String())
	ctx = webcontext.SetTenant(ctx, id.TenantID)
	if len(id.Roles) > 0 {
		ctx = webcontext.SetUserRoles(ctx, id.Roles)
	}
	return ctx
}

// TenantFrom returns the tenant the request is scoped to
func TenantFrom(ctx context.Context) uuid.UUID {
	return webcontext.GetTenant(ctx)
}

// ActorFrom returns the acting user, or uuid.Nil for system actions
func ActorFrom(ctx context.Context) uuid.UUID {
	return webcontext.GetActor(ctx)
}
