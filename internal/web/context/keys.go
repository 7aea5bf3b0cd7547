package context

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey int

const (
	requestIDKey contextKey = iota
	currentUserKey
	userRolesKey
	tenantKey
)

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetRequestID adds the request ID to the context
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetCurrentUser extracts the current user ID from the context
func GetCurrentUser(ctx context.Context) string {
	if user, ok := ctx.Value(currentUserKey).(string); ok {
		return user
	}
	return ""
}

// SetCurrentUser adds the current user ID to the context
func SetCurrentUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, currentUserKey, user)
}

// GetUserRoles extracts the user roles from the context
func GetUserRoles(ctx context.Context) []string {
	if roles, ok := ctx.Value(userRolesKey).([]string); ok {
		return roles
	}
	return nil
}

// SetUserRoles adds the user roles to the context
func SetUserRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, userRolesKey, roles)
}

// GetTenant extracts the tenant ID from the context.
// Returns uuid.Nil when the request is not scoped to a tenant.
func GetTenant(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(tenantKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// SetTenant scopes the context to a tenant
func SetTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// GetActor returns the current user as a UUID, or uuid.Nil when absent or malformed
func GetActor(ctx context.Context) uuid.UUID {
	id, err := uuid.Parse(GetCurrentUser(ctx))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// RequestInfo is filled in by inner middleware so that outer middleware,
// such as request logging, can see who the request was for
type RequestInfo struct {
	UserID   string
	TenantID uuid.UUID
}

type requestInfoKey struct{}

// WithRequestInfo attaches an empty RequestInfo to the context
func WithRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	info := &RequestInfo{}
	return context.WithValue(ctx, requestInfoKey{}, info), info
}

// GetRequestInfo returns the RequestInfo attached by WithRequestInfo, or nil
func GetRequestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}
