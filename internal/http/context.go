package http

import (
	"context"

	"hostingspace/app/internal/auth"
)

type contextKey string

const (
	requestIDContextKey contextKey = "hostingspace/request-id"
	identityContextKey  contextKey = "hostingspace/identity"
)

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// IdentityFromContext returns the authenticated caller set by the auth middleware.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	if ctx == nil {
		return auth.Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok && identity.AuthID != ""
}
