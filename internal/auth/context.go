// Package auth carries the caller's quota identity through a request.
//
// Authentication itself happens upstream; this service trusts the gateway's
// account header. The package is imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/gambit/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const identityContextKey contextKey = "identity"

// GetIdentity retrieves the caller's identity from the context.
//
// Returns false if the identity middleware did not run.
//
// Usage:
//
//	id, ok := auth.GetIdentity(r.Context())
//	if !ok {
//	    // identity must come from the request body
//	}
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(domain.Identity)
	return id, ok
}

// GetIdentityFromRequest is GetIdentity on the request's context.
func GetIdentityFromRequest(r *http.Request) (domain.Identity, bool) {
	return GetIdentity(r.Context())
}

// SetIdentity stores id in the context.
func SetIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
