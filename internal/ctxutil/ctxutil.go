// Package ctxutil provides shared context key accessors for JWT claims.
//
// The claims context key lives in its own package so that server (whose
// auth middleware stores claims) and mcp can share it without importing
// each other. Currently only server imports ctxutil.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/bugdedup/internal/auth"
)

type contextKey string

const keyClaims contextKey = "claims"

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context, or nil if the
// request was unauthenticated.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}
