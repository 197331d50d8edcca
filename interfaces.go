package bugdedup

import (
	"context"
	"net/http"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// hashing/OpenAI/noop provider. Uses []float32 (not pgvector.Vector) to avoid
// forcing the pgvector dependency on external consumers; New() wraps it in
// an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EventHook receives async notifications when bug lifecycle events occur.
// Multiple hooks may be registered via multiple WithEventHook calls. Hook
// methods run in goroutines — they must not block indefinitely. Failures
// are logged but do not fail the originating request.
type EventHook interface {
	OnBugCreated(ctx context.Context, bug Bug) error
	OnDuplicateFlagged(ctx context.Context, bug Bug, original Bug, hybridScore float32) error
}

// RouteRegistrar is the signature for registering additional routes on an
// HTTP mux. New() stores registrars passed via WithExtraRoutes but does not
// call them, so no extra routes are added to the server's mux.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides RBAC middleware for use in RouteRegistrar. It wraps
// the server's requireRole function so extension routes use the same auth
// chain without depending on internal/server directly.
type AuthHelper interface {
	RequireRole(role Role) func(http.Handler) http.Handler
}

// Middleware wraps an HTTP handler. New() stores middlewares passed via
// WithMiddleware but does not apply them to the server's handler chain.
type Middleware func(http.Handler) http.Handler
