package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/bugdedup/internal/auth"
	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/ratelimit"
	"github.com/ashita-ai/bugdedup/internal/storage"
)

// Server is the bug-deduplication HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	JWTMgr   *auth.JWTManager
	Detector *detector.Detector
	Logger   *slog.Logger

	// Optional dependencies (nil/zero = disabled).
	RateLimiter     *ratelimit.MemoryLimiter
	Broker          *Broker // SSE fan-out; nil disables GET /api/events.
	AdminAPIKeyHash string  // Argon2id hash of the shared admin/QA bootstrap key.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Detector:            cfg.Detector,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AdminAPIKeyHash:     cfg.AdminAPIKeyHash,
	})

	mux := http.NewServeMux()

	// Auth: issue a JWT in exchange for the shared admin/QA key (no auth required).
	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	qaRole := requireRole(model.RoleQA)

	// Submission + read endpoints are open to any caller, gated only by rate
	// limiting — there is no per-submitter authorization tier below QA.
	mux.Handle("POST /api/bugs/", http.HandlerFunc(h.HandleCreateBug))
	mux.Handle("GET /api/bugs/search", http.HandlerFunc(h.HandleSearchBugs))
	mux.Handle("GET /api/bugs/{id}", http.HandlerFunc(h.HandleGetBug))
	mux.Handle("GET /api/bugs/{id}/duplicates", http.HandlerFunc(h.HandleGetBugDuplicates))
	mux.Handle("GET /api/bugs/{id}/similar", http.HandlerFunc(h.HandleGetBugSimilar))

	// QA review endpoints require at least RoleQA.
	mux.Handle("POST /api/qa/bugs/{id}/promote", qaRole(http.HandlerFunc(h.HandlePromoteBug)))
	mux.Handle("POST /api/qa/bugs/{id}/reclassify", qaRole(http.HandlerFunc(h.HandleReclassifyBug)))
	mux.Handle("GET /api/qa/low-quality", qaRole(http.HandlerFunc(h.HandleListLowQuality)))
	mux.Handle("GET /api/qa/low-quality/{id}", qaRole(http.HandlerFunc(h.HandleGetLowQuality)))
	mux.Handle("POST /api/qa/low-quality/{id}/approve", qaRole(http.HandlerFunc(h.HandleApproveLowQuality)))
	mux.Handle("POST /api/qa/low-quality/{id}/reject", qaRole(http.HandlerFunc(h.HandleRejectLowQuality)))

	// Real-time submission feed, QA+ only.
	mux.Handle("GET /api/events", qaRole(http.HandlerFunc(h.HandleSubscribe)))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → auth → recovery → rate limit → handler.
	var handler http.Handler = mux
	if cfg.RateLimiter != nil {
		reqIDFunc := func(r *http.Request) string { return RequestIDFromContext(r.Context()) }
		handler = ratelimit.MiddlewareWithRequestID(cfg.RateLimiter, ratelimit.IPKeyFunc, reqIDFunc)(handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.AdminAPIKeyHash, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
