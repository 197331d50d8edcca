// Package bugdedup is the public API for embedding the bug deduplication
// server.
//
// Enterprise and plugin consumers import this package to construct and
// extend the server without forking it:
//
//	app, err := bugdedup.New(
//	    bugdedup.WithVersion(version),
//	    bugdedup.WithLogger(logger),
//	    bugdedup.WithEventHook(myEnterpriseHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: bugdedup (root) imports
// internal/*, but internal/* never imports bugdedup. Public types (Bug,
// Candidate) are standalone structs with no internal imports; conversion
// helpers live here because this is the only file that sees both sides of
// the boundary.
package bugdedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/bugdedup/internal/auth"
	"github.com/ashita-ai/bugdedup/internal/config"
	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/embedding"
	"github.com/ashita-ai/bugdedup/internal/mcp"
	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/outbox"
	"github.com/ashita-ai/bugdedup/internal/quality"
	"github.com/ashita-ai/bugdedup/internal/ratelimit"
	"github.com/ashita-ai/bugdedup/internal/recurrence"
	"github.com/ashita-ai/bugdedup/internal/similarity"
	"github.com/ashita-ai/bugdedup/internal/storage"
	"github.com/ashita-ai/bugdedup/internal/telemetry"
	"github.com/ashita-ai/bugdedup/internal/vectorindex"
	"github.com/ashita-ai/bugdedup/migrations"

	"github.com/ashita-ai/bugdedup/internal/server"
)

// App is the bug-deduplication server lifecycle. Construct with New(), run
// with Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	index        *vectorindex.RebuildWorker
	outbox       *outbox.ReindexWorker
	broker       *server.Broker // nil when no notify connection
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server. It connects to the database, runs migrations,
// wires all subsystems, and returns a ready-to-run App. It does NOT start
// any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("bugdedup starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := storage.RunMigrations(context.Background(), cfg.NotifyURL, migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Run extra (enterprise) migrations after core migrations.
	for i, extraFS := range o.extraMigrations {
		if err := storage.RunMigrations(context.Background(), cfg.NotifyURL, extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	var adminAPIKeyHash string
	if cfg.AdminAPIKey != "" {
		adminAPIKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("hash admin api key: %w", err)
		}
	} else {
		logger.Warn("no BUGDEDUP_ADMIN_API_KEY configured — /auth/token and QA routes are unreachable")
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder detector.Embedder
	if o.embeddingProvider != nil {
		embedder = &publicEmbedderAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Local in-process vector index, kept fresh by a periodic rebuild from
	// Postgres (§4.6). A Qdrant-backed ANN index can be swapped in past the
	// in-process working-set ceiling; the rebuild worker still owns the
	// hot-swap and snapshot lifecycle either way.
	liveIndex := vectorindex.New(cfg.EmbeddingDimensions)
	rebuildWorker := vectorindex.NewRebuildWorker(liveIndex, db, cfg.EmbeddingDimensions, cfg.RebuildSnapshotPath, cfg.RebuildInterval, logger)
	if cfg.RebuildSnapshotPath != "" {
		if err := rebuildWorker.Live().Load(cfg.RebuildSnapshotPath); err != nil {
			logger.Warn("vector index: snapshot load failed, starting empty", "error", err)
		}
	}

	var qdrantBackend *vectorindex.QdrantBackend
	if cfg.QdrantURL != "" {
		qdrantBackend, err = vectorindex.NewQdrantBackend(vectorindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantBackend.EnsureCollection(context.Background()); err != nil {
			_ = qdrantBackend.Close()
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	var neighborSearcher similarity.NeighborSearcher = &liveIndexSearcher{worker: rebuildWorker}
	if qdrantBackend != nil {
		neighborSearcher = &qdrantSearcher{backend: qdrantBackend}
	}

	similarityEngine := similarity.New(neighborSearcher, db)
	recurrenceTracker := recurrence.New(db, cfg.RecurrenceThreshold)

	reindexWorker := outbox.NewReindexWorker(db, rebuildWorker, logger, cfg.ReindexPollInterval, cfg.ReindexBatchSize)

	hooks := make([]detector.Hook, 0, len(o.eventHooks))
	for _, h := range o.eventHooks {
		hooks = append(hooks, &publicHookAdapter{h: h})
	}

	det := &detector.Detector{
		DB:         db,
		Embedder:   embedder,
		Similarity: similarityEngine,
		Index:      rebuildWorker,
		Recurrence: recurrenceTracker,
		Logger:     logger,
		Hooks:      hooks,
		Config: detector.Config{
			HighThreshold:       cfg.DuplicateHighThreshold,
			LowThreshold:        cfg.DuplicateLowThreshold,
			TopK:                cfg.SimilarityTopK,
			RecurrenceThreshold: cfg.RecurrenceThreshold,
			Quality:             quality.Config{MinDescriptionLen: cfg.MinDescriptionLen},
			MaxTxRetries:        3,
			TxRetryBaseDelay:    20 * time.Millisecond,
		},
	}

	// SSE broker for real-time bug-created/duplicate-found notifications.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiter.
	var limiter *ratelimit.MemoryLimiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Detector:            det,
		Broker:              broker,
		RateLimiter:         limiter,
		AdminAPIKeyHash:     adminAPIKeyHash,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	// MCP server exposing check_duplicate/submit_bug for MCP-compatible agents.
	_ = mcp.New(db, det, logger, version)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		index:        rebuildWorker,
		outbox:       reindexWorker,
		broker:       broker,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return, Shutdown
// is called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.index.Start(ctx)
	a.outbox.Start(ctx)
	if a.broker != nil {
		go a.broker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight, drain the vector-index rebuild/reindex workers, close
// the database pool and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("bugdedup shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	a.index.Drain(drainCtx)
	a.outbox.Drain(drainCtx)
	drainCancel()

	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("bugdedup stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────

// publicEmbedderAdapter wraps a bugdedup.EmbeddingProvider to satisfy
// detector.Embedder, converting []float32 to pgvector.Vector at the boundary.
type publicEmbedderAdapter struct {
	p EmbeddingProvider
}

func (a *publicEmbedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

// liveIndexSearcher adapts vectorindex.RebuildWorker's hot-swapped live
// Index to similarity.NeighborSearcher, re-reading the current pointer on
// every call so index rebuilds are invisible to in-flight searches.
type liveIndexSearcher struct {
	worker *vectorindex.RebuildWorker
}

func (s *liveIndexSearcher) Search(query []float32, k int) ([]vectorindex.Match, error) {
	return s.worker.Live().Search(query, k)
}

// qdrantSearcher adapts vectorindex.QdrantBackend's product-scoped Search to
// similarity.NeighborSearcher's product-agnostic signature. Product
// filtering for Qdrant deployments happens via similarity.Engine's
// metadata scoring pass instead, since NeighborSearcher carries no product.
type qdrantSearcher struct {
	backend *vectorindex.QdrantBackend
}

func (s *qdrantSearcher) Search(query []float32, k int) ([]vectorindex.Match, error) {
	return s.backend.Search(context.Background(), "", query, k)
}

// publicHookAdapter wraps a bugdedup.EventHook to satisfy detector.Hook,
// converting internal model.Bug values to the public Bug view at the
// boundary so hook implementations never import internal/model.
type publicHookAdapter struct {
	h EventHook
}

func (a *publicHookAdapter) OnBugCreated(ctx context.Context, bug *model.Bug) error {
	return a.h.OnBugCreated(ctx, bugFromModel(bug))
}

func (a *publicHookAdapter) OnDuplicateFlagged(ctx context.Context, bug, original *model.Bug, hybridScore float32) error {
	return a.h.OnDuplicateFlagged(ctx, bugFromModel(bug), bugFromModel(original), hybridScore)
}

func bugFromModel(b *model.Bug) Bug {
	return Bug{
		ID:              b.ID,
		Title:           b.Title,
		Description:     b.Description,
		Product:         b.Product,
		Severity:        string(b.Severity),
		Status:          string(b.Status),
		Classification:  string(b.Classification),
		DuplicateOf:     b.DuplicateOf,
		SimilarityScore: b.SimilarityScore,
		IsRecurring:     b.IsRecurring,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) detector.Embedder {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when BUGDEDUP_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p
	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	case "hashing":
		fallthrough
	default:
		logger.Info("embedding provider: hashing (deterministic, no external dependency)", "dimensions", dims)
		return embedding.NewHashingProvider(dims)
	}
}
