package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/bugdedup/internal/auth"
	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/ratelimit"
	"github.com/ashita-ai/bugdedup/internal/storage"
)

// Handlers holds HTTP handler dependencies. Unlike a multi-tenant service
// there is no per-request org scoping: every bug lives in one flat
// namespace and access is gated by role alone.
type Handlers struct {
	db        *storage.DB
	jwtMgr    *auth.JWTManager
	detector  *detector.Detector
	broker    *Broker
	logger    *slog.Logger
	version   string
	startedAt time.Time

	maxRequestBodyBytes int64
	adminAPIKeyHash     string
}

// HandlersDeps collects the dependencies NewHandlers wires together.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Detector            *detector.Detector
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	AdminAPIKeyHash     string
}

func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:                  deps.DB,
		jwtMgr:              deps.JWTMgr,
		detector:            deps.Detector,
		broker:              deps.Broker,
		logger:              deps.Logger,
		version:             deps.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
		adminAPIKeyHash:     deps.AdminAPIKeyHash,
	}
}

// HandleAuthToken handles POST /auth/token. There is no agent registry: a
// caller authenticates with the shared admin API key and is issued a
// RoleAdmin token, or a token of a lower role (e.g. RoleQA for a reviewer)
// when the request names one. The subject is the free-text name the caller supplies,
// carried into audit trails but never used to look up a database row.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Subject == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "subject and api_key are required")
		return
	}

	claims, err := verifyAdminAPIKey(req.APIKey, h.adminAPIKeyHash)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	role := claims.Role
	if req.Role != "" {
		// A caller holding the admin key may mint a lower-privilege token for
		// a QA reviewer session; it can never escalate beyond what the key grants.
		if !model.RoleAtLeast(role, req.Role) {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot issue a token above the held role")
			return
		}
		role = req.Role
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject, role)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCreateBug handles POST /api/bugs/.
func (h *Handlers) HandleCreateBug(w http.ResponseWriter, r *http.Request) {
	var s model.Submission
	if err := decodeJSON(r, &s, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	s.Submission = submissionContextFromRequest(r)

	if err := model.ValidateSubmission(s); err != nil {
		h.writeCoreErr(w, r, err)
		return
	}

	outcome, err := h.detector.Process(r.Context(), s)
	if err != nil {
		h.writeCoreErr(w, r, err)
		return
	}

	switch outcome.Kind {
	case detector.OutcomeCreated:
		writeJSON(w, r, http.StatusCreated, outcome.Bug)
	case detector.OutcomeFlaggedDuplicate:
		writeJSON(w, r, http.StatusCreated, map[string]any{
			"status":       "flagged",
			"bug":          outcome.Bug,
			"original":     outcome.Original,
			"hybrid_score": outcome.HybridScore,
		})
	case detector.OutcomeBlockedDuplicate:
		h.writeCoreErr(w, r, model.NewDuplicateError(model.DuplicateDetail{
			OriginalID:  outcome.Original.ID.String(),
			HybridScore: outcome.HybridScore,
			Reason:      "submission matches an existing bug above the blocking threshold",
		}))
	case detector.OutcomeLowQuality:
		writeErrorDetails(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"submission failed quality gating and was queued for review",
			map[string]any{
				"low_quality_id": outcome.LowQualityEntry.ID,
				"issues":         outcome.LowQualityEntry.QualityIssues,
			})
	default:
		h.writeInternalError(w, r, "unknown detector outcome", nil)
	}
}

// HandleGetBug handles GET /api/bugs/{id}.
func (h *Handlers) HandleGetBug(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	bug, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "bug not found")
		return
	}

	if queryBool(r, "include_duplicates") {
		history, err := h.db.ListHistoryForOriginal(r.Context(), id)
		if err != nil {
			h.writeInternalError(w, r, "failed to load duplicate history", err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{
			"bug":        bug,
			"duplicates": history,
		})
		return
	}

	writeJSON(w, r, http.StatusOK, bug)
}

// HandleGetBugDuplicates handles GET /api/bugs/{id}/duplicates.
func (h *Handlers) HandleGetBugDuplicates(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.db.GetBug(r.Context(), id); err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "bug not found")
		return
	}

	history, err := h.db.ListHistoryForOriginal(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to load duplicate history", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"duplicates": history,
		"total":      len(history),
	})
}

// HandleGetBugSimilar handles GET /api/bugs/{id}/similar, a read-only
// re-run of C4 against the bug's existing embedding — a "did you mean"
// preview that never mutates state, unlike the submission path.
func (h *Handlers) HandleGetBugSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	bug, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "bug not found")
		return
	}
	if bug.Embedding == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"candidates": []model.Candidate{}})
		return
	}

	submission := model.Submission{
		Title:        bug.Title,
		Description:  bug.Description,
		Product:      bug.Product,
		Device:       bug.Device,
		BuildVersion: bug.BuildVersion,
		Region:       bug.Region,
		OSVersion:    bug.OSVersion,
		Severity:     bug.Severity,
	}

	threshold := h.detector.Config.LowThreshold
	candidates, err := h.detector.Similarity.FindSimilar(r.Context(), submission, bug.EmbeddingSlice(), threshold, h.detector.Config.TopK)
	if err != nil {
		h.writeCoreErr(w, r, model.NewAIProcessingError("find similar bugs", err))
		return
	}

	filtered := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Bug.ID == id {
			continue
		}
		filtered = append(filtered, c)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"candidates": filtered})
}

// HandleSearchBugs handles GET /api/bugs/search.
func (h *Handlers) HandleSearchBugs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.SearchFilters{
		Query:    q.Get("q"),
		Product:  q.Get("product"),
		Status:   model.Status(q.Get("status")),
		Severity: model.Severity(q.Get("severity")),
		Limit:    queryInt(r, "limit", model.DefaultSearchLimit),
		Offset:   queryInt(r, "offset", 0),
	}
	filters.Normalize()

	bugs, err := h.db.SearchBugs(r.Context(), filters)
	if err != nil {
		h.writeInternalError(w, r, "search failed", err)
		return
	}

	hasMore := len(bugs) == filters.Limit
	writeList(w, r, bugs, filters.Limit, filters.Offset, hasMore)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	pgStatus := "connected"
	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "degraded"
	}

	indexStatus := "unavailable"
	if h.detector != nil && h.detector.Index != nil && h.detector.Index.Live() != nil {
		indexStatus = "ready"
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:      status,
		Version:     h.version,
		Postgres:    pgStatus,
		VectorIndex: indexStatus,
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleSubscribe handles GET /api/events, an SSE stream of bug-created and
// duplicate-found notifications fanned out from the broker. Requires at
// least RoleQA since it exposes a live feed of submission activity.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeExternalService, "event stream is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeInternalError(w, r, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	ctx := r.Context()
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func submissionContextFromRequest(r *http.Request) model.SubmissionContext {
	claims := ClaimsFromContext(r.Context())
	ctx := model.SubmissionContext{
		IP:        ratelimit.IPKeyFunc(r),
		UserAgent: r.UserAgent(),
	}
	if claims != nil {
		ctx.IsAutomated = claims.Role != model.RoleSubmitter
	}
	return ctx
}

func parseBugID(r *http.Request, param string) (uuid.UUID, error) {
	idStr := r.PathValue(param)
	if idStr == "" {
		return uuid.Nil, errMissingParam(param)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errInvalidParam(param, idStr)
	}
	return id, nil
}

func errMissingParam(name string) error {
	return model.NewValidationError("%s is required", name)
}

func errInvalidParam(name, val string) error {
	return model.NewValidationError("invalid %s: %q", name, val)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	b, _ := strconv.ParseBool(v)
	return b
}
