// Package detector implements C5, the duplicate-detection orchestrator:
// quality gate, embedding, similarity search, tiered decision, and atomic
// persistence, in the strict sequential order §5 requires.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/quality"
	"github.com/ashita-ai/bugdedup/internal/recurrence"
	"github.com/ashita-ai/bugdedup/internal/similarity"
	"github.com/ashita-ai/bugdedup/internal/storage"
	"github.com/ashita-ai/bugdedup/internal/vectorindex"
)

// OutcomeKind enumerates §4.5's four outcomes.
type OutcomeKind string

const (
	OutcomeCreated          OutcomeKind = "Created"
	OutcomeFlaggedDuplicate OutcomeKind = "FlaggedDuplicate"
	OutcomeBlockedDuplicate OutcomeKind = "BlockedDuplicate"
	OutcomeLowQuality       OutcomeKind = "LowQuality"
)

// Outcome is the result of Process.
type Outcome struct {
	Kind OutcomeKind

	Bug             *model.Bug
	LowQualityEntry *model.LowQualityQueue

	// Populated for FlaggedDuplicate/BlockedDuplicate.
	Original    *model.Bug
	HybridScore float32
}

// Embedder is C1 as seen by the detector.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Hook receives bug lifecycle notifications. Implementations back the
// public bugdedup.EventHook extension point; methods run in a detached
// goroutine after the originating transaction commits and must not block
// indefinitely — a slow or hung hook only delays its own notification, never
// the HTTP response.
type Hook interface {
	OnBugCreated(ctx context.Context, bug *model.Bug) error
	OnDuplicateFlagged(ctx context.Context, bug, original *model.Bug, hybridScore float32) error
}

// Config holds the tiered decision thresholds and supporting tunables, per
// §4.5's defaults.
type Config struct {
	HighThreshold       float32
	LowThreshold        float32
	TopK                int
	RecurrenceThreshold int
	Quality             quality.Config

	// MaxTxRetries/TxRetryBaseDelay bound storage.WithRetry's backoff for the
	// serialization/deadlock conflicts concurrent submissions against the
	// same parent can cause.
	MaxTxRetries     int
	TxRetryBaseDelay time.Duration
}

// DefaultConfig matches §4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		HighThreshold:       0.85,
		LowThreshold:        0.70,
		TopK:                10,
		RecurrenceThreshold: recurrence.DefaultThreshold,
		Quality:             quality.DefaultConfig(),
		MaxTxRetries:        3,
		TxRetryBaseDelay:    20 * time.Millisecond,
	}
}

// Detector is C5.
type Detector struct {
	DB         *storage.DB
	Embedder   Embedder
	Similarity *similarity.Engine
	Index      *vectorindex.RebuildWorker
	Recurrence *recurrence.Tracker
	Logger     *slog.Logger
	Config     Config
	Hooks      []Hook
}

// fireHooks runs every registered hook in its own goroutine, independent of
// the request that triggered it. Hook errors are logged, never surfaced.
func (d *Detector) fireHooks(fn func(Hook) error) {
	for _, h := range d.Hooks {
		h := h
		go func() {
			if err := fn(h); err != nil {
				d.Logger.Warn("event hook failed", "error", err)
			}
		}()
	}
}

// Process runs the full pipeline for one submission: quality → embed →
// search → decide → write, strictly sequential within this call, per §5.
func (d *Detector) Process(ctx context.Context, s model.Submission) (Outcome, error) {
	qr := quality.Check(s, d.Config.Quality)
	if !qr.IsValid {
		return d.handleLowQuality(ctx, s, qr)
	}
	return d.processPastQualityGate(ctx, s)
}

// ProcessApproved runs the pipeline for a submission that failed automated
// quality gating but was subsequently approved by a QA reviewer out of the
// low-quality queue — it skips straight to embed → search → decide → write,
// since a human already vouched for the content a second gate failure would
// only route it right back to the queue it just left.
func (d *Detector) ProcessApproved(ctx context.Context, s model.Submission) (Outcome, error) {
	return d.processPastQualityGate(ctx, s)
}

func (d *Detector) processPastQualityGate(ctx context.Context, s model.Submission) (Outcome, error) {
	text := s.BuildText()
	embedCtx, cancelEmbed := context.WithTimeout(ctx, 200*time.Millisecond)
	vec, err := d.Embedder.Embed(embedCtx, text)
	cancelEmbed()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, model.NewTimeoutError("embed submission", err)
		}
		return Outcome{}, model.NewAIProcessingError("embed submission", err)
	}
	embeddingSlice := vec.Slice()

	searchCtx, cancelSearch := context.WithTimeout(ctx, 100*time.Millisecond)
	candidates, err := d.Similarity.FindSimilar(searchCtx, s, embeddingSlice, d.Config.LowThreshold, d.Config.TopK)
	cancelSearch()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, model.NewTimeoutError("find similar bugs", err)
		}
		return Outcome{}, model.NewAIProcessingError("find similar bugs", err)
	}

	if len(candidates) == 0 {
		return d.handleCreated(ctx, s, vec)
	}

	best := candidates[0]
	if best.HybridScore >= d.Config.HighThreshold {
		return d.handleBlocked(ctx, s, best)
	}
	return d.handleFlagged(ctx, s, vec, best)
}

func (d *Detector) handleLowQuality(ctx context.Context, s model.Submission, qr quality.Result) (Outcome, error) {
	entry := &model.LowQualityQueue{
		RawSubmission: s,
		QualityIssues: qr.Issues,
		QualityScore:  qr.Score,
		Status:        model.LowQualityPending,
	}

	err := d.withRetry(ctx, func() error {
		return d.DB.WithTx(ctx, func(tx pgx.Tx) error {
			if err := storage.InsertLowQuality(ctx, tx, entry); err != nil {
				return err
			}
			audit := &model.AuditLog{
				EventType: model.AuditLowQualityFlagged,
				Actor:     actorFromSubmission(s),
				NewState:  map[string]any{"quality_score": qr.Score, "issues": qr.Issues},
			}
			return storage.InsertAudit(ctx, tx, audit)
		})
	})
	if err != nil {
		return Outcome{}, model.NewDatabaseError("insert low quality queue row", err)
	}

	return Outcome{Kind: OutcomeLowQuality, LowQualityEntry: entry}, nil
}

func (d *Detector) handleCreated(ctx context.Context, s model.Submission, vec pgvector.Vector) (Outcome, error) {
	bug := bugFromSubmission(s)
	bug.Status = model.StatusNew
	bug.Embedding = &vec

	err := d.withRetry(ctx, func() error {
		return d.DB.WithTx(ctx, func(tx pgx.Tx) error {
			if err := storage.InsertBug(ctx, tx, bug); err != nil {
				return err
			}
			audit := &model.AuditLog{
				EventType: model.AuditBugCreated,
				BugID:     &bug.ID,
				Actor:     actorFromSubmission(s),
			}
			return storage.InsertAudit(ctx, tx, audit)
		})
	})
	if err != nil {
		return Outcome{}, model.NewDatabaseError("insert bug", err)
	}

	d.spawnIndexOrCompensate(bug.ID, vec.Slice())
	d.fireHooks(func(h Hook) error { return h.OnBugCreated(context.Background(), bug) })
	return Outcome{Kind: OutcomeCreated, Bug: bug}, nil
}

func (d *Detector) handleFlagged(ctx context.Context, s model.Submission, vec pgvector.Vector, best model.Candidate) (Outcome, error) {
	bug := bugFromSubmission(s)
	bug.Status = model.StatusNew
	bug.Embedding = &vec
	bug.IsDuplicate = true
	bug.DuplicateOf = &best.Bug.ID
	bug.Classification = model.ClassificationDuplicate
	score := best.HybridScore
	bug.SimilarityScore = &score

	var becameRecurring bool
	err := d.withRetry(ctx, func() error {
		return d.DB.WithTx(ctx, func(tx pgx.Tx) error {
			if err := storage.InsertBug(ctx, tx, bug); err != nil {
				return err
			}

			history := &model.DuplicateHistory{
				Original:      best.Bug.ID,
				Candidate:     &bug.ID,
				HybridScore:   best.HybridScore,
				VectorScore:   best.VectorScore,
				MetadataScore: best.MetadataScore,
				CrossRegion:   best.IsCrossRegion,
				WasBlocked:    false,
			}
			if err := storage.InsertDuplicateHistory(ctx, tx, history); err != nil {
				return err
			}

			audit := &model.AuditLog{
				EventType:    model.AuditDuplicateDetected,
				BugID:        &bug.ID,
				ParentID:     &best.Bug.ID,
				Actor:        actorFromSubmission(s),
				AIConfidence: &score,
			}
			if err := storage.InsertAudit(ctx, tx, audit); err != nil {
				return err
			}

			var err error
			becameRecurring, err = d.Recurrence.Update(ctx, tx, best.Bug.ID)
			if err != nil {
				return err
			}
			if becameRecurring {
				if err := recurrence.MarkRecurring(ctx, tx, bug.ID); err != nil {
					return err
				}
				bug.IsRecurring = true
				bug.Classification = model.ClassificationRecurring
				auditClassify := &model.AuditLog{
					EventType: model.AuditClassificationChanged,
					BugID:     &best.Bug.ID,
					ParentID:  &best.Bug.ID,
					Actor:     "system:recurrence-tracker",
				}
				if err := storage.InsertAudit(ctx, tx, auditClassify); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return Outcome{}, model.NewDatabaseError("insert flagged duplicate", err)
	}

	d.spawnIndexOrCompensate(bug.ID, vec.Slice())
	original := best.Bug
	d.fireHooks(func(h Hook) error { return h.OnDuplicateFlagged(context.Background(), bug, &original, best.HybridScore) })
	return Outcome{Kind: OutcomeFlaggedDuplicate, Bug: bug, Original: &original, HybridScore: best.HybridScore}, nil
}

func (d *Detector) handleBlocked(ctx context.Context, s model.Submission, best model.Candidate) (Outcome, error) {
	var becameRecurring bool
	err := d.withRetry(ctx, func() error {
		return d.DB.WithTx(ctx, func(tx pgx.Tx) error {
			snapshot := s
			history := &model.DuplicateHistory{
				Original:           best.Bug.ID,
				Candidate:          nil,
				HybridScore:        best.HybridScore,
				VectorScore:        best.VectorScore,
				MetadataScore:      best.MetadataScore,
				CrossRegion:        best.IsCrossRegion,
				WasBlocked:         true,
				SubmissionSnapshot: &snapshot,
			}
			if err := storage.InsertDuplicateHistory(ctx, tx, history); err != nil {
				return err
			}

			score := best.HybridScore
			audit := &model.AuditLog{
				EventType:    model.AuditDuplicateBlocked,
				ParentID:     &best.Bug.ID,
				Actor:        actorFromSubmission(s),
				AIConfidence: &score,
			}
			if err := storage.InsertAudit(ctx, tx, audit); err != nil {
				return err
			}

			var err error
			becameRecurring, err = d.Recurrence.Update(ctx, tx, best.Bug.ID)
			if err != nil {
				return err
			}
			if becameRecurring {
				auditClassify := &model.AuditLog{
					EventType: model.AuditClassificationChanged,
					BugID:     &best.Bug.ID,
					ParentID:  &best.Bug.ID,
					Actor:     "system:recurrence-tracker",
				}
				if err := storage.InsertAudit(ctx, tx, auditClassify); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return Outcome{}, model.NewDatabaseError("insert blocked duplicate history", err)
	}

	return Outcome{Kind: OutcomeBlockedDuplicate, Original: &best.Bug, HybridScore: best.HybridScore}, nil
}

// withRetry wraps a transaction attempt with storage.WithRetry so that
// serialization failures between two submissions racing to update the same
// parent's recurrence count are retried rather than surfaced to the caller.
func (d *Detector) withRetry(ctx context.Context, fn func() error) error {
	return storage.WithRetry(ctx, d.Config.MaxTxRetries, d.TxRetryBaseDelay(), fn)
}

// TxRetryBaseDelay exposes the configured retry base delay, defaulting to a
// sane floor if the zero value slipped through construction outside
// DefaultConfig.
func (d *Detector) TxRetryBaseDelay() time.Duration {
	if d.Config.TxRetryBaseDelay <= 0 {
		return 20 * time.Millisecond
	}
	return d.Config.TxRetryBaseDelay
}

// spawnIndexOrCompensate fires the vector-index insert in a panic-recovering
// background goroutine: the bug row already committed, so a slow or failing
// index write must never hold up the HTTP response, and a panic here must
// never take down the request goroutine.
func (d *Detector) spawnIndexOrCompensate(bugID uuid.UUID, embedding []float32) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.Logger.Error("detector: panic in background index goroutine", "bug_id", bugID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.indexOrCompensate(ctx, bugID, embedding)
	}()
}

// indexOrCompensate inserts a just-committed bug's embedding into the live
// vector index. If the insert fails, the row is marked PendingReindex so a
// later rebuild or the reindex worker can reconcile it, per §4.5's failure
// discipline: the DB write already committed, so we compensate rather than
// attempt a cross-system rollback.
func (d *Detector) indexOrCompensate(ctx context.Context, bugID uuid.UUID, embedding []float32) {
	if err := d.Index.Live().Add([][]float32{embedding}, []uuid.UUID{bugID}); err != nil {
		d.Logger.Error("detector: vector index insert failed, marking bug for reindex", "bug_id", bugID, "error", err)
		if compErr := d.DB.UpdateBugPendingReindex(ctx, bugID); compErr != nil {
			d.Logger.Error("detector: failed to mark bug pending reindex", "bug_id", bugID, "error", compErr)
		}
	}
}

func bugFromSubmission(s model.Submission) *model.Bug {
	now := time.Now().UTC()
	return &model.Bug{
		Title:              s.Title,
		Description:        s.Description,
		Product:            s.Product,
		Component:          s.Component,
		Version:            s.Version,
		Severity:           s.Severity,
		Environment:        s.Environment,
		Device:             s.Device,
		OSVersion:          s.OSVersion,
		BuildVersion:       s.BuildVersion,
		Region:             s.Region,
		Reporter:           s.Reporter,
		ReproSteps:         s.ReproSteps,
		ExpectedResult:     s.ExpectedResult,
		ActualResult:       s.ActualResult,
		Logs:               s.Logs,
		ExternalTrackerKey: s.ExternalTrackerKey,
		CreatedAt:          now,
		UpdatedAt:          now,
		Submission:         s.Submission,
	}
}

func actorFromSubmission(s model.Submission) string {
	if s.Submission.SubmitterID != nil {
		return s.Submission.SubmitterID.String()
	}
	if s.Submission.IsAutomated {
		return "automation"
	}
	return "unknown"
}
