package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// ErrBugNotFound wraps ErrNotFound so callers can use errors.Is(err, ErrNotFound) generically.
var ErrBugNotFound = fmt.Errorf("storage: bug: %w", ErrNotFound)

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Used to give C5 the atomic boundary
// §4.5 requires across the Bug row, history/audit writes, and (via the
// caller) the vector-index insert.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// InsertBug inserts a new Bug row within tx. ID/CreatedAt/UpdatedAt are
// assigned if zero.
func InsertBug(ctx context.Context, tx pgx.Tx, b *model.Bug) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := timeNow()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO bugs (
			id, title, description, product, component, version, severity, environment,
			device, os_version, build_version, region, reporter, repro_steps,
			expected_result, actual_result, logs,
			quality_score, embedding, is_duplicate, duplicate_of, similarity_score,
			is_recurring, classification, status, content_hash, external_tracker_key,
			created_at, updated_at,
			submitter_id, api_key_id, submit_ip, user_agent, is_automated, client_version
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,
			$9,$10,$11,$12,$13,$14,
			$15,$16,$17,
			$18,$19,$20,$21,$22,
			$23,$24,$25,$26,$27,
			$28,$29,
			$30,$31,$32,$33,$34,$35
		)`,
		b.ID, b.Title, b.Description, b.Product, b.Component, b.Version, nullStr(string(b.Severity)), nullStr(string(b.Environment)),
		nullStr(b.Device), nullStr(b.OSVersion), nullStr(b.BuildVersion), nullStr(b.Region), nullStr(b.Reporter), b.ReproSteps,
		nullStr(b.ExpectedResult), nullStr(b.ActualResult), nullStr(b.Logs),
		b.QualityScore, b.Embedding, b.IsDuplicate, b.DuplicateOf, b.SimilarityScore,
		b.IsRecurring, nullStr(string(b.Classification)), string(b.Status), nullStr(b.ContentHash), b.ExternalTrackerKey,
		b.CreatedAt, b.UpdatedAt,
		b.Submission.SubmitterID, b.Submission.APIKeyID, nullStr(b.Submission.IP), nullStr(b.Submission.UserAgent), b.Submission.IsAutomated, nullStr(b.Submission.ClientVersion),
	)
	if err != nil {
		return fmt.Errorf("storage: insert bug: %w", err)
	}
	return nil
}

// UpdateBugPendingReindex marks a Bug for later re-indexing after its
// vector-index insert failed post-commit (§4.5's failure discipline).
func (db *DB) UpdateBugPendingReindex(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE bugs SET status = $2, updated_at = now() WHERE id = $1`, id, string(model.StatusPendingReindex))
	if err != nil {
		return fmt.Errorf("storage: mark bug pending reindex: %w", err)
	}
	return nil
}

// PendingReindexEntry is one bug awaiting retry into the live vector index.
type PendingReindexEntry struct {
	ID        uuid.UUID
	Embedding []float32
	Attempts  int
}

// ListPendingReindex returns up to limit bugs marked PendingReindex, oldest
// first, for the reindex worker's retry loop.
func (db *DB) ListPendingReindex(ctx context.Context, limit int) ([]PendingReindexEntry, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, embedding, reindex_attempts FROM bugs
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2`, string(model.StatusPendingReindex), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending reindex: %w", err)
	}
	defer rows.Close()

	var out []PendingReindexEntry
	for rows.Next() {
		var e PendingReindexEntry
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &vec, &e.Attempts); err != nil {
			return nil, fmt.Errorf("storage: scan pending reindex entry: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolvePendingReindex restores a bug to New status after its embedding
// was successfully re-added to the live vector index.
func (db *DB) ResolvePendingReindex(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE bugs SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, string(model.StatusNew), string(model.StatusPendingReindex))
	if err != nil {
		return fmt.Errorf("storage: resolve pending reindex: %w", err)
	}
	return nil
}

// BumpReindexAttempts increments a bug's retry counter after a failed
// re-add attempt and moves it to the back of ListPendingReindex's
// updated_at order. ListPendingReindex does not filter on the counter;
// ReindexWorker reads it only to decide when to log a dead letter.
func (db *DB) BumpReindexAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE bugs SET reindex_attempts = reindex_attempts + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: bump reindex attempts: %w", err)
	}
	return nil
}

// ApplyQAOverride updates the mutable QA-override fields of a Bug: status,
// classification, duplicate_of, similarity_score, is_recurring. Never
// deletes — all mutations here are UPDATE per §4.6.
func ApplyQAOverride(ctx context.Context, tx pgx.Tx, id uuid.UUID, status *model.Status, classification *model.Classification, duplicateOf *uuid.UUID, clearDuplicateOf bool, similarityScore *float32, isRecurring *bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE bugs SET
			status = COALESCE($2, status),
			classification = CASE WHEN $6 THEN NULL WHEN $3::text IS NOT NULL THEN $3 ELSE classification END,
			duplicate_of = CASE WHEN $6 THEN NULL WHEN $4::uuid IS NOT NULL THEN $4 ELSE duplicate_of END,
			similarity_score = CASE WHEN $6 THEN NULL ELSE COALESCE($5, similarity_score) END,
			is_recurring = COALESCE($7, is_recurring),
			updated_at = now()
		WHERE id = $1`,
		id,
		statusPtrStr(status),
		classificationPtrStr(classification),
		duplicateOf,
		similarityScore,
		clearDuplicateOf,
		isRecurring,
	)
	if err != nil {
		return fmt.Errorf("storage: apply qa override: %w", err)
	}
	return nil
}

func statusPtrStr(s *model.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func classificationPtrStr(c *model.Classification) *string {
	if c == nil {
		return nil
	}
	v := string(*c)
	return &v
}

// maxDuplicateChainDepth bounds WalkDuplicateChain against a corrupted or
// adversarial duplicate_of cycle.
const maxDuplicateChainDepth = 32

// WalkDuplicateChain follows duplicate_of pointers starting at id and
// returns the set of ids visited (including id itself), stopping at a nil
// duplicate_of, a depth of maxDuplicateChainDepth, or a repeated id. Used
// to reject a QA reclassify that would introduce a duplicate_of cycle,
// mirroring the teacher's "fetch a chain of ids, bound the walk, return a
// set" idiom.
func (db *DB) WalkDuplicateChain(ctx context.Context, id uuid.UUID) (map[uuid.UUID]bool, error) {
	seen := map[uuid.UUID]bool{id: true}
	current := id
	for depth := 0; depth < maxDuplicateChainDepth; depth++ {
		var next *uuid.UUID
		err := db.pool.QueryRow(ctx, `SELECT duplicate_of FROM bugs WHERE id = $1`, current).Scan(&next)
		if err != nil {
			if err == pgx.ErrNoRows {
				return seen, nil
			}
			return nil, fmt.Errorf("storage: walk duplicate chain: %w", err)
		}
		if next == nil {
			return seen, nil
		}
		if seen[*next] {
			return seen, nil
		}
		seen[*next] = true
		current = *next
	}
	return seen, nil
}

// GetBug loads a single Bug by id.
func (db *DB) GetBug(ctx context.Context, id uuid.UUID) (*model.Bug, error) {
	row := db.pool.QueryRow(ctx, bugSelectColumns+` FROM bugs WHERE id = $1`, id)
	b, err := scanBug(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBugNotFound
		}
		return nil, fmt.Errorf("storage: get bug: %w", err)
	}
	return b, nil
}

// LoadBugs implements similarity.BugLoader: hydrate many bugs by id for
// candidate scoring.
func (db *DB) LoadBugs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Bug, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*model.Bug{}, nil
	}
	rows, err := db.pool.Query(ctx, bugSelectColumns+` FROM bugs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: load bugs: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*model.Bug, len(ids))
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan bug: %w", err)
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

// SearchBugs implements the filters behind GET /api/bugs/search.
func (db *DB) SearchBugs(ctx context.Context, f model.SearchFilters) ([]*model.Bug, error) {
	f.Normalize()
	query := bugSelectColumns + ` FROM bugs WHERE 1=1`
	args := []any{}
	argN := 0
	add := func(clause string, val any) {
		argN++
		query += fmt.Sprintf(" AND %s $%d", clause, argN)
		args = append(args, val)
	}
	if f.Product != "" {
		add("product =", f.Product)
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	if f.Severity != "" {
		add("severity =", string(f.Severity))
	}
	if f.Query != "" {
		argN++
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", argN, argN)
		args = append(args, "%"+f.Query+"%")
	}
	query += " ORDER BY created_at DESC"
	argN++
	query += fmt.Sprintf(" LIMIT $%d", argN)
	args = append(args, f.Limit)
	argN++
	query += fmt.Sprintf(" OFFSET $%d", argN)
	args = append(args, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search bugs: %w", err)
	}
	defer rows.Close()

	var out []*model.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan bug: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// EligibleEmbeddings implements vectorindex.BugSource: every live-embedded
// bug eligible for similarity candidacy, for the background rebuild (§4.6).
func (db *DB) EligibleEmbeddings(ctx context.Context) ([]uuid.UUID, [][]float32, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, embedding FROM bugs
		WHERE embedding IS NOT NULL
		  AND (status NOT IN ('Resolved', 'Closed') OR classification = 'Recurring')`)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: eligible embeddings: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	var vectors [][]float32
	for rows.Next() {
		var id uuid.UUID
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, nil, fmt.Errorf("storage: scan eligible embedding: %w", err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec.Slice())
	}
	return ids, vectors, rows.Err()
}

const bugSelectColumns = `SELECT
	id, title, description, product, component, version, severity, environment,
	device, os_version, build_version, region, reporter, repro_steps,
	expected_result, actual_result, logs,
	quality_score, embedding, is_duplicate, duplicate_of, similarity_score,
	is_recurring, classification, status, content_hash, external_tracker_key,
	created_at, updated_at,
	submitter_id, api_key_id, submit_ip, user_agent, is_automated, client_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (*model.Bug, error) {
	var b model.Bug
	var severity, environment, device, osVersion, buildVersion, region, reporter, expectedResult, actualResult, logs, classification, contentHash, submitIP, userAgent, clientVersion *string
	var embedding *pgvector.Vector

	err := row.Scan(
		&b.ID, &b.Title, &b.Description, &b.Product, &b.Component, &b.Version, &severity, &environment,
		&device, &osVersion, &buildVersion, &region, &reporter, &b.ReproSteps,
		&expectedResult, &actualResult, &logs,
		&b.QualityScore, &embedding, &b.IsDuplicate, &b.DuplicateOf, &b.SimilarityScore,
		&b.IsRecurring, &classification, &b.Status, &contentHash, &b.ExternalTrackerKey,
		&b.CreatedAt, &b.UpdatedAt,
		&b.Submission.SubmitterID, &b.Submission.APIKeyID, &submitIP, &userAgent, &b.Submission.IsAutomated, &clientVersion,
	)
	if err != nil {
		return nil, err
	}

	b.Severity = model.Severity(derefStr(severity))
	b.Environment = model.Environment(derefStr(environment))
	b.Device = derefStr(device)
	b.OSVersion = derefStr(osVersion)
	b.BuildVersion = derefStr(buildVersion)
	b.Region = derefStr(region)
	b.Reporter = derefStr(reporter)
	b.ExpectedResult = derefStr(expectedResult)
	b.ActualResult = derefStr(actualResult)
	b.Logs = derefStr(logs)
	b.Classification = model.Classification(derefStr(classification))
	b.ContentHash = derefStr(contentHash)
	b.Submission.IP = derefStr(submitIP)
	b.Submission.UserAgent = derefStr(userAgent)
	b.Submission.ClientVersion = derefStr(clientVersion)
	b.Embedding = embedding
	return &b, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timeNow() time.Time { return time.Now().UTC() }
