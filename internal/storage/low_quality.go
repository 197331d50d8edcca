package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// ErrLowQualityNotFound wraps ErrNotFound for LowQualityQueue lookups.
var ErrLowQualityNotFound = fmt.Errorf("storage: low quality queue entry: %w", ErrNotFound)

// InsertLowQuality writes a Pending LowQualityQueue row within tx.
func InsertLowQuality(ctx context.Context, tx pgx.Tx, q *model.LowQualityQueue) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	now := timeNow()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	rawSubmission, err := json.Marshal(q.RawSubmission)
	if err != nil {
		return fmt.Errorf("storage: marshal raw submission: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO low_quality_queue
			(id, raw_submission, quality_issues, quality_score, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		q.ID, rawSubmission, issuesToStrings(q.QualityIssues), q.QualityScore, string(q.Status), q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert low quality queue row: %w", err)
	}
	return nil
}

// GetLowQuality loads a single LowQualityQueue row by id.
func (db *DB) GetLowQuality(ctx context.Context, id uuid.UUID) (*model.LowQualityQueue, error) {
	var q model.LowQualityQueue
	var rawSubmission []byte
	var issues []string

	err := db.pool.QueryRow(ctx, `
		SELECT id, raw_submission, quality_issues, quality_score, status, reviewed_by, reviewed_at, review_note, created_bug_id, created_at, updated_at
		FROM low_quality_queue WHERE id = $1`, id,
	).Scan(&q.ID, &rawSubmission, &issues, &q.QualityScore, &q.Status, &q.ReviewedBy, &q.ReviewedAt, &q.ReviewNote, &q.CreatedBugID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLowQualityNotFound
		}
		return nil, fmt.Errorf("storage: get low quality queue row: %w", err)
	}
	if err := json.Unmarshal(rawSubmission, &q.RawSubmission); err != nil {
		return nil, fmt.Errorf("storage: unmarshal raw submission: %w", err)
	}
	q.QualityIssues = stringsToIssues(issues)
	return &q, nil
}

// ListLowQuality returns LowQualityQueue rows, optionally filtered by
// status, newest first, for GET /api/qa/low-quality.
func (db *DB) ListLowQuality(ctx context.Context, status model.LowQualityStatus, limit, offset int) ([]*model.LowQualityQueue, error) {
	query := `SELECT id, raw_submission, quality_issues, quality_score, status, reviewed_by, reviewed_at, review_note, created_bug_id, created_at, updated_at
		FROM low_quality_queue WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := db.pool.Query(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list low quality queue: %w", err)
	}
	defer rows.Close()

	var out []*model.LowQualityQueue
	for rows.Next() {
		var q model.LowQualityQueue
		var rawSubmission []byte
		var issues []string
		if err := rows.Scan(&q.ID, &rawSubmission, &issues, &q.QualityScore, &q.Status, &q.ReviewedBy, &q.ReviewedAt, &q.ReviewNote, &q.CreatedBugID, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan low quality queue row: %w", err)
		}
		if err := json.Unmarshal(rawSubmission, &q.RawSubmission); err != nil {
			return nil, fmt.Errorf("storage: unmarshal raw submission: %w", err)
		}
		q.QualityIssues = stringsToIssues(issues)
		out = append(out, &q)
	}
	return out, rows.Err()
}

// ReviewLowQuality transitions a Pending row to Approved or Rejected,
// optionally linking the newly created Bug id on approval. Runs within tx so
// the caller can pair it with an audit_log insert atomically.
func ReviewLowQuality(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.LowQualityStatus, reviewedBy, note string, createdBugID *uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE low_quality_queue SET
			status = $2, reviewed_by = $3, reviewed_at = now(), review_note = $4, created_bug_id = $5, updated_at = now()
		WHERE id = $1`,
		id, string(status), reviewedBy, note, createdBugID,
	)
	if err != nil {
		return fmt.Errorf("storage: review low quality queue row: %w", err)
	}
	return nil
}

func issuesToStrings(issues []model.QualityIssueCode) []string {
	out := make([]string, len(issues))
	for i, c := range issues {
		out[i] = string(c)
	}
	return out
}

func stringsToIssues(ss []string) []model.QualityIssueCode {
	out := make([]model.QualityIssueCode, len(ss))
	for i, s := range ss {
		out[i] = model.QualityIssueCode(s)
	}
	return out
}
