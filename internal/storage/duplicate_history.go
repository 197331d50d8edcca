package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// InsertDuplicateHistory writes an immutable DuplicateHistory row within tx.
func InsertDuplicateHistory(ctx context.Context, tx pgx.Tx, h *model.DuplicateHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = timeNow()
	}

	var snapshot []byte
	if h.SubmissionSnapshot != nil {
		var err error
		snapshot, err = json.Marshal(h.SubmissionSnapshot)
		if err != nil {
			return fmt.Errorf("storage: marshal submission snapshot: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO duplicate_history
			(id, original, candidate, hybrid_score, vector_score, metadata_score, cross_region, was_blocked, submission_snapshot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		h.ID, h.Original, h.Candidate, h.HybridScore, h.VectorScore, h.MetadataScore, h.CrossRegion, h.WasBlocked, snapshot, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert duplicate history: %w", err)
	}
	return nil
}

// ListHistoryForOriginal returns every DuplicateHistory row recorded
// against a bug, newest first, for GET /api/bugs/{id}/duplicates.
func (db *DB) ListHistoryForOriginal(ctx context.Context, original uuid.UUID) ([]*model.DuplicateHistory, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, original, candidate, hybrid_score, vector_score, metadata_score, cross_region, was_blocked, submission_snapshot, created_at
		FROM duplicate_history WHERE original = $1 ORDER BY created_at DESC`, original)
	if err != nil {
		return nil, fmt.Errorf("storage: list duplicate history: %w", err)
	}
	defer rows.Close()

	var out []*model.DuplicateHistory
	for rows.Next() {
		var h model.DuplicateHistory
		var snapshot []byte
		if err := rows.Scan(&h.ID, &h.Original, &h.Candidate, &h.HybridScore, &h.VectorScore, &h.MetadataScore, &h.CrossRegion, &h.WasBlocked, &snapshot, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan duplicate history: %w", err)
		}
		if len(snapshot) > 0 {
			var s model.Submission
			if err := json.Unmarshal(snapshot, &s); err != nil {
				return nil, fmt.Errorf("storage: unmarshal submission snapshot: %w", err)
			}
			h.SubmissionSnapshot = &s
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// CountLiveDuplicatesOf counts live Bugs with duplicate_of = parent plus
// blocked DuplicateHistory rows referencing parent, per §4.7's C7 trigger.
// It runs inside tx so a duplicate/blocked row inserted earlier in the same
// transaction — always true when called from the detector — is counted
// immediately instead of waiting for a fresh connection to see it committed.
func (db *DB) CountLiveDuplicatesOf(ctx context.Context, tx pgx.Tx, parent uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM bugs WHERE duplicate_of = $1) +
			(SELECT count(*) FROM duplicate_history WHERE original = $1 AND was_blocked)
	`, parent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count live duplicates: %w", err)
	}
	return count, nil
}
