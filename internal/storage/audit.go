package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// InsertAudit writes an append-only AuditLog row within tx. Rows in this
// table are never updated or deleted, per §4.6.
func InsertAudit(ctx context.Context, tx pgx.Tx, a *model.AuditLog) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = timeNow()
	}

	prevState, err := marshalState(a.PreviousState)
	if err != nil {
		return err
	}
	newState, err := marshalState(a.NewState)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log
			(id, event_type, bug_id, parent_id, actor, ai_confidence, reasoning, previous_state, new_state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, string(a.EventType), a.BugID, a.ParentID, a.Actor, a.AIConfidence, nullStr(a.Reasoning), prevState, newState, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit log: %w", err)
	}
	return nil
}

func marshalState(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal audit state: %w", err)
	}
	return b, nil
}

// ListAuditForBug returns audit events referencing bugID, most recent first.
func (db *DB) ListAuditForBug(ctx context.Context, bugID uuid.UUID, limit int) ([]*model.AuditLog, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, event_type, bug_id, parent_id, actor, ai_confidence, reasoning, previous_state, new_state, created_at
		FROM audit_log WHERE bug_id = $1 OR parent_id = $1
		ORDER BY created_at DESC LIMIT $2`, bugID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit for bug: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditLog
	for rows.Next() {
		var a model.AuditLog
		var eventType string
		var prevState, newState []byte
		if err := rows.Scan(&a.ID, &eventType, &a.BugID, &a.ParentID, &a.Actor, &a.AIConfidence, &a.Reasoning, &prevState, &newState, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit log: %w", err)
		}
		a.EventType = model.AuditEventType(eventType)
		if prevState != nil {
			_ = json.Unmarshal(prevState, &a.PreviousState)
		}
		if newState != nil {
			_ = json.Unmarshal(newState, &a.NewState)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
