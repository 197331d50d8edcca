package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates append-only audit event kinds (§3).
type AuditEventType string

const (
	AuditBugCreated            AuditEventType = "bug_created"
	AuditDuplicateDetected     AuditEventType = "duplicate_detected"
	AuditDuplicateBlocked      AuditEventType = "duplicate_blocked"
	AuditLowQualityFlagged     AuditEventType = "low_quality_flagged"
	AuditQAOverride            AuditEventType = "qa_override"
	AuditBugPromoted           AuditEventType = "bug_promoted"
	AuditClassificationChanged AuditEventType = "classification_changed"
)

// AuditLog is an append-only record of a state-changing event. Rows are
// never updated or deleted.
type AuditLog struct {
	ID uuid.UUID `json:"id"`

	EventType AuditEventType `json:"event_type"`

	BugID    *uuid.UUID `json:"bug_id,omitempty"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Actor    string     `json:"actor"`

	AIConfidence *float32 `json:"ai_confidence,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`

	PreviousState map[string]any `json:"previous_state,omitempty"`
	NewState      map[string]any `json:"new_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
