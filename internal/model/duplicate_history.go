package model

import (
	"time"

	"github.com/google/uuid"
)

// DuplicateHistory records a single similarity decision: either a duplicate
// that was created (was_blocked = false) or one that was blocked outright
// (was_blocked = true, no Bug row inserted for the candidate).
type DuplicateHistory struct {
	ID uuid.UUID `json:"id"`

	// Original is the bug the incoming submission was matched against.
	Original uuid.UUID `json:"original"`

	// Candidate is the Bug created for this submission, if one was created
	// (FlaggedDuplicate). Nil when WasBlocked is true.
	Candidate *uuid.UUID `json:"candidate,omitempty"`

	HybridScore    float32 `json:"hybrid_score"`
	VectorScore    float32 `json:"vector_score"`
	MetadataScore  float32 `json:"metadata_score"`
	CrossRegion    bool    `json:"cross_region"`
	WasBlocked     bool    `json:"was_blocked"`

	// SubmissionSnapshot retains the full submission when WasBlocked is
	// true, since no Bug row exists to hold it (§4.5 BlockedDuplicate).
	SubmissionSnapshot *Submission `json:"submission_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
