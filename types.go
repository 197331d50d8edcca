package bugdedup

import (
	"time"

	"github.com/google/uuid"
)

// Role is a caller's RBAC role. There is no per-tenant org model: every bug
// lives in one flat namespace and access is gated by role alone.
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleQA        Role = "qa"
	RoleAdmin     Role = "admin"
)

// Bug is the public representation of a filed bug report. It is a curated
// view of internal/model.Bug for use in extension interfaces — no internal
// package imports, safe to use from outside the module.
type Bug struct {
	ID             uuid.UUID
	Title          string
	Description    string
	Product        string
	Severity       string
	Status         string
	Classification string
	DuplicateOf    *uuid.UUID
	SimilarityScore *float32
	IsRecurring    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Candidate is a scored duplicate candidate returned from a similarity search.
type Candidate struct {
	Bug           Bug
	VectorScore   float32
	MetadataScore float32
	HybridScore   float32
	IsCrossRegion bool
}
