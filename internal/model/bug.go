package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Severity is the reported impact level of a Bug.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityTrivial  Severity = "trivial"
)

// Environment is where a Bug was observed.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentQA          Environment = "qa"
)

// Status is the Bug lifecycle state.
type Status string

const (
	StatusNew            Status = "New"
	StatusPendingReview  Status = "PendingReview"
	StatusApproved       Status = "Approved"
	StatusRejected       Status = "Rejected"
	StatusDuplicate      Status = "Duplicate"
	StatusResolved       Status = "Resolved"
	StatusClosed         Status = "Closed"
	// StatusPendingReindex marks a Bug whose row committed but whose
	// vector-index insert failed; a background job re-applies it.
	StatusPendingReindex Status = "PendingReindex"
)

// Classification further annotates a non-rejected Bug's relationship to
// other bugs. The zero value (empty string) means "ordinary, unclassified".
type Classification string

const (
	ClassificationDuplicate Classification = "Duplicate"
	ClassificationRecurring Classification = "Recurring"
)

// excludedFromSimilarity reports whether bugs in this status are dropped
// from similarity candidates, unless the bug is independently Recurring.
func (s Status) excludedFromSimilarity() bool {
	return s == StatusResolved || s == StatusClosed
}

// EligibleAsCandidate reports whether a Bug in this status/classification
// combination may be returned as a similarity candidate, per §3.
func EligibleAsCandidate(status Status, classification Classification) bool {
	if status.excludedFromSimilarity() {
		return classification == ClassificationRecurring
	}
	return true
}

// ReproStep is one ordered step in a reproduction sequence.
type ReproStep = string

// SubmissionContext records who/what submitted a Bug, independent of its
// content — used for audit and abuse tracking, never for similarity.
type SubmissionContext struct {
	SubmitterID  *uuid.UUID `json:"submitter_id,omitempty"`
	APIKeyID     *uuid.UUID `json:"api_key_id,omitempty"`
	IP           string     `json:"ip,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	IsAutomated  bool       `json:"is_automated"`
	ClientVersion string    `json:"client_version,omitempty"`
}

// Bug is the primary entity: a deduplicated bug report.
type Bug struct {
	ID uuid.UUID `json:"id"`

	// Required attributes.
	Title       string `json:"title"`
	Description string `json:"description"`
	Product     string `json:"product"`

	// Optional attributes.
	Component      string       `json:"component,omitempty"`
	Version        string       `json:"version,omitempty"`
	Severity       Severity     `json:"severity,omitempty"`
	Environment    Environment  `json:"environment,omitempty"`
	Device         string       `json:"device,omitempty"`
	OSVersion      string       `json:"os_version,omitempty"`
	BuildVersion   string       `json:"build_version,omitempty"`
	Region         string       `json:"region,omitempty"`
	Reporter       string       `json:"reporter,omitempty"`
	ReproSteps     []ReproStep  `json:"repro_steps,omitempty"`
	ExpectedResult string       `json:"expected_result,omitempty"`
	ActualResult   string       `json:"actual_result,omitempty"`
	Logs           string       `json:"logs,omitempty"`

	// Derived attributes.
	QualityScore    float32          `json:"quality_score"`
	Embedding       *pgvector.Vector `json:"-"`
	IsDuplicate     bool             `json:"is_duplicate"`
	DuplicateOf     *uuid.UUID       `json:"duplicate_of,omitempty"`
	SimilarityScore *float32         `json:"similarity_score,omitempty"`
	IsRecurring     bool             `json:"is_recurring"`
	Classification  Classification   `json:"classification,omitempty"`
	Status          Status           `json:"status"`

	// ContentHash is stored in and loaded from the content_hash column.
	// Nothing in this module computes it or compares it before embedding.
	ContentHash string `json:"content_hash,omitempty"`

	// ExternalTrackerKey is the optional unique key used to dedupe against
	// an upstream issue tracker (Jira/TP) via a partial unique index.
	ExternalTrackerKey *string `json:"external_tracker_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Submission SubmissionContext `json:"submission"`
}

// EmbeddingSlice returns the bug's embedding as a plain []float32, or nil
// if it has none (e.g. Rejected bugs never get one, per §3).
func (b *Bug) EmbeddingSlice() []float32 {
	if b.Embedding == nil {
		return nil
	}
	return b.Embedding.Slice()
}
