package model

import (
	"time"

	"github.com/google/uuid"
)

// QualityIssueCode enumerates the reasons a submission can fail quality
// gating (§4.3). Multiple codes may apply to one submission.
type QualityIssueCode string

const (
	IssueMissingTitle         QualityIssueCode = "missing_title"
	IssueTitleTooShort        QualityIssueCode = "title_too_short"
	IssueGenericTitle         QualityIssueCode = "generic_title"
	IssueMissingDescription   QualityIssueCode = "missing_description"
	IssueDescriptionTooShort  QualityIssueCode = "description_too_short"
	IssueLowQualityDescription QualityIssueCode = "low_quality_description"
	IssueMissingReproSteps    QualityIssueCode = "missing_repro_steps"
	IssueReproStepsTooShort   QualityIssueCode = "repro_steps_too_short"
	IssueMissingLogs          QualityIssueCode = "missing_logs"
	IssueMissingDeviceInfo    QualityIssueCode = "missing_device_info"
	IssueMissingBuildVersion  QualityIssueCode = "missing_build_version"
	IssueMissingRegion        QualityIssueCode = "missing_region"
)

// IssueSeverityClass classifies issue codes for routing/reporting.
type IssueSeverityClass string

const (
	IssueClassCritical IssueSeverityClass = "critical"
	IssueClassMajor    IssueSeverityClass = "major"
	IssueClassMinor    IssueSeverityClass = "minor"
)

var criticalIssues = map[QualityIssueCode]bool{
	IssueMissingTitle:       true,
	IssueMissingDescription: true,
}

var majorIssues = map[QualityIssueCode]bool{
	IssueDescriptionTooShort:   true,
	IssueLowQualityDescription: true,
	IssueMissingReproSteps:     true,
	IssueMissingDeviceInfo:     true,
	IssueMissingBuildVersion:   true,
}

// ClassifyIssue buckets a QualityIssueCode into critical/major/minor, per
// §4.3's routing categorization.
func ClassifyIssue(code QualityIssueCode) IssueSeverityClass {
	if criticalIssues[code] {
		return IssueClassCritical
	}
	if majorIssues[code] {
		return IssueClassMajor
	}
	return IssueClassMinor
}

// LowQualityStatus is the review state of a LowQualityQueue row.
type LowQualityStatus string

const (
	LowQualityPending  LowQualityStatus = "Pending"
	LowQualityApproved LowQualityStatus = "Approved"
	LowQualityRejected LowQualityStatus = "Rejected"
)

// LowQualityQueue holds a submission that failed quality gating, pending
// manual QA review. Approval promotes it into a Bug via the detector.
type LowQualityQueue struct {
	ID uuid.UUID `json:"id"`

	RawSubmission Submission         `json:"raw_submission"`
	QualityIssues []QualityIssueCode `json:"quality_issues"`
	QualityScore  float32            `json:"quality_score"`

	Status LowQualityStatus `json:"status"`

	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote string     `json:"review_note,omitempty"`

	CreatedBugID *uuid.UUID `json:"created_bug_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
