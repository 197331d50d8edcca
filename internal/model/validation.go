package model

const (
	MinTitleLen       = 10
	MaxTitleLen       = 200
	MinDescriptionLen = 20
)

var validSeverities = map[Severity]bool{
	SeverityCritical: true,
	SeverityMajor:    true,
	SeverityMinor:    true,
	SeverityTrivial:  true,
}

var validEnvironments = map[Environment]bool{
	EnvironmentProduction:  true,
	EnvironmentStaging:     true,
	EnvironmentDevelopment: true,
	EnvironmentQA:          true,
}

// ValidateSubmission checks structural constraints that must hold before a
// Submission is even handed to the quality checker (C3): required fields,
// length bounds, and enum membership. This is distinct from C3's quality
// scoring — a structurally invalid submission is rejected at the boundary
// with a 400, never routed to the low-quality queue.
func ValidateSubmission(s Submission) error {
	if l := len(s.Title); l < MinTitleLen || l > MaxTitleLen {
		return NewValidationError("title must be between %d and %d characters, got %d", MinTitleLen, MaxTitleLen, l)
	}
	if l := len(s.Description); l < MinDescriptionLen {
		return NewValidationError("description must be at least %d characters, got %d", MinDescriptionLen, l)
	}
	if s.Product == "" {
		return NewValidationError("product is required")
	}
	if s.Severity != "" && !validSeverities[s.Severity] {
		return NewValidationError("invalid severity %q", s.Severity)
	}
	if s.Environment != "" && !validEnvironments[s.Environment] {
		return NewValidationError("invalid environment %q", s.Environment)
	}
	return nil
}

// ValidateReclassifyTarget enforces that a QA reclassify request does not
// set a bug as its own parent (§6 400 self-parent edge case).
func ValidateReclassifyTarget(bugID, parentID [16]byte) error {
	if bugID == parentID {
		return NewValidationError("a bug cannot be reclassified as a duplicate of itself")
	}
	return nil
}
