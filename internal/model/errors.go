package model

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError for HTTP status mapping and retry policy.
type Kind string

const (
	KindValidation      Kind = "validation"       // 400
	KindAuthentication  Kind = "authentication"    // 401
	KindAuthorization   Kind = "authorization"      // 403
	KindNotFound        Kind = "not_found"          // 404
	KindDuplicate       Kind = "duplicate_resource" // 409
	KindRateLimit       Kind = "rate_limit"         // 429
	KindExternalService Kind = "external_service"   // 502
	KindTimeout         Kind = "timeout"            // 503
	KindAIProcessing    Kind = "ai_processing"       // 500
	KindDatabase        Kind = "database"            // 500
)

// CoreError is the typed error returned across component boundaries (C1-C7).
// The HTTP layer maps Kind to a status code; it never inspects error strings.
type CoreError struct {
	Kind    Kind
	Message string
	// Details carries structured context for 409 DuplicateResourceError:
	// the blocking bug id and hybrid score (see DuplicateDetail).
	Details any
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// DuplicateDetail is the Details payload of a KindDuplicate CoreError,
// carrying the blocking bug's id and the hybrid score that triggered the block.
type DuplicateDetail struct {
	OriginalID    string  `json:"original_id"`
	HybridScore   float32 `json:"hybrid_score"`
	Reason        string  `json:"reason"`
}

// NewValidationError builds a KindValidation CoreError.
func NewValidationError(format string, args ...any) *CoreError {
	return &CoreError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError builds a KindNotFound CoreError.
func NewNotFoundError(format string, args ...any) *CoreError {
	return &CoreError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewDuplicateError builds a KindDuplicate CoreError carrying blocking detail.
func NewDuplicateError(detail DuplicateDetail) *CoreError {
	return &CoreError{Kind: KindDuplicate, Message: "submission blocked as a duplicate", Details: detail}
}

// NewTimeoutError wraps err as a KindTimeout CoreError.
func NewTimeoutError(op string, err error) *CoreError {
	return &CoreError{Kind: KindTimeout, Message: fmt.Sprintf("%s exceeded its deadline", op), Err: err}
}

// NewAIProcessingError wraps err as a KindAIProcessing CoreError. Per spec.md
// §7, C4 failures (e.g. vector index unreachable) are fatal for the
// submission rather than silently treated as "no duplicates found".
func NewAIProcessingError(op string, err error) *CoreError {
	return &CoreError{Kind: KindAIProcessing, Message: fmt.Sprintf("%s failed", op), Err: err}
}

// NewDatabaseError wraps err as a KindDatabase CoreError.
func NewDatabaseError(op string, err error) *CoreError {
	return &CoreError{Kind: KindDatabase, Message: fmt.Sprintf("%s failed", op), Err: err}
}

// AsCoreError unwraps err to a *CoreError if present.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrNotFound is returned by storage lookups for a missing row. Components
// wrap it via NewNotFoundError at the boundary rather than leaking it raw.
var ErrNotFound = errors.New("model: not found")
