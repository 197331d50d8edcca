package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeDuplicate        = "DUPLICATE_RESOURCE"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeExternalService  = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeAIProcessing     = "AI_PROCESSING_ERROR"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// AuthTokenRequest is the request body for POST /auth/token. There is no
// agent registry to look subject up in: APIKey is checked against the
// single configured admin key, and Subject is free-text attribution carried
// into the issued token's claims.
type AuthTokenRequest struct {
	Subject string `json:"subject"`
	APIKey  string `json:"api_key"`
	Role    Role   `json:"role,omitempty"`
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Postgres    string `json:"postgres"`
	VectorIndex string `json:"vector_index"`
	Uptime      int64  `json:"uptime_seconds"`
}
