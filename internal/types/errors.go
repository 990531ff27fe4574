package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTime   ErrorCode = "validation_invalid_datetime"
	ErrCodeValidationGridAlignment ErrorCode = "validation_grid_misalignment"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationChannel       ErrorCode = "validation_unsupported_channel"
	ErrCodeValidationInbound       ErrorCode = "validation_invalid_inbound_payload"
	ErrCodeValidationService       ErrorCode = "validation_unknown_service"
	ErrCodeValidationTenantConfig  ErrorCode = "validation_invalid_tenant_config"

	// Auth (401)
	ErrCodeAuthUnknownTenant    ErrorCode = "auth_unknown_tenant"
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthBadSignature     ErrorCode = "auth_invalid_webhook_signature"
	ErrCodeAuthSecretUnresolved ErrorCode = "auth_webhook_secret_unresolved"

	// Permission (403)
	ErrCodePermissionRole        ErrorCode = "permission_role_insufficient"
	ErrCodePermissionIntegration ErrorCode = "permission_integration_not_allowed"

	// Not Found (404)
	ErrCodeNotFoundTenant  ErrorCode = "not_found_tenant_config"
	ErrCodeNotFoundBooking ErrorCode = "not_found_booking"

	// Conflict (409)
	ErrCodeConflictDuplicate ErrorCode = "conflict_duplicate_request"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamCalendar   ErrorCode = "upstream_calendar_unavailable"
	ErrCodeUpstreamChannel    ErrorCode = "upstream_channel_unavailable"
	ErrCodeUpstreamBreaker    ErrorCode = "upstream_circuit_open"

	// Not Implemented (501): tenant config writes against a file source.
	ErrCodeConfigSourceReadOnly ErrorCode = "config_source_read_only"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case s == string(ErrCodeConfigSourceReadOnly):
		return http.StatusNotImplemented // 501
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// IsRetryable reports whether a job failing with this error should be
// re-enqueued by a worker. Validation, auth, permission, and duplicate
// outcomes are terminal; upstream and internal failures are worth another
// attempt.
func (e *AppError) IsRetryable() bool {
	s := string(e.Code)
	if strings.HasPrefix(s, "validation_") ||
		strings.HasPrefix(s, "auth_") ||
		strings.HasPrefix(s, "permission_") ||
		strings.HasPrefix(s, "conflict_") {
		return false
	}
	return true
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
