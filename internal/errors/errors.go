package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"
	ErrInvalidAPIKey      ErrorCode = "40103"

	// Authorization errors (403xx)
	ErrForbidden        ErrorCode = "40301"
	ErrActionNotAllowed ErrorCode = "40302"
	ErrPolicyExpired    ErrorCode = "40303"
	ErrTierRequired     ErrorCode = "40304"

	// Resource errors (404xx)
	ErrFileNotFound   ErrorCode = "40401"
	ErrUserNotFound   ErrorCode = "40402"
	ErrTenantNotFound ErrorCode = "40403"
	ErrPolicyNotFound ErrorCode = "40404"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrFileTooLarge     ErrorCode = "40003"
	ErrUnsupportedType  ErrorCode = "40004"

	// Rate limit errors (429xx)
	ErrLimitExceeded ErrorCode = "42901"
	ErrRateLimited   ErrorCode = "42902"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrBadConfiguration    ErrorCode = "50002"
	ErrUpstreamTimeout     ErrorCode = "50401"
	ErrUpstreamUnavailable ErrorCode = "50301"
	ErrUpstreamFailed      ErrorCode = "50201"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Invalid email or password",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidAPIKeyError = &APIError{
		Code:       ErrInvalidAPIKey,
		Message:    "Invalid or revoked API key",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrFileNotFoundError = &APIError{
		Code:       ErrFileNotFound,
		Message:    "File not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUserNotFoundError = &APIError{
		Code:       ErrUserNotFound,
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrTenantNotFoundError = &APIError{
		Code:       ErrTenantNotFound,
		Message:    "Tenant not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrPolicyNotFoundError = &APIError{
		Code:       ErrPolicyNotFound,
		Message:    "Policy not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrUpstreamTimeoutError = &APIError{
		Code:       ErrUpstreamTimeout,
		Message:    "Processing service timeout",
		HTTPStatus: http.StatusGatewayTimeout,
	}

	ErrUpstreamUnavailableError = &APIError{
		Code:       ErrUpstreamUnavailable,
		Message:    "Processing service unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewDeniedError maps a policy gate denial to a client-visible error.
// Quota denials map to 429, everything else to 403. The denial reason
// is always carried verbatim so the caller can tell why.
func NewDeniedError(reason string) *APIError {
	code := ErrForbidden
	status := http.StatusForbidden
	switch reason {
	case "limit exceeded":
		code = ErrLimitExceeded
		status = http.StatusTooManyRequests
	case "policy expired":
		code = ErrPolicyExpired
	case "action not permitted":
		code = ErrActionNotAllowed
	}
	return &APIError{
		Code:       code,
		Message:    reason,
		HTTPStatus: status,
	}
}

// NewUpstreamError preserves the upstream status and body for the caller,
// so "your request was bad" and "the processing service failed" stay
// distinguishable.
func NewUpstreamError(status int, body string) *APIError {
	return &APIError{
		Code:       ErrUpstreamFailed,
		Message:    fmt.Sprintf("Processing service returned %d", status),
		Details:    body,
		HTTPStatus: http.StatusBadGateway,
	}
}

// NewConfigurationError reports invalid policy parameters. This is a setup
// problem, not a business outcome, and is never retried.
func NewConfigurationError(message string) *APIError {
	return &APIError{
		Code:       ErrBadConfiguration,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}
