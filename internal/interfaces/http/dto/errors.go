package dto

import (
	"errors"
	"net/http"

	"github.com/shipnotify/backend/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeInvalidSignature is used when an HMAC signature does not verify
	ErrCodeInvalidSignature = "ERR_INVALID_SIGNATURE"
	// ErrCodeTokenExpired is used when the session token has expired
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the session token is invalid
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	// ErrCodeBillingRequired is used when an active charge is missing
	ErrCodeBillingRequired = "ERR_BILLING_REQUIRED"
	// ErrCodeForbidden is used when the client may not access the resource
	ErrCodeForbidden = "ERR_FORBIDDEN"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeNoWebhookHandler is used when no handler serves a webhook route
	ErrCodeNoWebhookHandler = "ERR_NO_WEBHOOK_HANDLER"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidShop is used when the shop parameter is missing or malformed
	ErrCodeInvalidShop = "ERR_INVALID_SHOP"
	// ErrCodePayloadTooLarge is used when the request body exceeds the limit
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
)

// Upstream error codes
const (
	// ErrCodeUpstreamFailure is used when the platform or marketing API fails
	ErrCodeUpstreamFailure = "ERR_UPSTREAM_FAILURE"
	// ErrCodeHandlerFailure is used when a webhook handler fails
	ErrCodeHandlerFailure = "ERR_HANDLER_FAILURE"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeUnauthorized:     http.StatusUnauthorized,
	ErrCodeInvalidSignature: http.StatusUnauthorized,
	ErrCodeTokenExpired:     http.StatusUnauthorized,
	ErrCodeTokenInvalid:     http.StatusUnauthorized,
	ErrCodeBillingRequired:  http.StatusPaymentRequired,
	ErrCodeForbidden:        http.StatusForbidden,

	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeNoWebhookHandler: http.StatusNotFound,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidShop:     http.StatusBadRequest,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeUpstreamFailure: http.StatusBadGateway,
	ErrCodeHandlerFailure:  http.StatusInternalServerError,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":          ErrCodeNotFound,
	"INVALID_INPUT":      ErrCodeInvalidInput,
	"UNAUTHORIZED":       ErrCodeUnauthorized,
	"INVALID_SHOP":       ErrCodeInvalidShop,
	"INVALID_SIGNATURE":  ErrCodeInvalidSignature,
	"BILLING_REQUIRED":   ErrCodeBillingRequired,
	"UPSTREAM_FAILURE":   ErrCodeUpstreamFailure,
	"HANDLER_FAILURE":    ErrCodeHandlerFailure,
	"NO_WEBHOOK_HANDLER": ErrCodeNoWebhookHandler,
}

// NormalizeErrorCode converts a domain error code to the API format
// If the code is already in the API format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}

// FromError derives the status, code and client-safe message for err.
// The outermost domain error in the chain decides; anything else is internal.
func FromError(err error) (status int, code, message string) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code = NormalizeErrorCode(domainErr.Code)
		return GetHTTPStatus(code), code, domainErr.Message
	}
	return http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred"
}
