package dto

import (
	"net/http"
	"strings"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeExternalService is used when an upstream provider call fails
	ErrCodeExternalService = "ERR_EXTERNAL_SERVICE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the caller lacks permission
	ErrCodeForbidden = "ERR_FORBIDDEN"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeConcurrencyConflict is used when optimistic locking fails
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Business rule error codes
const (
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeUsageBlocked is used when a hard cap denies further usage
	ErrCodeUsageBlocked = "ERR_USAGE_BLOCKED"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// General errors
	ErrCodeUnknown:         http.StatusInternalServerError,
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeExternalService: http.StatusBadGateway,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,

	// Auth errors
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	// Resource errors
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeUsageBlocked: http.StatusUnprocessableEntity,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain-level error codes to the standardized
// HTTP codes. Domain code stays the source of truth; the mapping only picks
// the transport representation.
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"EXTERNAL_SERVICE":     ErrCodeExternalService,
	"INTERNAL_ERROR":       ErrCodeInternal,

	// Metering
	"METER_ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"METER_INACTIVE":             ErrCodeInvalidState,
	"METER_ALREADY_ACTIVE":       ErrCodeInvalidState,
	"METER_ALREADY_INACTIVE":     ErrCodeInvalidState,
	"ALERT_ALREADY_ACKNOWLEDGED": ErrCodeInvalidState,
	"USAGE_BLOCKED":              ErrCodeUsageBlocked,

	// Tiers
	"TIER_ALREADY_EXISTS":         ErrCodeAlreadyExists,
	"TIER_NOT_SUBSCRIBABLE":       ErrCodeInvalidState,
	"TIER_ARCHIVED":               ErrCodeInvalidState,
	"NOT_TRIAL":                   ErrCodeInvalidState,
	"ASSIGNMENT_ALREADY_CANCELED": ErrCodeInvalidState,
	"ASSIGNMENT_CONFLICT":         ErrCodeConflict,
	"OVERAGE_ALREADY_BILLED":      ErrCodeInvalidState,

	// Pricing
	"CHANGE_NOT_APPROVED": ErrCodeInvalidState,
}

// NormalizeErrorCode converts a domain error code to the standardized
// format. INVALID_* codes that are not mapped explicitly are treated as
// validation failures; INVALID_*_TRANSITION codes are state errors.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	if strings.HasPrefix(code, "INVALID_") {
		if strings.HasSuffix(code, "_TRANSITION") {
			return ErrCodeInvalidState
		}
		return ErrCodeValidation
	}
	return code
}
