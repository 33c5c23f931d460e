package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTransaction  = errors.New("transaction failed")

	// ErrAlreadyExists is reported for UNIQUE violations and matches ErrConflict.
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrConflict)
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound  = "RESOURCE_NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeValidationError   = "VALIDATION_ERROR"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}
