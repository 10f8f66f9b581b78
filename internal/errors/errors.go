package errors

import (
	stderrors "errors"
	"fmt"
)

// RagError is the structured error type for psychrag.
// It carries enough context for transport mapping, logging, and
// user presentation.
type RagError struct {
	// Code is the unique error code (e.g., "ERR_201_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Store, External, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *RagError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *RagError) Is(target error) bool {
	if t, ok := target.(*RagError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RagError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagError from an existing error.
// The error's message becomes the RagError message.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates a missing-entity error.
func NotFound(entity, id string) *RagError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// Precondition creates a state-machine guard error carrying the
// unmet predicate.
func Precondition(predicate string) *RagError {
	return New(ErrCodePrecondition, fmt.Sprintf("precondition failed: %s", predicate), nil).
		WithDetail("predicate", predicate)
}

// StaleSource creates a sanitized-file staleness error.
func StaleSource(path string, cause error) *RagError {
	return New(ErrCodeStaleSource, fmt.Sprintf("sanitized source stale or missing: %s", path), cause).
		WithDetail("path", path)
}

// Transient creates a retryable external-call error.
func Transient(message string, cause error) *RagError {
	return New(ErrCodeTransient, message, cause)
}

// Permanent creates a non-retryable external-call error.
func Permanent(message string, cause error) *RagError {
	return New(ErrCodePermanent, message, cause)
}

// IsRetryable checks if an error is retryable.
// Walks the error chain so wrapped RagErrors are still recognized.
func IsRetryable(err error) bool {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from a RagError anywhere in the chain.
// Returns empty string if no RagError is found.
func GetCode(err error) string {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
