// Package errors provides structured error handling for psychrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Input and state-machine errors
//   - 2XX: Store and file errors
//   - 3XX: External service errors (embedder, LLM, reranker)
//   - 4XX: Pipeline outcomes
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates metadata store and file errors.
	CategoryStore Category = "STORE"
	// CategoryExternal indicates external service errors.
	CategoryExternal Category = "EXTERNAL"
	// CategoryPipeline indicates pipeline-stage outcomes.
	CategoryPipeline Category = "PIPELINE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Input and state errors (100-199)
	ErrCodeInvalidInput = "ERR_101_INVALID_INPUT"
	ErrCodePrecondition = "ERR_102_PRECONDITION_FAILED"

	// Store and file errors (200-299)
	ErrCodeNotFound          = "ERR_201_NOT_FOUND"
	ErrCodeStaleSource       = "ERR_202_STALE_SOURCE"
	ErrCodeDimensionMismatch = "ERR_203_DIMENSION_MISMATCH"
	ErrCodeStoreFailed       = "ERR_204_STORE_FAILED"

	// External service errors (300-399)
	ErrCodeTransient = "ERR_301_TRANSIENT"
	ErrCodePermanent = "ERR_302_PERMANENT"

	// Pipeline outcomes (400-499)
	ErrCodeParseWarning = "ERR_401_PARSE_WARNING"
	ErrCodeNoCandidates = "ERR_402_NO_CANDIDATES"
	ErrCodeCancelled    = "ERR_403_CANCELLED"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryStore
	case '3':
		return CategoryExternal
	case '4':
		return CategoryPipeline
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
// StaleSource and ParseWarning degrade the result rather than fail it.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStaleSource, ErrCodeParseWarning:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only transient external failures are retried; everything else
// propagates immediately.
func isRetryableCode(code string) bool {
	return code == ErrCodeTransient
}
