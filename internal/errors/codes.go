// Package errors provides structured error handling for ferretbind.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and storage errors
//   - 3XX: Remote connection errors
//   - 4XX: Record lookup errors
//   - 5XX: Data store and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates invalid field or index configuration.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index directory and engine failures.
	CategoryStorage Category = "STORAGE"
	// CategoryConnection indicates remote index server failures.
	CategoryConnection Category = "CONNECTION"
	// CategoryLookup indicates single-record resolution failures.
	CategoryLookup Category = "LOOKUP"
	// CategoryInternal indicates data store and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownOption    = "ERR_103_UNKNOWN_OPTION"
	ErrCodeMissingClassName = "ERR_104_MISSING_CLASS_NAME"
	ErrCodeUnknownModel     = "ERR_105_UNKNOWN_MODEL"

	// Index and storage errors (200-299)
	ErrCodeIndexNotFound     = "ERR_201_INDEX_NOT_FOUND"
	ErrCodeStorage           = "ERR_202_STORAGE"
	ErrCodeRebuildInProgress = "ERR_203_REBUILD_IN_PROGRESS"
	ErrCodeRebuildFailed     = "ERR_204_REBUILD_FAILED"
	ErrCodeIndexClosed       = "ERR_205_INDEX_CLOSED"

	// Connection errors (300-399)
	ErrCodeConnection  = "ERR_301_CONNECTION"
	ErrCodeCircuitOpen = "ERR_302_CIRCUIT_OPEN"

	// Lookup errors (400-499)
	ErrCodeNotFound            = "ERR_401_NOT_FOUND"
	ErrCodeAmbiguousRecord     = "ERR_402_AMBIGUOUS_RECORD"
	ErrCodeStaleIndexReference = "ERR_403_STALE_INDEX_REFERENCE"
	ErrCodeInvalidQuery        = "ERR_404_INVALID_QUERY"

	// Data store and internal errors (500-599)
	ErrCodeTransientDB = "ERR_501_TRANSIENT_DB"
	ErrCodeDatabase    = "ERR_502_DATABASE"
	ErrCodeInternal    = "ERR_503_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryConnection
	case '4':
		return CategoryLookup
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeUnknownOption, ErrCodeMissingClassName, ErrCodeConfigNotFound:
		return SeverityFatal
	case ErrCodeStaleIndexReference:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeConnection, ErrCodeCircuitOpen, ErrCodeTransientDB:
		return true
	default:
		return false
	}
}
