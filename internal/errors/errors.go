package errors

import (
	"errors"
	"fmt"
)

// FerretError is the structured error type for ferretbind.
// It carries enough context for logging, RPC transport and CLI presentation.
type FerretError struct {
	// Code is the unique error code (e.g., "ERR_201_INDEX_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FerretError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FerretError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, &FerretError{Code: ...}) works
// across wrapping and across the RPC boundary.
func (e *FerretError) Is(target error) bool {
	if t, ok := target.(*FerretError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FerretError) WithDetail(key, value string) *FerretError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FerretError) WithSuggestion(suggestion string) *FerretError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FerretError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FerretError {
	return &FerretError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FerretError from an existing error.
func Wrap(code string, err error) *FerretError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError reports invalid field or index configuration.
func ConfigError(message string, cause error) *FerretError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError reports an unwritable index path or an engine failure.
func StorageError(message string, cause error) *FerretError {
	return New(ErrCodeStorage, message, cause)
}

// IndexNotFoundError reports a directory without a valid index.
func IndexNotFoundError(path string) *FerretError {
	return New(ErrCodeIndexNotFound, "no index found at "+path, nil).
		WithDetail("path", path)
}

// RebuildInProgressError reports a rebuild request that collided with a running one.
func RebuildInProgressError(name string) *FerretError {
	return New(ErrCodeRebuildInProgress, "rebuild already in progress for index "+name, nil).
		WithDetail("index", name).
		WithSuggestion("wait for the running rebuild to finish")
}

// NotFoundError reports a single-record lookup that matched nothing.
func NotFoundError(id string) *FerretError {
	return New(ErrCodeNotFound, "no document found for id "+id, nil).WithDetail("id", id)
}

// AmbiguousRecordError reports a single-record lookup that matched more than one document.
func AmbiguousRecordError(id string, count int) *FerretError {
	return New(ErrCodeAmbiguousRecord, fmt.Sprintf("%d documents found for id %s", count, id), nil).
		WithDetail("id", id)
}

// StaleIndexReferenceError reports an indexed id without a data store record.
func StaleIndexReferenceError(model, id string) *FerretError {
	return New(ErrCodeStaleIndexReference, fmt.Sprintf("%s %s is indexed but no longer exists", model, id), nil).
		WithDetail("model", model).
		WithDetail("id", id).
		WithSuggestion("rebuild your index")
}

// ConnectionError reports a failure to reach the index server.
func ConnectionError(addr string, cause error) *FerretError {
	return New(ErrCodeConnection, "index server unreachable at "+addr, cause).WithDetail("addr", addr)
}

// TransientDBError reports a dropped or broken data store connection.
func TransientDBError(message string, cause error) *FerretError {
	return New(ErrCodeTransientDB, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FerretError {
	return New(ErrCodeInternal, message, cause)
}

// HasCode reports whether any FerretError in err's chain carries code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &FerretError{Code: code})
}

// IsConnection reports whether err is a remote connection failure.
func IsConnection(err error) bool {
	return HasCode(err, ErrCodeConnection) || HasCode(err, ErrCodeCircuitOpen)
}

// IsTransientDB reports whether err is a recoverable data store failure.
func IsTransientDB(err error) bool {
	return HasCode(err, ErrCodeTransientDB)
}

// IsNotFound reports whether err is a lookup that matched nothing.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsIndexNotFound reports whether err is a missing index.
func IsIndexNotFound(err error) bool {
	return HasCode(err, ErrCodeIndexNotFound)
}

// IsRebuildInProgress reports whether err is a rejected concurrent rebuild.
func IsRebuildInProgress(err error) bool {
	return HasCode(err, ErrCodeRebuildInProgress)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var fe *FerretError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var fe *FerretError
	if errors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a FerretError.
// Returns empty string if err carries none.
func GetCode(err error) string {
	var fe *FerretError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
