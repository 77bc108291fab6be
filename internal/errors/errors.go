package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// LensError is the structured error type for CodeLens.
// It provides rich context for error handling, logging, and user presentation.
type LensError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
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
func (e *LensError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LensError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *LensError) Is(target error) bool {
	if t, ok := target.(*LensError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LensError) WithDetail(key, value string) *LensError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new LensError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LensError {
	return &LensError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LensError from an existing error.
// The error's message becomes the LensError message.
func Wrap(code string, err error) *LensError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error. Fatal at startup.
func ConfigError(message string, cause error) *LensError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *LensError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFoundError creates a structured not-found error.
// Not fatal to an enclosing plan; callers surface an empty result.
func NotFoundError(message string) *LensError {
	return New(ErrCodeNotFound, message, nil)
}

// TimeoutError creates a tool/operation timeout error. Retryable.
func TimeoutError(message string) *LensError {
	return New(ErrCodeToolTimeout, message, nil)
}

// AnalysisError creates a per-element analysis error.
// Logged and skipped; the enclosing traversal continues.
func AnalysisError(code, message string, cause error) *LensError {
	return New(code, message, cause)
}

// IsRetryable classifies an error as transient.
// LensError carries an explicit flag; otherwise network timeouts and context
// deadline expiry are treated as transient, everything else as permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var le *LensError
	if stderrors.As(err, &le) {
		return le.Retryable
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var le *LensError
	if stderrors.As(err, &le) {
		return le.Severity == SeverityFatal
	}
	return false
}

// IsNotFound checks for the structured not-found code.
func IsNotFound(err error) bool {
	var le *LensError
	if stderrors.As(err, &le) {
		return le.Code == ErrCodeNotFound
	}
	return false
}

// GetCode extracts the error code from a LensError.
// Returns empty string for other error types.
func GetCode(err error) string {
	var le *LensError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LensError.
func GetCategory(err error) Category {
	var le *LensError
	if stderrors.As(err, &le) {
		return le.Category
	}
	return ""
}

// RetryableFromStatus maps an HTTP status from a provider to the retry
// taxonomy: 429 and 5xx are transient, other 4xx are permanent.
func RetryableFromStatus(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500 && status < 600
}
