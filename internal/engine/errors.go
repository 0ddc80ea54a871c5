package engine

import (
	"context"
	"errors"
	"fmt"
)

// SyncError reports a run that could not complete.
//
// Sync errors are raised for:
//   - Invalid definitions (target table, rule compilation)
//   - Driver resolution or construction failures
//   - Fetch failures
//   - Store failures (table setup, index load, aborted writes)
//
// SyncError includes structured fields for diagnostics and CLI exit codes.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Definition names the definition being run.
	Definition string

	// RunID identifies the run, empty when the run never started.
	RunID string

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeDefinition indicates the definition itself is invalid.
	ErrCodeDefinition SyncErrorCode = "INVALID_DEFINITION"

	// ErrCodeDriver indicates the driver could not be resolved or built.
	ErrCodeDriver SyncErrorCode = "DRIVER"

	// ErrCodeFetch indicates the driver failed to fetch records.
	ErrCodeFetch SyncErrorCode = "FETCH"

	// ErrCodeStore indicates the local store failed.
	ErrCodeStore SyncErrorCode = "STORE"

	// ErrCodeCancelled indicates the caller's context ended the run.
	ErrCodeCancelled SyncErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s): %v", e.Code, e.Definition, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Definition, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func newSyncError(code SyncErrorCode, def, runID string, err error) *SyncError {
	return &SyncError{Code: code, Definition: def, RunID: runID, Err: err}
}

// classify returns ErrCodeCancelled when err was caused by the context
// ending, and code otherwise.
func classify(code SyncErrorCode, err error) SyncErrorCode {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeCancelled
	}
	return code
}

// ErrorCode returns the code of the first SyncError in err's chain, or ""
// when there is none.
// Uses errors.As to handle wrapped errors.
func ErrorCode(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsDefinitionError returns true if err is an invalid definition error.
func IsDefinitionError(err error) bool {
	return ErrorCode(err) == ErrCodeDefinition
}

// IsDriverError returns true if err is a driver resolution error.
func IsDriverError(err error) bool {
	return ErrorCode(err) == ErrCodeDriver
}

// IsFetchError returns true if err is a fetch error.
func IsFetchError(err error) bool {
	return ErrorCode(err) == ErrCodeFetch
}

// IsStoreError returns true if err is a store error.
func IsStoreError(err error) bool {
	return ErrorCode(err) == ErrCodeStore
}

// IsCancelled returns true if the run was stopped by its context.
func IsCancelled(err error) bool {
	return ErrorCode(err) == ErrCodeCancelled
}
