// Package errors defines the engine-wide error taxonomy. Every failure a
// caller can branch on is an EngineError with a closed Type; everything else
// is wrapped as cause.
package errors

import (
	"errors"
	"fmt"
)

// EngineError represents errors that occur during engine operations
type EngineError struct {
	Type    EngineErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ExitCode returns the subprocess exit code attached to the error, or -1.
func (e *EngineError) ExitCode() int {
	if code, ok := e.Context["exit_code"].(int); ok {
		return code
	}
	return -1
}

// EngineErrorType represents different types of engine errors
type EngineErrorType string

const (
	ErrTypeUnsupportedDriver  EngineErrorType = "UNSUPPORTED_DRIVER"
	ErrTypeProcessFailure     EngineErrorType = "PROCESS_FAILURE"
	ErrTypeArchiveFailure     EngineErrorType = "ARCHIVE_FAILURE"
	ErrTypeArtifactMissing    EngineErrorType = "ARTIFACT_MISSING"
	ErrTypeNoBaseBackup       EngineErrorType = "NO_BASE_BACKUP"
	ErrTypeInvalidPointInTime EngineErrorType = "INVALID_POINT_IN_TIME"
	ErrTypeMissingRecord      EngineErrorType = "MISSING_RECORD"
	ErrTypeCheckFailure       EngineErrorType = "CHECK_FAILURE"
	ErrTypeValidation         EngineErrorType = "VALIDATION_ERROR"
	ErrTypeStorage            EngineErrorType = "STORAGE_ERROR"
)

// NewEngineError creates a new EngineError
func NewEngineError(errorType EngineErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors

// NewUnsupportedDriverError reports an unknown database engine.
func NewUnsupportedDriverError(driver string) *EngineError {
	return NewEngineError(ErrTypeUnsupportedDriver,
		fmt.Sprintf("unsupported database driver: %s", driver), nil).
		WithContext("driver", driver)
}

// NewProcessError reports a non-zero exit from an external subprocess,
// carrying the exit code and captured stderr.
func NewProcessError(command string, exitCode int, stderr string) *EngineError {
	return NewEngineError(ErrTypeProcessFailure,
		fmt.Sprintf("%s exited with code %d", command, exitCode), nil).
		WithContext("command", command).
		WithContext("exit_code", exitCode).
		WithContext("stderr", stderr)
}

// NewArchiveError reports a failed archive pack/unpack process.
func NewArchiveError(operation string, exitCode int, stderr string) *EngineError {
	return NewEngineError(ErrTypeArchiveFailure,
		fmt.Sprintf("archive %s exited with code %d", operation, exitCode), nil).
		WithContext("operation", operation).
		WithContext("exit_code", exitCode).
		WithContext("stderr", stderr)
}

// NewArtifactMissingError reports an expected file absent at verify/restore time.
func NewArtifactMissingError(path string) *EngineError {
	return NewEngineError(ErrTypeArtifactMissing,
		fmt.Sprintf("artifact not found: %s", path), nil).
		WithContext("path", path)
}

// NewNoBaseBackupError reports an incremental request with no prior FULL backup.
func NewNoBaseBackupError(tenantID string) *EngineError {
	return NewEngineError(ErrTypeNoBaseBackup,
		"no completed full backup exists for incremental backup", nil).
		WithContext("tenant_id", tenantID)
}

// NewInvalidPointInTimeError reports a recovery point after the backup's completion.
func NewInvalidPointInTimeError(message string) *EngineError {
	return NewEngineError(ErrTypeInvalidPointInTime, message, nil)
}

// NewMissingRecordError reports a merge target that no longer exists.
func NewMissingRecordError(table string, id uint) *EngineError {
	return NewEngineError(ErrTypeMissingRecord,
		fmt.Sprintf("record %d not found in %s", id, table), nil).
		WithContext("table", table).
		WithContext("id", id)
}

// NewCheckExecutionError reports a single integrity scan query failure.
func NewCheckExecutionError(check string, cause error) *EngineError {
	return NewEngineError(ErrTypeCheckFailure,
		fmt.Sprintf("check %s failed", check), cause).
		WithContext("check", check)
}

// NewValidationError reports invalid input to an engine operation.
func NewValidationError(message string, cause error) *EngineError {
	return NewEngineError(ErrTypeValidation, message, cause)
}

// NewStorageError reports a filesystem or artifact store failure.
func NewStorageError(message string, cause error) *EngineError {
	return NewEngineError(ErrTypeStorage, message, cause)
}

// IsEngineError reports whether err is an EngineError of the given type.
func IsEngineError(err error, errorType EngineErrorType) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == errorType
	}
	return false
}
