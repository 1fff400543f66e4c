package engine

import (
	"errors"
	"fmt"
)

// Code classifies what went wrong with a sync operation. Callers branch on
// codes, not message text, so codes are part of the package contract.
type Code string

const (
	// CodeParse means the source file could not be converted to IR.
	CodeParse Code = "parse"
	// CodeValidation means the IR document failed structural or schema checks.
	CodeValidation Code = "validation"
	// CodeMigration means the document's schema version could not be brought
	// to the current one.
	CodeMigration Code = "migration"
	// CodeIO covers filesystem reads and writes. IO errors are the only
	// retryable class.
	CodeIO Code = "io"
	// CodeGeneration means the stored IR could not be rendered back to source.
	CodeGeneration Code = "generation"
	// CodeConflictTimeout means a manual conflict resolution did not arrive
	// within the configured window.
	CodeConflictTimeout Code = "conflict-timeout"
	// CodeCancelled means the operation was superseded or the engine shut
	// down before it finished.
	CodeCancelled Code = "cancelled"
)

// SyncError is the engine's error type. Every failed operation surfaces one,
// carrying enough context to print a useful line without unwrapping.
type SyncError struct {
	Code    Code
	Message string
	Unit    string // logical unit id
	Path    string // source file involved, when known
	Err     error  // underlying cause, or nil
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s error for %s", e.Code, e.Unit)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func syncErr(code Code, unit, path, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Unit: unit, Path: path, Err: err}
}

func hasCode(err error, code Code) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == code
}

// IsParseError reports whether err is a SyncError with CodeParse.
func IsParseError(err error) bool { return hasCode(err, CodeParse) }

// IsValidationError reports whether err is a SyncError with CodeValidation.
func IsValidationError(err error) bool { return hasCode(err, CodeValidation) }

// IsMigrationError reports whether err is a SyncError with CodeMigration.
func IsMigrationError(err error) bool { return hasCode(err, CodeMigration) }

// IsIOError reports whether err is a SyncError with CodeIO.
func IsIOError(err error) bool { return hasCode(err, CodeIO) }

// IsGenerationError reports whether err is a SyncError with CodeGeneration.
func IsGenerationError(err error) bool { return hasCode(err, CodeGeneration) }

// IsConflictTimeoutError reports whether err is a SyncError with
// CodeConflictTimeout.
func IsConflictTimeoutError(err error) bool { return hasCode(err, CodeConflictTimeout) }

// IsCancelledError reports whether err is a SyncError with CodeCancelled.
func IsCancelledError(err error) bool { return hasCode(err, CodeCancelled) }

// Retryable reports whether err is worth retrying. Only IO errors qualify:
// parse, validation, migration and generation failures are deterministic, so
// retrying them would produce the same result.
func Retryable(err error) bool {
	return hasCode(err, CodeIO)
}
