// Package errors provides structured error types for the rmplan state layer.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for the state layer.
const (
	// Storage errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeMigrationFailed    Code = "MIGRATION_FAILED"
	CodeStorageBusy        Code = "STORAGE_BUSY"

	// Data errors
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	CodeNotFound            Code = "NOT_FOUND"

	// Settings errors
	CodeSettingsInvalid Code = "SETTINGS_INVALID"
)

// Category groups error codes for exit-code mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeStorageUnavailable:  CategoryUnavailable,
	CodeMigrationFailed:     CategoryInternal,
	CodeStorageBusy:         CategoryConflict,
	CodeConstraintViolation: CategoryBadRequest,
	CodeNotFound:            CategoryNotFound,
	CodeSettingsInvalid:     CategoryBadRequest,
}

// ExitCode returns the process exit code for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryNotFound:
		return 3
	case CategoryBadRequest:
		return 2
	case CategoryConflict:
		return 4
	case CategoryUnavailable:
		return 5
	default:
		return 1
	}
}

// StateError is the structured error type for the state layer.
type StateError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *StateError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *StateError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *StateError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for exit-code mapping.
func (e *StateError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// ExitCode returns the appropriate process exit code for this error.
func (e *StateError) ExitCode() int {
	return e.Category().ExitCode()
}

// MarshalJSON implements json.Marshaler.
func (e *StateError) MarshalJSON() ([]byte, error) {
	type alias StateError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a StateError with the same code.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *StateError) WithCause(err error) *StateError {
	return &StateError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrStorageUnavailable returns an error when the database file cannot be
// opened or created.
func ErrStorageUnavailable(path string) *StateError {
	return &StateError{
		Code: CodeStorageUnavailable,
		What: fmt.Sprintf("cannot open state database at %s", path),
		Why:  "The database file could not be created or opened",
		Fix:  "Check that the directory exists, is writable, and the disk is not full",
	}
}

// ErrMigrationFailed returns an error when a schema migration script fails.
func ErrMigrationFailed(script string) *StateError {
	return &StateError{
		Code: CodeMigrationFailed,
		What: fmt.Sprintf("schema migration %s failed", script),
		Why:  "The migration was rolled back; the database is still at its previous version",
		Fix:  "This usually indicates a corrupted database file or a downgraded binary. Back up and remove the database file to recreate it",
	}
}

// ErrStorageBusy returns an error when the busy-wait on the database lock
// is exhausted.
func ErrStorageBusy() *StateError {
	return &StateError{
		Code: CodeStorageBusy,
		What: "state database is locked by another process",
		Why:  "Another rmplan process held the write lock for longer than the busy timeout",
		Fix:  "Retry the operation, or find and stop the long-running rmplan process",
	}
}

// ErrConstraintViolation returns an error when a uniqueness or foreign-key
// invariant is violated.
func ErrConstraintViolation(what string) *StateError {
	return &StateError{
		Code: CodeConstraintViolation,
		What: what,
		Why:  "The operation violated a database constraint",
		Fix:  "This is a bug in the caller; the referenced row likely does not exist",
	}
}

// ErrNotFound returns an error for CLI lookups of a missing record. The
// repository layer itself reports misses as absent values, not errors.
func ErrNotFound(kind, key string) *StateError {
	return &StateError{
		Code: CodeNotFound,
		What: fmt.Sprintf("%s %s not found", kind, key),
	}
}

// ErrSettingsInvalid returns an error for an invalid settings field.
func ErrSettingsInvalid(field, reason string) *StateError {
	return &StateError{
		Code: CodeSettingsInvalid,
		What: fmt.Sprintf("invalid setting: %s", field),
		Why:  reason,
		Fix:  "Check state.yml in the rmplan config directory",
	}
}

// AsStateError attempts to convert an error to a StateError.
// Returns nil if the error is not a StateError.
func AsStateError(err error) *StateError {
	var stErr *StateError
	if As(err, &stErr) {
		return stErr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if stErr, ok := err.(*StateError); ok {
		if t, ok := target.(**StateError); ok {
			*t = stErr
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a StateError with unknown code.
func Wrap(err error, what string) *StateError {
	return &StateError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
