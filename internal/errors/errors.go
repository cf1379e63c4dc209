// Package errors provides consolidated error definitions for cfgsync.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A collector for multiple validation failures

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrCollectionNotFound = errors.New("collection not found")
	ErrEntityTypeNotFound = errors.New("entity type not found")

	// Validation errors
	ErrInvalidName    = errors.New("invalid configuration name")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidRename  = errors.New("invalid rename change")
	ErrInvalidOp      = errors.New("invalid operation")
	ErrSiteMismatch   = errors.New("configuration originates from a different site")
	ErrInvalidStorage = errors.New("invalid storage specification")

	// Import errors
	ErrUnsupportedStorage = errors.New("entity storage does not support imports")
	ErrAlreadyImporting   = errors.New("another request may be synchronizing configuration already")
	ErrNotValidated       = errors.New("import has not been validated")
	ErrNoChanges          = errors.New("there are no configuration changes to import")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrStorage  = errors.New("storage error")
	ErrClosed   = errors.New("storage is closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
// Validation errors are raised before any mutation happens.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRename) ||
		errors.Is(err, ErrInvalidOp) ||
		errors.Is(err, ErrSiteMismatch) ||
		errors.Is(err, ErrInvalidStorage)
}

// IsFatal returns true if err aborts the remaining import run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnsupportedStorage) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrInternal)
}

// IsConflict returns true if err reports an informational conflict that
// the caller may retry later.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyImporting)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewUnsupportedStorage reports an entity type whose handler cannot import.
func NewUnsupportedStorage(handler interface{}, entityType string) error {
	return fmt.Errorf("the entity storage %q for the %q entity type: %w",
		fmt.Sprintf("%T", handler), entityType, ErrUnsupportedStorage)
}

// StorageError wraps a store failure with the operation and name involved.
func StorageError(op, collection, name string, err error) error {
	if err == nil {
		return nil
	}
	if collection == "" {
		return fmt.Errorf("%s %s: %w: %w", op, name, ErrStorage, err)
	}
	return fmt.Errorf("%s %s (collection %s): %w: %w", op, name, collection, ErrStorage, err)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
