// Package errors provides the error taxonomy for the procrank agent.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A collector for multiple validation errors

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrSegmentNotFound = errors.New("segment not found")

	// Validation errors
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidHour      = errors.New("invalid hour")
	ErrInvalidRange     = errors.New("invalid range")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingField     = errors.New("missing required field")

	// Sampling errors
	ErrProcessGone   = errors.New("process exited")
	ErrAccessDenied  = errors.New("access denied")
	ErrNoEnumeration = errors.New("process enumeration failed")

	// Storage errors
	ErrDatabase    = errors.New("database error")
	ErrStoreClosed = errors.New("store is closed")

	// Lifecycle errors
	ErrAgentRunning = errors.New("agent is already running")
	ErrAgentStopped = errors.New("agent is not running")

	// Internal errors
	ErrInternal = errors.New("internal error")
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

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSegmentNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDay) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidHour) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsStorage returns true if err originated in the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrStoreClosed)
}

// IsTransientSampling returns true if err is an expected per-process read
// failure that only drops that process from the current tick.
func IsTransientSampling(err error) bool {
	return errors.Is(err, ErrProcessGone) ||
		errors.Is(err, ErrAccessDenied)
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

// Storage tags err as a database failure while keeping the original cause
// reachable through errors.Is/As.
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDatabase) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDatabase, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewSegmentNotFound creates a not-found error for a storage segment.
func NewSegmentNotFound(segment string) error {
	return fmt.Errorf("segment '%s': %w", segment, ErrSegmentNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error tagged with the given sentinel.
func NewInvalidValue(sentinel error, value interface{}, reason string) error {
	return fmt.Errorf("'%v': %s: %w", value, reason, sentinel)
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

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
