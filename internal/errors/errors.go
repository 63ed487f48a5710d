// Package errors provides typed errors for querydoctor operations.
//
// This package defines sentinel errors and error types that allow callers
// to handle specific error conditions programmatically using errors.Is()
// and errors.As().
//
// Sentinel Errors:
//   - ErrExecutionTimeout: baseline capture exceeded its bound
//   - ErrMissingInput: a required upstream record is absent
//   - ErrMalformedPlan: plan summary is unusable
//   - ErrAmbiguousContext: database/table resolution failed or multiply-matched
//   - ErrInvalidConfig: configuration validation failed
//   - ErrSessionConcluded: session already reached a terminal phase
//
// Typed Errors:
//   - PhaseError: wraps an error with the phase it occurred in
//   - InputError: wraps ErrMissingInput with the record that was absent
//   - ValidationError: wraps configuration/input validation errors
//   - CollectionError: wraps errors during live data collection
//   - MultiError: aggregates multiple errors
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrExecutionTimeout indicates the baseline capture exceeded its bound.
	// The session halts where it stands; the capture is not retried.
	ErrExecutionTimeout = errors.New("baseline execution timed out")

	// ErrMissingInput indicates a required upstream record was absent.
	ErrMissingInput = errors.New("required input missing")

	// ErrMalformedPlan indicates the plan summary could not be used.
	ErrMalformedPlan = errors.New("execution plan malformed")

	// ErrAmbiguousContext indicates database or table resolution failed or
	// matched more than one object. Always escalated, never guessed.
	ErrAmbiguousContext = errors.New("ambiguous database context")

	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionConcluded indicates the session already reached a terminal
	// phase and cannot be advanced further.
	ErrSessionConcluded = errors.New("session already concluded")
)

// PhaseError wraps an error with the diagnostic phase it occurred in, so the
// caller always sees where the workflow stopped.
type PhaseError struct {
	Phase string // Phase name (e.g., "PLAN_ANALYSIS")
	Err   error  // Underlying error
}

// NewPhaseError creates a new PhaseError.
func NewPhaseError(phase string, err error) *PhaseError {
	return &PhaseError{Phase: phase, Err: err}
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *PhaseError) Is(target error) bool {
	_, ok := target.(*PhaseError)
	return ok
}

// InputError identifies which upstream record was absent or unusable.
type InputError struct {
	Record string // Record name (e.g., "plan", "statistics")
	Err    error  // Sentinel cause, usually ErrMissingInput
}

// NewInputError creates a new InputError wrapping ErrMissingInput.
func NewInputError(record string) *InputError {
	return &InputError{Record: record, Err: ErrMissingInput}
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Record, e.Err)
}

// Unwrap returns the sentinel cause for errors.Is support.
func (e *InputError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *InputError) Is(target error) bool {
	_, ok := target.(*InputError)
	return ok
}

// ValidationError represents a configuration or input validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was invalid (may be redacted for sensitive fields)
	Message string // Human-readable validation message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Unwrap returns ErrInvalidConfig for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Is reports whether target matches this error type.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// CollectionError represents an error during live data collection.
// It includes the operation that failed and whether partial results are available.
type CollectionError struct {
	Op      string // Operation that failed (e.g., "capture baseline", "fetch statistics")
	Err     error  // Underlying error
	Partial bool   // True if partial results were collected before error
}

// NewCollectionError creates a new CollectionError.
func NewCollectionError(op string, err error, partial bool) *CollectionError {
	return &CollectionError{Op: op, Err: err, Partial: partial}
}

// Error implements the error interface.
func (e *CollectionError) Error() string {
	prefix := "collection error"
	if e.Partial {
		prefix = "partial collection error"
	}
	return fmt.Sprintf("%s in %s: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *CollectionError) Is(target error) bool {
	_, ok := target.(*CollectionError)
	return ok
}

// MultiError aggregates multiple errors into a single error.
// This is useful when multiple operations can fail independently.
type MultiError struct {
	Errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (me *MultiError) Add(err error) {
	if err != nil {
		me.Errors = append(me.Errors, err)
	}
}

// Error implements the error interface.
func (me *MultiError) Error() string {
	switch len(me.Errors) {
	case 0:
		return "no errors"
	case 1:
		return me.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred; first: %v", len(me.Errors), me.Errors[0])
	}
}

// Unwrap returns the first error for errors.Is/As support.
func (me *MultiError) Unwrap() error {
	if len(me.Errors) == 0 {
		return nil
	}
	return me.Errors[0]
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError.
func (me *MultiError) ErrorOrNil() error {
	if len(me.Errors) == 0 {
		return nil
	}
	return me
}
