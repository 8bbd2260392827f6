// Package apperr defines the error taxonomy of the orchestration core:
// Validation, NotFound, Duplicate, InvalidTransition and StepExecution
// failures, as typed errors so callers (the HTTP layer in particular) can
// map them to status codes with errors.As instead of string matching.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError wraps a caller-input failure: empty name, bad step_order,
// wrong lifecycle state for the requested operation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validation constructs a ValidationError.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError wraps a lookup of an entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NotFound constructs a NotFoundError.
func NotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// DuplicateExecutionError reports that a create_execution call collided with
// a pre-existing WorkflowExecution on (workflow_id, idempotency_key). It
// carries only that execution's ID, not the record itself. Callers treat this as "return success with the existing record", not as a
// fatal error.
type DuplicateExecutionError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("duplicate execution, existing id: %s", e.ExistingID)
}

// DuplicateExecution constructs a DuplicateExecutionError.
func DuplicateExecution(existingID uuid.UUID) error {
	return &DuplicateExecutionError{ExistingID: existingID}
}

// StepExecutionError wraps a handler invocation that failed on all attempts.
// It is converted into an execution-level failed status by the orchestrator
// and never propagates past the worker.
type StepExecutionError struct {
	StepName string
	Cause    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepName, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// StepExecution constructs a StepExecutionError.
func StepExecution(stepName string, cause error) error {
	return &StepExecutionError{StepName: stepName, Cause: cause}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsDuplicateExecution reports whether err is (or wraps) a
// DuplicateExecutionError, and returns it if so.
func IsDuplicateExecution(err error) (*DuplicateExecutionError, bool) {
	var v *DuplicateExecutionError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Note: statemachine.InvalidTransitionError is a distinct concrete type
// defined in internal/statemachine (to avoid an import cycle, since
// statemachine depends only on model, not apperr). The HTTP layer checks for
// it directly with a `var t *statemachine.InvalidTransitionError` and
// errors.As(err, &t).
