package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for claim and child-record invariants.
var (
	ErrInvalidID               = errors.New("invalid id")
	ErrInvalidTitle            = errors.New("invalid title")
	ErrAlreadyClaimed          = errors.New("task already claimed")
	ErrNotDepartmentAssigned   = errors.New("task is not assigned to a department")
	ErrDepartmentMismatch      = errors.New("department does not match task assignment")
	ErrChecklistItemNotFound   = errors.New("checklist item not found")
	ErrChecklistItemCompleted  = errors.New("checklist item already completed")
	ErrChecklistItemIncomplete = errors.New("checklist item not completed")
)

// ValidationError describes malformed caller input. It is always
// caller-correctable and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// validationErr builds a ValidationError for a single field.
func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidTransitionError signals that the aggregate's current status does not
// permit the requested transition. The caller must re-fetch and re-evaluate;
// it is never retried automatically.
type InvalidTransitionError struct {
	Transition string
	Status     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from status %q", e.Transition, e.Status)
}

// transitionErr builds an InvalidTransitionError for a named transition.
func transitionErr(transition, status string) error {
	return &InvalidTransitionError{Transition: transition, Status: status}
}

// IsInvalidTransition reports whether err is (or wraps) an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
