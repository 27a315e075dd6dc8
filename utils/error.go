package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// The override workflow surfaces failure kinds as typed errors so callers can
// branch with errors.As instead of parsing messages.

// ConfigNotFoundError: the requested rule type has no DB row and no relevant
// environment override.
type ConfigNotFoundError struct {
	RuleType string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("No configuration found for rule type %s", e.RuleType)
}

// ValidationError: malformed caller input (e.g. an override reason that is
// too short).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// NotFoundError: a referenced validation/invoice/user does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NewNotFoundError(message string) error {
	return &NotFoundError{Message: message}
}

// ConflictError: the target is already in a terminal state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewConflictError(message string) error {
	return &ConflictError{Message: message}
}

// BusinessRuleError: the operation is forbidden by the parent document's
// business state (e.g. overriding a flag on a paid invoice).
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

func NewBusinessRuleError(message string) error {
	return &BusinessRuleError{Message: message}
}

// UnauthorizedError: role/ownership check failed.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func NewUnauthorizedError(message string) error {
	return &UnauthorizedError{Message: message}
}
