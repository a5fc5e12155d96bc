package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotConfigured indicates a required setting is missing for this request.
	ErrNotConfigured = errors.New("not configured")
	// ErrInvalidSignature indicates a webhook failed authenticity checks.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnauthorized indicates the caller did not prove control of the account it named.
	ErrUnauthorized = errors.New("account control not proven")
)

// ValidationError is a malformed or out-of-range input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateError is returned when an account already exists for an identity field.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("account already exists for %s %s", e.Field, e.Value)
}

// MissingSetting wraps ErrNotConfigured with the environment variable name.
func MissingSetting(name string) error {
	return fmt.Errorf("%s is not set: %w", name, ErrNotConfigured)
}

// ErrNotMember is returned when gated content is requested by an account without a membership token.
var ErrNotMember = errors.New("account does not hold a membership token")
