package service

import (
	"errors"
	"fmt"
)

// ValidationError is returned for malformed or out-of-range input before any
// computation happens.
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

func newValidationError(field, reason string, value interface{}) error {
	return &ValidationError{Field: field, Reason: reason, Value: value}
}

// IsValidationError reports whether err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
