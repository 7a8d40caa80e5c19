package buildconf

import (
	"fmt"
	"strings"
)

// Error codes for validation failures.
const (
	ErrCodeRequired    = "required"
	ErrCodeMin         = "min"
	ErrCodeMax         = "max"
	ErrCodeOneOf       = "oneof"
	ErrCodeInvalidType = "invalid_type"
	ErrCodeUnknownKey  = "unknown_key"
	ErrCodeInvalidPath = "invalid_path"
)

// ValidationError aggregates field-level validation failures.
type ValidationError struct {
	FieldErrors []FieldError
}

// Error formats validation errors as a multi-line message.
func (e *ValidationError) Error() string {
	switch len(e.FieldErrors) {
	case 0:
		return "config validation failed: no errors"
	case 1:
		fe := e.FieldErrors[0]
		return fmt.Sprintf("config validation failed: 1 error\n  - %s: %s (%s)", fe.FieldPath, fe.Code, fe.Message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "config validation failed: %d errors", len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		fmt.Fprintf(&b, "\n  - %s: %s (%s)", fe.FieldPath, fe.Code, fe.Message)
	}
	return b.String()
}

// Has reports whether any field error matches the given key path.
func (e *ValidationError) Has(fieldPath string) bool {
	for _, fe := range e.FieldErrors {
		if fe.FieldPath == fieldPath {
			return true
		}
	}
	return false
}

// FieldError represents a single field validation failure.
type FieldError struct {
	FieldPath string // key path, e.g. "paths.base"
	Code      string // e.g. "required", "invalid_path"
	Message   string
}
