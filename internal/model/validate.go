package model

import (
	"fmt"
	"strings"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 255
	maxWorkerGroupLength = 128
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateRecord checks a Record for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
// The config payload is only checked for presence; syntax is the job of a
// ConfigValidator.
func ValidateRecord(r *Record) error {
	var ve ValidationError

	if !r.Kind.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "kind",
			Message: fmt.Sprintf("invalid value %q", r.Kind),
		})
	}

	name := strings.TrimSpace(r.Name)
	if name == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if len([]rune(name)) > maxNameLength {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "name",
			Message: fmt.Sprintf("must be %d characters or fewer", maxNameLength),
		})
	}

	if strings.TrimSpace(r.Config) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "config", Message: "is required"})
	}

	if len([]rune(r.Description)) > maxDescriptionLength {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "description",
			Message: fmt.Sprintf("must be %d characters or fewer", maxDescriptionLength),
		})
	}

	for _, g := range r.WorkerGroups {
		if len(g) > maxWorkerGroupLength {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "worker_groups",
				Message: fmt.Sprintf("%q exceeds %d characters", g, maxWorkerGroupLength),
			})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
