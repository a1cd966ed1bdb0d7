package hyperstate

import (
	"fmt"
	"strings"
)

// FieldNotFoundError reports an override path that does not exist in the
// target schema.
type FieldNotFoundError struct {
	Field  string
	Struct string
}

// Error implements the error interface.
func (e *FieldNotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("hyperstate: unknown field %q for %s", e.Field, e.Struct)
}

// FieldsNotFoundError aggregates the unknown paths of an override set.
type FieldsNotFoundError struct {
	Errors []*FieldNotFoundError
}

// Error implements the error interface.
func (e *FieldsNotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	fields := make([]string, len(e.Errors))
	target := ""
	for i, err := range e.Errors {
		fields[i] = fmt.Sprintf("%q", err.Field)
		target = err.Struct
	}
	return fmt.Sprintf("hyperstate: unknown fields %s for %s", strings.Join(fields, ", "), target)
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *FieldsNotFoundError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}
