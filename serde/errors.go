package serde

import (
	"fmt"
	"strings"
)

// MissingFieldError reports a field the document omits that has no default
// and cannot be constructed from defaults recursively.
type MissingFieldError struct {
	Path string
	Type string
}

func (e *MissingFieldError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("serde: missing field %q of type %s", e.Path, e.Type)
}

// ExtraFieldError reports a document key the target record does not
// declare.
type ExtraFieldError struct {
	Struct string
	Field  string
	Path   string
}

func (e *ExtraFieldError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path != "" {
		return fmt.Sprintf("serde: %s has no field %q at %q", e.Struct, e.Field, e.Path)
	}
	return fmt.Sprintf("serde: %s has no field %q", e.Struct, e.Field)
}

// TypeMismatchError reports a value the declared type cannot absorb.
type TypeMismatchError struct {
	Path  string
	Type  string
	Value any
}

func (e *TypeMismatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path != "" {
		return fmt.Sprintf("serde: %v is not %s at %q", e.Value, e.Type, e.Path)
	}
	return fmt.Sprintf("serde: %v is not %s", e.Value, e.Type)
}

// ValueOutOfRangeError reports a value outside a literal or enum value set.
type ValueOutOfRangeError struct {
	Path    string
	Value   any
	Allowed []any
}

func (e *ValueOutOfRangeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("serde: value %v at %q out of range, allowed: %s", e.Value, e.Path, joinValues(e.Allowed))
}

// UnsupportedTypeError reports a value or declared type the codec cannot
// carry.
type UnsupportedTypeError struct {
	Type string
	Path string
}

func (e *UnsupportedTypeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path != "" {
		return fmt.Sprintf("serde: unsupported type %s at %q", e.Type, e.Path)
	}
	return fmt.Sprintf("serde: unsupported type %s", e.Type)
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
