package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// UnsupportedTypeError reports a Go type the type universe cannot express.
type UnsupportedTypeError struct {
	GoType reflect.Type
	Reason string
}

func (e *UnsupportedTypeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason != "" {
		return fmt.Sprintf("schema: unsupported type %s: %s", e.GoType, e.Reason)
	}
	return fmt.Sprintf("schema: unsupported type %s", e.GoType)
}

// UnsupportedDiffError reports a type pairing the diff engine has no rule
// for.
type UnsupportedDiffError struct {
	Path string
	Old  Type
	New  Type
}

func (e *UnsupportedDiffError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("schema: cannot diff %s against %s at %q", e.Old, e.New, e.Path)
}

// DeprecatedValueError reports a value rejected by a CheckValue or
// RejectValues rule during migration.
type DeprecatedValueError struct {
	Path    string
	Value   any
	Allowed []any
}

func (e *DeprecatedValueError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("schema: deprecated value %v at %q, allowed: %s", e.Value, e.Path, joinValues(e.Allowed))
	}
	return fmt.Sprintf("schema: deprecated value %v at %q", e.Value, e.Path)
}

// InvalidUpgradeRuleError reports upgrade rules registered for a version at
// or above the type's current version.
type InvalidUpgradeRuleError struct {
	TypeName    string
	RuleVersion int
	Version     int
}

func (e *InvalidUpgradeRuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("schema: %s registers upgrade rules for version %d, but upgrades must target versions below %d",
		e.TypeName, e.RuleVersion, e.Version)
}

// VersionTooOldError reports serialized data older than the minimum version
// a type still accepts.
type VersionTooOldError struct {
	TypeName       string
	Version        int
	MinimumVersion int
}

func (e *VersionTooOldError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("schema: %s no longer supports version %d, minimum supported version is %d",
		e.TypeName, e.Version, e.MinimumVersion)
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}
