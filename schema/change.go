package schema

import (
	"fmt"
	"strings"
)

// Severity ranks schema changes by how disruptive they are to existing
// serialized data.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Change is one difference between an old schema snapshot and the current
// schema.
type Change interface {
	// Path is the dotted field path the change applies to, with "[]" and
	// "?" segments marking descent into list and option types.
	Path() []string
	Severity() Severity
	Diagnostic() string
	// ProposedFix returns a rewrite rule mitigating the change, or nil when
	// no automatic mitigation exists.
	ProposedFix() Rule
}

// severityOf is the default severity: changes with an automatic mitigation
// are warnings, everything else is an error.
func severityOf(fix Rule) Severity {
	if fix != nil {
		return SeverityWarn
	}
	return SeverityError
}

func pathString(path []string) string {
	return strings.Join(path, ".")
}

// FieldAdded reports a field present in the new schema but not the old one.
type FieldAdded struct {
	FieldPath  []string
	Type       Type
	Default    any
	HasDefault bool
}

func (c *FieldAdded) Path() []string { return c.FieldPath }

func (c *FieldAdded) Severity() Severity {
	if c.HasDefault {
		return SeverityInfo
	}
	return severityOf(c.ProposedFix())
}

func (c *FieldAdded) Diagnostic() string {
	if c.HasDefault {
		return "new field"
	}
	return "new field without default value"
}

func (c *FieldAdded) ProposedFix() Rule {
	if c.HasDefault {
		return nil
	}
	switch c.Type.(type) {
	case *Option:
		return &AddDefault{Path: pathString(c.FieldPath), Default: nil}
	case *List:
		return &AddDefault{Path: pathString(c.FieldPath), Default: []any{}}
	}
	return nil
}

// FieldRemoved reports a field present in the old schema but not the new
// one.
type FieldRemoved struct {
	FieldPath  []string
	Type       Type
	Default    any
	HasDefault bool
}

func (c *FieldRemoved) Path() []string     { return c.FieldPath }
func (c *FieldRemoved) Severity() Severity { return severityOf(c.ProposedFix()) }
func (c *FieldRemoved) Diagnostic() string { return "field removed" }

func (c *FieldRemoved) ProposedFix() Rule {
	return &DeleteField{Path: pathString(c.FieldPath)}
}

// FieldRenamed reports a field that moved to a new path.
type FieldRenamed struct {
	FieldPath []string
	NewPath   []string
}

func (c *FieldRenamed) Path() []string     { return c.FieldPath }
func (c *FieldRenamed) Severity() Severity { return severityOf(c.ProposedFix()) }

func (c *FieldRenamed) Diagnostic() string {
	return fmt.Sprintf("field renamed to %s", pathString(c.NewPath))
}

func (c *FieldRenamed) ProposedFix() Rule {
	return &RenameField{From: pathString(c.FieldPath), To: pathString(c.NewPath)}
}

// DefaultValueChanged reports a field whose default differs between
// schemas.
type DefaultValueChanged struct {
	FieldPath []string
	Old       any
	New       any
}

func (c *DefaultValueChanged) Path() []string     { return c.FieldPath }
func (c *DefaultValueChanged) Severity() Severity { return severityOf(c.ProposedFix()) }

func (c *DefaultValueChanged) Diagnostic() string {
	return fmt.Sprintf("default value changed from %v to %v", c.Old, c.New)
}

func (c *DefaultValueChanged) ProposedFix() Rule {
	return &ChangeDefault{Path: pathString(c.FieldPath), NewDefault: c.New}
}

// DefaultValueRemoved reports a field that lost its default.
type DefaultValueRemoved struct {
	FieldPath []string
	Old       any
}

func (c *DefaultValueRemoved) Path() []string     { return c.FieldPath }
func (c *DefaultValueRemoved) Severity() Severity { return severityOf(c.ProposedFix()) }

func (c *DefaultValueRemoved) Diagnostic() string {
	return fmt.Sprintf("default value removed: %v", c.Old)
}

func (c *DefaultValueRemoved) ProposedFix() Rule {
	return &AddDefault{Path: pathString(c.FieldPath), Default: c.Old}
}

// TypeChanged reports a field whose type differs between schemas.
type TypeChanged struct {
	FieldPath []string
	Old       Type
	New       Type
}

func (c *TypeChanged) Path() []string { return c.FieldPath }

func (c *TypeChanged) Severity() Severity {
	// A Nothing on the old side is a placeholder left by an AddDefault rule,
	// so the field is already backfilled for old data.
	if _, ok := c.Old.(*Nothing); ok {
		return SeverityInfo
	}
	if opt, ok := c.New.(*Option); ok && opt.Inner.Equal(c.Old) {
		return SeverityInfo
	}
	if isPrimitive(c.Old, KindInt) && isPrimitive(c.New, KindFloat) {
		return SeverityInfo
	}
	return severityOf(c.ProposedFix())
}

func (c *TypeChanged) Diagnostic() string {
	return fmt.Sprintf("type changed from %s to %s", c.Old, c.New)
}

func (c *TypeChanged) ProposedFix() Rule {
	if list, ok := c.New.(*List); ok && list.Inner.Equal(c.Old) {
		return &MapFieldValue{Path: pathString(c.FieldPath), Expr: "[x]"}
	}
	if isPrimitive(c.Old, KindFloat) && isPrimitive(c.New, KindInt) {
		return &MapFieldValue{Path: pathString(c.FieldPath), Expr: "int(x)"}
	}
	if lit, ok := c.New.(*Literal); ok && literalNarrows(c.Old, lit) {
		return &CheckValue{Path: pathString(c.FieldPath), Allowed: lit.Allowed}
	}
	return nil
}

// literalNarrows reports whether lit restricts the value set of a primitive
// type, so that existing values only need a validity check.
func literalNarrows(old Type, lit *Literal) bool {
	p, ok := old.(*Primitive)
	if !ok || len(lit.Allowed) == 0 {
		return false
	}
	for _, v := range lit.Allowed {
		switch v.(type) {
		case string:
			if p.Kind != KindStr {
				return false
			}
		case int:
			if p.Kind != KindInt {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// EnumVariantValueChanged reports an enum variant whose serialized value
// changed.
type EnumVariantValueChanged struct {
	FieldPath []string
	EnumName  string
	Variant   string
	OldValue  any
	NewValue  any
}

func (c *EnumVariantValueChanged) Path() []string     { return c.FieldPath }
func (c *EnumVariantValueChanged) Severity() Severity { return severityOf(c.ProposedFix()) }

func (c *EnumVariantValueChanged) Diagnostic() string {
	return fmt.Sprintf("value of %s.%s changed from %v to %v", c.EnumName, c.Variant, c.OldValue, c.NewValue)
}

func (c *EnumVariantValueChanged) ProposedFix() Rule {
	return &MapFieldValue{
		Path: pathString(c.FieldPath),
		Expr: fmt.Sprintf("x == %s ? %s : x", exprLiteral(c.OldValue), exprLiteral(c.NewValue)),
	}
}

// EnumVariantRemoved reports an enum variant present only in the old
// schema.
type EnumVariantRemoved struct {
	FieldPath    []string
	EnumName     string
	Variant      string
	VariantValue any
}

func (c *EnumVariantRemoved) Path() []string     { return c.FieldPath }
func (c *EnumVariantRemoved) Severity() Severity { return severityOf(c.ProposedFix()) }

func (c *EnumVariantRemoved) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s removed", c.Variant, c.EnumName)
}

func (c *EnumVariantRemoved) ProposedFix() Rule { return nil }

// EnumVariantAdded reports an enum variant present only in the new schema.
type EnumVariantAdded struct {
	FieldPath    []string
	EnumName     string
	Variant      string
	VariantValue any
}

func (c *EnumVariantAdded) Path() []string     { return c.FieldPath }
func (c *EnumVariantAdded) Severity() Severity { return SeverityInfo }

func (c *EnumVariantAdded) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s added", c.Variant, c.EnumName)
}

func (c *EnumVariantAdded) ProposedFix() Rule { return nil }

// EnumVariantRenamed reports an enum variant that changed name but kept its
// serialized value.
type EnumVariantRenamed struct {
	FieldPath  []string
	EnumName   string
	OldVariant string
	NewVariant string
}

func (c *EnumVariantRenamed) Path() []string     { return c.FieldPath }
func (c *EnumVariantRenamed) Severity() Severity { return SeverityInfo }

func (c *EnumVariantRenamed) Diagnostic() string {
	return fmt.Sprintf("variant %s of %s renamed to %s", c.OldVariant, c.EnumName, c.NewVariant)
}

func (c *EnumVariantRenamed) ProposedFix() Rule { return nil }

func isPrimitive(t Type, kind PrimitiveKind) bool {
	p, ok := t.(*Primitive)
	return ok && p.Kind == kind
}

func exprLiteral(v any) string {
	if s, ok := v.(string); ok {
		return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
	}
	return fmt.Sprintf("%v", v)
}
