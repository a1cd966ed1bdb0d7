package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cswinter/hyperstate/internal/valuetree"
	"github.com/cswinter/hyperstate/mapexpr"
)

// Rule rewrites serialized value trees and schema snapshots across a version
// boundary. Apply mutates a value tree in place; ApplyToSchema replays the
// same change against an old schema snapshot.
type Rule interface {
	fmt.Stringer
	Apply(tree map[string]any) error
	ApplyToSchema(root *Struct) error
}

// RenameField moves a field to a new dotted path.
type RenameField struct {
	From string
	To   string
}

// Apply moves the value at From to To. Missing source fields are ignored.
func (r *RenameField) Apply(tree map[string]any) error {
	value, ok := valuetree.Remove(tree, splitPath(r.From))
	if !ok {
		return nil
	}
	return valuetree.Insert(tree, splitPath(r.To), value)
}

// ApplyToSchema moves the field declaration, renaming it after the last
// segment of the target path.
func (r *RenameField) ApplyToSchema(root *Struct) error {
	field, ok := removeSchemaField(root, splitPath(r.From))
	if !ok {
		return errFieldNotFound(r.From)
	}
	to := splitPath(r.To)
	field.Name = to[len(to)-1]
	insertSchemaField(root, to, field)
	return nil
}

func (r *RenameField) String() string {
	return fmt.Sprintf("&schema.RenameField{From: %q, To: %q}", r.From, r.To)
}

// DeleteField drops a field from data and schema. Missing fields are
// ignored.
type DeleteField struct {
	Path string
}

// Apply removes the value at Path if present.
func (r *DeleteField) Apply(tree map[string]any) error {
	valuetree.Remove(tree, splitPath(r.Path))
	return nil
}

// ApplyToSchema removes the field declaration if present.
func (r *DeleteField) ApplyToSchema(root *Struct) error {
	removeSchemaField(root, splitPath(r.Path))
	return nil
}

func (r *DeleteField) String() string {
	return fmt.Sprintf("&schema.DeleteField{Path: %q}", r.Path)
}

// MapFieldValue rewrites a field's value through a mapping function. The
// mapping is given either as a Go function or as an expression with the old
// value bound to x, compiled by Engine on first use.
type MapFieldValue struct {
	Path   string
	Expr   string
	Fn     func(any) (any, error)
	Engine mapexpr.Engine

	once   sync.Once
	mapper mapexpr.Mapper
	cerr   error
}

// Apply rewrites the value at Path if present.
func (r *MapFieldValue) Apply(tree map[string]any) error {
	path := splitPath(r.Path)
	value, ok := valuetree.Remove(tree, path)
	if !ok {
		return nil
	}
	mapped, err := r.mapValue(value)
	if err != nil {
		return err
	}
	return valuetree.Insert(tree, path, mapped)
}

// ApplyToSchema remaps enum variant values through the mapping function.
// Fields of any other type are left structurally unchanged.
func (r *MapFieldValue) ApplyToSchema(root *Struct) error {
	path := splitPath(r.Path)
	field, ok := removeSchemaField(root, path)
	if !ok {
		return errFieldNotFound(r.Path)
	}
	if enum, isEnum := field.Type.(*Enum); isEnum {
		variants := make([]Variant, len(enum.Variants))
		for i, v := range enum.Variants {
			mapped, err := r.mapValue(v.Value)
			if err != nil {
				return err
			}
			variants[i] = Variant{Name: v.Name, Value: mapped}
		}
		field.Type = &Enum{Name: enum.Name, Variants: variants, goType: enum.goType}
	}
	insertSchemaField(root, path, field)
	return nil
}

func (r *MapFieldValue) String() string {
	if r.Expr != "" {
		return fmt.Sprintf("&schema.MapFieldValue{Path: %q, Expr: %q}", r.Path, r.Expr)
	}
	return fmt.Sprintf("&schema.MapFieldValue{Path: %q}", r.Path)
}

func (r *MapFieldValue) mapValue(v any) (any, error) {
	if r.Fn != nil {
		out, err := r.Fn(v)
		if err != nil {
			return nil, err
		}
		return valuetree.Normalize(out), nil
	}
	r.once.Do(func() {
		engine := r.Engine
		if engine == nil {
			engine = mapexpr.DefaultEngine
		}
		r.mapper, r.cerr = engine.Compile(r.Expr)
	})
	if r.cerr != nil {
		return nil, r.cerr
	}
	out, err := r.mapper.Map(v)
	if err != nil {
		return nil, err
	}
	return valuetree.Normalize(out), nil
}

// ChangeDefault records a new default for a field. Trees that relied on the
// old default get the new default inserted so their behavior is preserved
// only when the field was never written; present values are kept.
type ChangeDefault struct {
	Path       string
	NewDefault any
}

// Apply inserts the new default when the field is absent.
func (r *ChangeDefault) Apply(tree map[string]any) error {
	path := splitPath(r.Path)
	if _, ok := valuetree.Get(tree, path); ok {
		return nil
	}
	return valuetree.Insert(tree, path, valuetree.Normalize(r.NewDefault))
}

// ApplyToSchema replaces the field's recorded default.
func (r *ChangeDefault) ApplyToSchema(root *Struct) error {
	path := splitPath(r.Path)
	field, ok := removeSchemaField(root, path)
	if !ok {
		return errFieldNotFound(r.Path)
	}
	field.Default = valuetree.Normalize(r.NewDefault)
	insertSchemaField(root, path, field)
	return nil
}

func (r *ChangeDefault) String() string {
	return fmt.Sprintf("&schema.ChangeDefault{Path: %q, NewDefault: %s}", r.Path, formatValue(r.NewDefault))
}

// AddDefault gives a field a default value, filling it into trees where the
// field is absent.
type AddDefault struct {
	Path    string
	Default any
}

// Apply inserts the default when the field is absent.
func (r *AddDefault) Apply(tree map[string]any) error {
	path := splitPath(r.Path)
	if _, ok := valuetree.Get(tree, path); ok {
		return nil
	}
	return valuetree.Insert(tree, path, valuetree.Normalize(r.Default))
}

// ApplyToSchema records the default on the field declaration, creating a
// placeholder declaration when the field does not exist yet.
func (r *AddDefault) ApplyToSchema(root *Struct) error {
	path := splitPath(r.Path)
	field, ok := removeSchemaField(root, path)
	if !ok {
		field = &Field{Name: path[len(path)-1], Type: &Nothing{}}
	} else {
		field.Default = valuetree.Normalize(r.Default)
		field.HasDefault = true
	}
	insertSchemaField(root, path, field)
	return nil
}

func (r *AddDefault) String() string {
	return fmt.Sprintf("&schema.AddDefault{Path: %q, Default: %s}", r.Path, formatValue(r.Default))
}

// CheckValue rejects trees whose value at Path falls outside an allowed set.
type CheckValue struct {
	Path    string
	Allowed []any
}

// Apply returns a DeprecatedValueError when the field is present with a
// value outside the allowed set.
func (r *CheckValue) Apply(tree map[string]any) error {
	value, ok := valuetree.Get(tree, splitPath(r.Path))
	if ok && !containsValue(r.Allowed, value) {
		return &DeprecatedValueError{Path: r.Path, Value: value, Allowed: normalizeValues(r.Allowed)}
	}
	return nil
}

// ApplyToSchema narrows the field's type to a literal of the allowed values.
func (r *CheckValue) ApplyToSchema(root *Struct) error {
	path := splitPath(r.Path)
	field, ok := removeSchemaField(root, path)
	if !ok {
		return errFieldNotFound(r.Path)
	}
	field.Type = &Literal{Allowed: normalizeValues(r.Allowed)}
	insertSchemaField(root, path, field)
	return nil
}

func (r *CheckValue) String() string {
	return fmt.Sprintf("&schema.CheckValue{Path: %q, Allowed: %s}", r.Path, formatValues(r.Allowed))
}

// RejectValues rejects trees whose value at Path falls inside a deprecated
// set.
type RejectValues struct {
	Path       string
	Disallowed []any
}

// Apply returns a DeprecatedValueError when the field is present with a
// disallowed value.
func (r *RejectValues) Apply(tree map[string]any) error {
	value, ok := valuetree.Get(tree, splitPath(r.Path))
	if ok && containsValue(r.Disallowed, value) {
		return &DeprecatedValueError{Path: r.Path, Value: value}
	}
	return nil
}

// ApplyToSchema removes the disallowed values from the field's literal type.
func (r *RejectValues) ApplyToSchema(root *Struct) error {
	path := splitPath(r.Path)
	field, ok := removeSchemaField(root, path)
	if !ok {
		return errFieldNotFound(r.Path)
	}
	lit, isLiteral := field.Type.(*Literal)
	if !isLiteral {
		return fmt.Errorf("schema: cannot reject values of field %q with non-literal type %s", r.Path, field.Type)
	}
	var allowed []any
	for _, v := range lit.Allowed {
		if !containsValue(r.Disallowed, v) {
			allowed = append(allowed, v)
		}
	}
	field.Type = &Literal{Allowed: allowed}
	insertSchemaField(root, path, field)
	return nil
}

func (r *RejectValues) String() string {
	return fmt.Sprintf("&schema.RejectValues{Path: %q, Disallowed: %s}", r.Path, formatValues(r.Disallowed))
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func errFieldNotFound(path string) error {
	return fmt.Errorf("schema: field %q not found", path)
}

// removeSchemaField removes and returns the field at path, descending
// through structs and unwrapping list and option containers between hops.
func removeSchemaField(root *Struct, path []string) (*Field, bool) {
	st := root
	for _, hop := range path[:len(path)-1] {
		f := st.Field(hop)
		if f == nil {
			return nil, false
		}
		next, ok := unwrapContainers(f.Type).(*Struct)
		if !ok {
			return nil, false
		}
		st = next
	}
	last := path[len(path)-1]
	for i, f := range st.Fields {
		if f.Name == last {
			st.Fields = append(st.Fields[:i], st.Fields[i+1:]...)
			return f, true
		}
	}
	return nil, false
}

// insertSchemaField places field at path, creating anonymous intermediate
// structs for missing hops. New fields are appended after existing ones.
func insertSchemaField(root *Struct, path []string, field *Field) {
	st := root
	for _, hop := range path[:len(path)-1] {
		f := st.Field(hop)
		if f == nil {
			f = &Field{Name: hop, Type: &Struct{Name: ""}}
			st.Fields = append(st.Fields, f)
		}
		next, ok := unwrapContainers(f.Type).(*Struct)
		if !ok {
			return
		}
		st = next
	}
	last := path[len(path)-1]
	for i, f := range st.Fields {
		if f.Name == last {
			st.Fields[i] = field
			return
		}
	}
	st.Fields = append(st.Fields, field)
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if valuetree.Equal(candidate, v) {
			return true
		}
	}
	return false
}

func normalizeValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = valuetree.Normalize(v)
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(t)
	case []any:
		return formatValues(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return "[]any{" + strings.Join(parts, ", ") + "}"
}
