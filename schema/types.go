package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// PrimitiveKind enumerates the scalar kinds of the type universe.
type PrimitiveKind string

const (
	KindInt   PrimitiveKind = "int"
	KindFloat PrimitiveKind = "float"
	KindStr   PrimitiveKind = "str"
	KindBool  PrimitiveKind = "bool"
)

// Type is one node of the schema type universe. The implementation set is
// closed: Primitive, List, Dict, Union, Option, Struct, Enum, Literal and
// Nothing.
type Type interface {
	String() string
	// Equal reports structural equality. Enum variants and literal values
	// compare as sets; struct fields compare by name, type and default,
	// ignoring declaration order and docstrings.
	Equal(other Type) bool
	isType()
}

// Primitive is a scalar type.
type Primitive struct {
	Kind PrimitiveKind
}

// List is a homogeneous sequence.
type List struct {
	Inner Type
}

// Dict is a homogeneous mapping.
type Dict struct {
	Key Type
	Val Type
}

// Union is a sum of alternatives. Unions are representable and survive
// snapshot round-trips, but Materialize never produces one and the diff and
// decode engines reject them.
type Union struct {
	Variants []Type
}

// Option wraps a type that may also be null.
type Option struct {
	Inner Type
}

// Field is a single struct member. Default is only meaningful when
// HasDefault is set.
type Field struct {
	Name       string
	Type       Type
	Default    any
	HasDefault bool
	Docstring  string

	goIndex []int
	goType  reflect.Type
}

// Struct is a named record with ordered fields. Version is non-nil when the
// backing Go type declares one.
type Struct struct {
	Name    string
	Fields  []*Field
	Version *int

	goType reflect.Type
}

// Variant is a single named enum value.
type Variant struct {
	Name  string
	Value any
}

// Enum is a named, closed set of variants.
type Enum struct {
	Name     string
	Variants []Variant

	goType reflect.Type
}

// Literal is an anonymous closed set of permitted scalar values.
type Literal struct {
	Allowed []any
}

// Nothing is the bottom type. It appears only in migration intermediate
// states, never in materialized schemas.
type Nothing struct{}

func (*Primitive) isType() {}
func (*List) isType()      {}
func (*Dict) isType()      {}
func (*Union) isType()     {}
func (*Option) isType()    {}
func (*Struct) isType()    {}
func (*Enum) isType()      {}
func (*Literal) isType()   {}
func (*Nothing) isType()   {}

// Int returns the int primitive.
func Int() *Primitive { return &Primitive{Kind: KindInt} }

// Float returns the float primitive.
func Float() *Primitive { return &Primitive{Kind: KindFloat} }

// Str returns the str primitive.
func Str() *Primitive { return &Primitive{Kind: KindStr} }

// Bool returns the bool primitive.
func Bool() *Primitive { return &Primitive{Kind: KindBool} }

// ListOf wraps inner in a List.
func ListOf(inner Type) *List { return &List{Inner: inner} }

// DictOf builds a Dict from key and value types.
func DictOf(key, val Type) *Dict { return &Dict{Key: key, Val: val} }

// OptionOf wraps inner in an Option. Wrapping an Option is a no-op.
func OptionOf(inner Type) *Option {
	if opt, ok := inner.(*Option); ok {
		return opt
	}
	return &Option{Inner: inner}
}

// UnionOf builds a Union over the given alternatives.
func UnionOf(variants ...Type) *Union { return &Union{Variants: variants} }

// LiteralOf builds a Literal over the given values.
func LiteralOf(values ...any) *Literal { return &Literal{Allowed: values} }

func (p *Primitive) String() string { return string(p.Kind) }
func (l *List) String() string      { return fmt.Sprintf("list[%s]", l.Inner) }
func (d *Dict) String() string      { return fmt.Sprintf("dict[%s, %s]", d.Key, d.Val) }
func (o *Option) String() string    { return o.Inner.String() + "?" }
func (s *Struct) String() string    { return s.Name }
func (e *Enum) String() string      { return e.Name }
func (*Nothing) String() string     { return "nothing" }

func (u *Union) String() string {
	parts := make([]string, len(u.Variants))
	for i, v := range u.Variants {
		parts[i] = v.String()
	}
	return fmt.Sprintf("union[%s]", strings.Join(parts, ", "))
}

func (l *Literal) String() string {
	parts := make([]string, len(l.Allowed))
	for i, v := range l.Allowed {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("literal[%s]", strings.Join(parts, ", "))
}

func (p *Primitive) Equal(other Type) bool {
	o, ok := other.(*Primitive)
	return ok && p.Kind == o.Kind
}

func (l *List) Equal(other Type) bool {
	o, ok := other.(*List)
	return ok && l.Inner.Equal(o.Inner)
}

func (d *Dict) Equal(other Type) bool {
	o, ok := other.(*Dict)
	return ok && d.Key.Equal(o.Key) && d.Val.Equal(o.Val)
}

func (o *Option) Equal(other Type) bool {
	oo, ok := other.(*Option)
	return ok && o.Inner.Equal(oo.Inner)
}

func (*Nothing) Equal(other Type) bool {
	_, ok := other.(*Nothing)
	return ok
}

func (u *Union) Equal(other Type) bool {
	o, ok := other.(*Union)
	if !ok || len(u.Variants) != len(o.Variants) {
		return false
	}
	used := make([]bool, len(o.Variants))
	for _, v := range u.Variants {
		found := false
		for i, ov := range o.Variants {
			if !used[i] && v.Equal(ov) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (l *Literal) Equal(other Type) bool {
	o, ok := other.(*Literal)
	if !ok || len(l.Allowed) != len(o.Allowed) {
		return false
	}
	used := make([]bool, len(o.Allowed))
	for _, v := range l.Allowed {
		found := false
		for i, ov := range o.Allowed {
			if !used[i] && valuetree.Equal(v, ov) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Enum) Equal(other Type) bool {
	o, ok := other.(*Enum)
	if !ok || e.Name != o.Name || len(e.Variants) != len(o.Variants) {
		return false
	}
	for _, v := range e.Variants {
		ov, ok := o.Variant(v.Name)
		if !ok || !valuetree.Equal(v.Value, ov.Value) {
			return false
		}
	}
	return true
}

func (s *Struct) Equal(other Type) bool {
	o, ok := other.(*Struct)
	if !ok || s.Name != o.Name || len(s.Fields) != len(o.Fields) {
		return false
	}
	if (s.Version == nil) != (o.Version == nil) {
		return false
	}
	if s.Version != nil && *s.Version != *o.Version {
		return false
	}
	for _, f := range s.Fields {
		of := o.Field(f.Name)
		if of == nil || !f.equal(of) {
			return false
		}
	}
	return true
}

func (f *Field) equal(other *Field) bool {
	if f.Name != other.Name || f.HasDefault != other.HasDefault {
		return false
	}
	if !f.Type.Equal(other.Type) {
		return false
	}
	if f.HasDefault && !valuetree.Equal(f.Default, other.Default) {
		return false
	}
	return true
}

// Variant looks up an enum variant by name.
func (e *Enum) Variant(name string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantByValue looks up an enum variant by value.
func (e *Enum) VariantByValue(value any) (Variant, bool) {
	for _, v := range e.Variants {
		if valuetree.Equal(v.Value, value) {
			return v, true
		}
	}
	return Variant{}, false
}

// Field returns the named field or nil.
func (s *Struct) Field(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindField resolves a dotted field path, unwrapping Option layers between
// hops. It returns nil when a hop is missing or does not lead to a struct.
func (s *Struct) FindField(path []string) *Field {
	if len(path) == 0 {
		return nil
	}
	f := s.Field(path[0])
	if f == nil || len(path) == 1 {
		return f
	}
	ty := f.Type
	for {
		opt, ok := ty.(*Option)
		if !ok {
			break
		}
		ty = opt.Inner
	}
	inner, ok := ty.(*Struct)
	if !ok {
		return nil
	}
	return inner.FindField(path[1:])
}

// Clone deep-copies a type tree. Go type bindings recorded by Materialize
// are shared, not duplicated.
func Clone(t Type) Type {
	switch node := t.(type) {
	case *Primitive:
		c := *node
		return &c
	case *List:
		return &List{Inner: Clone(node.Inner)}
	case *Dict:
		return &Dict{Key: Clone(node.Key), Val: Clone(node.Val)}
	case *Option:
		return &Option{Inner: Clone(node.Inner)}
	case *Union:
		variants := make([]Type, len(node.Variants))
		for i, v := range node.Variants {
			variants[i] = Clone(v)
		}
		return &Union{Variants: variants}
	case *Literal:
		allowed := make([]any, len(node.Allowed))
		for i, v := range node.Allowed {
			allowed[i] = valuetree.Clone(v)
		}
		return &Literal{Allowed: allowed}
	case *Enum:
		variants := make([]Variant, len(node.Variants))
		for i, v := range node.Variants {
			variants[i] = Variant{Name: v.Name, Value: valuetree.Clone(v.Value)}
		}
		return &Enum{Name: node.Name, Variants: variants, goType: node.goType}
	case *Struct:
		return node.Clone()
	case *Nothing:
		return &Nothing{}
	default:
		return t
	}
}

// Clone deep-copies the struct and its field tree.
func (s *Struct) Clone() *Struct {
	out := &Struct{Name: s.Name, goType: s.goType}
	if s.Version != nil {
		v := *s.Version
		out.Version = &v
	}
	out.Fields = make([]*Field, len(s.Fields))
	for i, f := range s.Fields {
		out.Fields[i] = f.clone()
	}
	return out
}

func (f *Field) clone() *Field {
	return &Field{
		Name:       f.Name,
		Type:       Clone(f.Type),
		Default:    valuetree.Clone(f.Default),
		HasDefault: f.HasDefault,
		Docstring:  f.Docstring,
		goIndex:    f.goIndex,
		goType:     f.goType,
	}
}

// GoType exposes the reflect binding Materialize recorded, or nil for
// snapshot-loaded schemas.
func (s *Struct) GoType() reflect.Type { return s.goType }

// GoType exposes the reflect binding Materialize recorded, or nil for
// snapshot-loaded schemas.
func (e *Enum) GoType() reflect.Type { return e.goType }

// GoType exposes the reflect type of the backing Go struct field, or nil
// for snapshot-loaded schemas.
func (f *Field) GoType() reflect.Type { return f.goType }

// GoIndex exposes the reflect field index path of the backing Go struct
// field, or nil for snapshot-loaded schemas.
func (f *Field) GoIndex() []int { return f.goIndex }

// unwrapContainers strips List and Option layers until it reaches a type
// that is neither.
func unwrapContainers(t Type) Type {
	for {
		switch node := t.(type) {
		case *List:
			t = node.Inner
		case *Option:
			t = node.Inner
		default:
			return t
		}
	}
}
