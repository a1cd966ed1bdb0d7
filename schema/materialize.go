package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/stoewer/go-strcase"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// Enumerated marks a Go type whose values form a closed, ordered variant
// set. Materialize turns such types into Enum nodes.
type Enumerated interface {
	EnumVariants() []Variant
}

// TypeProvider lets a Go type supply its own schema node instead of being
// reflected field by field.
type TypeProvider interface {
	SchemaType() (Type, error)
}

var (
	enumeratedIface = reflect.TypeOf((*Enumerated)(nil)).Elem()
	providerIface   = reflect.TypeOf((*TypeProvider)(nil)).Elem()
	versionedIface  = reflect.TypeOf((*Versioned)(nil)).Elem()
)

// Materialize derives the schema type of a Go type. Structs map to Struct
// nodes field by field, pointers to Option, slices to List, maps to Dict.
// Types implementing Enumerated become Enum nodes and types implementing
// TypeProvider supply their node themselves.
func Materialize(t reflect.Type) (Type, error) {
	m := &materializer{active: map[reflect.Type]bool{}}
	return m.typeOf(t)
}

// MaterializeOf derives the schema type of T.
func MaterializeOf[T any]() (Type, error) {
	return Materialize(reflect.TypeOf((*T)(nil)).Elem())
}

// MaterializeStruct derives the schema of a Go struct type.
func MaterializeStruct(t reflect.Type) (*Struct, error) {
	ty, err := Materialize(t)
	if err != nil {
		return nil, err
	}
	s, ok := ty.(*Struct)
	if !ok {
		return nil, &UnsupportedTypeError{GoType: t, Reason: "not a struct"}
	}
	return s, nil
}

// StructOf derives the schema of the Go struct type T.
func StructOf[T any]() (*Struct, error) {
	return MaterializeStruct(reflect.TypeOf((*T)(nil)).Elem())
}

type materializer struct {
	active map[reflect.Type]bool
}

func (m *materializer) typeOf(t reflect.Type) (Type, error) {
	if provided, ok := implementationOf(t, providerIface); ok {
		return provided.(TypeProvider).SchemaType()
	}
	if enumerated, ok := implementationOf(t, enumeratedIface); ok {
		return enumType(t, enumerated.(Enumerated)), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(), nil
	case reflect.Float32, reflect.Float64:
		return Float(), nil
	case reflect.String:
		return Str(), nil
	case reflect.Slice:
		inner, err := m.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return ListOf(inner), nil
	case reflect.Map:
		key, err := m.typeOf(t.Key())
		if err != nil {
			return nil, err
		}
		val, err := m.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return DictOf(key, val), nil
	case reflect.Pointer:
		inner, err := m.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return OptionOf(inner), nil
	case reflect.Struct:
		return m.structOf(t)
	default:
		return nil, &UnsupportedTypeError{GoType: t}
	}
}

func (m *materializer) structOf(t reflect.Type) (*Struct, error) {
	if m.active[t] {
		return nil, &UnsupportedTypeError{GoType: t, Reason: "recursive type"}
	}
	m.active[t] = true
	defer delete(m.active, t)

	out := &Struct{Name: t.Name(), goType: t}
	if version, ok := versionOfType(t); ok {
		out.Version = &version
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, skip := fieldName(sf)
		if skip {
			continue
		}

		fieldType, err := m.fieldType(sf)
		if err != nil {
			return nil, fmt.Errorf("schema: field %s.%s: %w", t.Name(), name, err)
		}

		field := &Field{
			Name:      name,
			Type:      fieldType,
			Docstring: sf.Tag.Get("doc"),
			goIndex:   sf.Index,
			goType:    sf.Type,
		}
		if raw, ok := sf.Tag.Lookup("default"); ok {
			def, err := parseDefault(fieldType, raw)
			if err != nil {
				return nil, fmt.Errorf("schema: field %s.%s: %w", t.Name(), name, err)
			}
			field.Default = def
			field.HasDefault = true
		}
		out.Fields = append(out.Fields, field)
	}
	return out, nil
}

func (m *materializer) fieldType(sf reflect.StructField) (Type, error) {
	raw, ok := sf.Tag.Lookup("oneof")
	if !ok {
		return m.typeOf(sf.Type)
	}

	base := sf.Type
	pointers := 0
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
		pointers++
	}
	values, err := literalValues(base, raw)
	if err != nil {
		return nil, err
	}
	var ty Type = LiteralOf(values...)
	for ; pointers > 0; pointers-- {
		ty = OptionOf(ty)
	}
	return ty, nil
}

func literalValues(base reflect.Type, raw string) ([]any, error) {
	parts := strings.Split(raw, ",")
	values := make([]any, 0, len(parts))
	switch base.Kind() {
	case reflect.String:
		for _, p := range parts {
			values = append(values, strings.TrimSpace(p))
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("oneof value %q is not an int", strings.TrimSpace(p))
			}
			values = append(values, n)
		}
	default:
		return nil, &UnsupportedTypeError{GoType: base, Reason: "oneof tags require a string or int field"}
	}
	return values, nil
}

// ParseLiteral interprets a textual literal against a declared type the way
// the override grammar does: str fields take the text verbatim, bool fields
// accept a fixed token set, everything else parses as a scalar of the text
// format.
func ParseLiteral(t Type, raw string) (any, error) {
	if prim, ok := t.(*Primitive); ok {
		switch prim.Kind {
		case KindStr:
			return raw, nil
		case KindBool:
			switch raw {
			case "True", "true", "1", "t", "T":
				return true, nil
			case "False", "false", "0", "f", "F":
				return false, nil
			default:
				return nil, fmt.Errorf("schema: cannot parse %q as bool", raw)
			}
		}
	}
	return valuetree.ParseScalar(raw)
}

func parseDefault(t Type, raw string) (any, error) {
	value, err := ParseLiteral(t, raw)
	if err != nil {
		return nil, err
	}
	if enum, ok := unwrapContainers(t).(*Enum); ok {
		if v, ok := enum.VariantByValue(value); ok {
			return v.Value, nil
		}
		if name, ok := value.(string); ok {
			if v, ok := enum.Variant(name); ok {
				return v.Value, nil
			}
		}
		return nil, fmt.Errorf("schema: default %q is not a variant of %s", raw, enum.Name)
	}
	return value, nil
}

func fieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("hyperstate")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		return tag, false
	}
	return strcase.SnakeCase(sf.Name), false
}

func enumType(t reflect.Type, e Enumerated) *Enum {
	declared := e.EnumVariants()
	variants := make([]Variant, len(declared))
	for i, v := range declared {
		variants[i] = Variant{Name: v.Name, Value: valuetree.Normalize(v.Value)}
	}
	return &Enum{Name: t.Name(), Variants: variants, goType: t}
}

func versionOfType(t reflect.Type) (int, bool) {
	impl, ok := implementationOf(t, versionedIface)
	if !ok {
		return 0, false
	}
	return impl.(Versioned).Version(), true
}

// implementationOf instantiates a zero value of t (or *t) when it satisfies
// the interface.
func implementationOf(t reflect.Type, iface reflect.Type) (any, bool) {
	if t.Implements(iface) {
		return reflect.New(t).Elem().Interface(), true
	}
	if reflect.PointerTo(t).Implements(iface) {
		return reflect.New(t).Interface(), true
	}
	return nil, false
}
