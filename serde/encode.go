package serde

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/cswinter/hyperstate/schema"
)

// EncodeHook intercepts values on their way into the tree. Encode may
// substitute the value before the structural rules run; ModifyAttrs
// post-processes the encoded attributes of a record, with st carrying the
// record's schema.
type EncodeHook interface {
	Encode(v any, path string) (any, bool, error)
	ModifyAttrs(st *schema.Struct, v any, attrs *Attrs, path string)
}

// EncodeOption configures an encode run.
type EncodeOption func(*encoder)

// WithEncodeHooks appends hooks to the encode chain.
func WithEncodeHooks(hooks ...EncodeHook) EncodeOption {
	return func(e *encoder) {
		for _, hook := range hooks {
			if hook != nil {
				e.hooks = append(e.hooks, hook)
			}
		}
	}
}

type encoder struct {
	hooks []EncodeHook
}

func newEncoder(opts []EncodeOption) *encoder {
	e := &encoder{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Encode turns a Go value into a value tree. Records become *Attrs so field
// order survives rendering; enums encode as their variant value.
func Encode(v any, opts ...EncodeOption) (any, error) {
	e := newEncoder(opts)
	return e.encodeValue(v, "")
}

func (e *encoder) encodeValue(v any, path string) (any, error) {
	for _, hook := range e.hooks {
		nv, ok, err := hook.Encode(v, path)
		if err != nil {
			return nil, err
		}
		if ok {
			v = nv
		}
	}

	if v == nil {
		return nil, nil
	}
	if attrs, ok := v.(*Attrs); ok {
		return attrs, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return e.encodeValue(rv.Elem().Interface(), path)
	case reflect.Struct:
		return e.encodeStruct(rv, path)
	case reflect.Map:
		return e.encodeMap(rv, path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := e.encodeValue(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		return nil, &UnsupportedTypeError{Type: rv.Type().String(), Path: path}
	}
}

func (e *encoder) encodeStruct(rv reflect.Value, path string) (any, error) {
	st, err := schema.MaterializeStruct(rv.Type())
	if err != nil {
		return nil, fmt.Errorf("serde: encoding %s at %q: %w", rv.Type(), path, err)
	}
	if st.GoType() != rv.Type() {
		// Provider-backed types materialize as some other record and need an
		// encode hook to produce their tree form.
		return nil, &UnsupportedTypeError{Type: rv.Type().String(), Path: path}
	}
	attrs := NewAttrs()
	for _, field := range st.Fields {
		fv := rv.FieldByIndex(field.GoIndex()).Interface()
		encoded, err := e.encodeValue(fv, joinPath(path, field.Name))
		if err != nil {
			return nil, err
		}
		attrs.Set(field.Name, encoded)
	}
	for _, hook := range e.hooks {
		hook.ModifyAttrs(st, rv.Interface(), attrs, path)
	}
	return attrs, nil
}

func (e *encoder) encodeMap(rv reflect.Value, path string) (any, error) {
	type pair struct {
		key   string
		value reflect.Value
	}
	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{key: fmt.Sprint(iter.Key().Interface()), value: iter.Value()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	attrs := NewAttrs()
	for _, p := range pairs {
		encoded, err := e.encodeValue(p.value.Interface(), joinPath(path, p.key))
		if err != nil {
			return nil, err
		}
		attrs.Set(p.key, encoded)
	}
	return attrs, nil
}
