package serde

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/cswinter/hyperstate/internal/valuetree"
	"github.com/cswinter/hyperstate/schema"
)

// DecodeResult is a hook's verdict on one tree node. Replace substitutes
// Value for the raw node and decoding continues; Done short-circuits with
// Value as the final decoded Go value.
type DecodeResult struct {
	Value   any
	Replace bool
	Done    bool
}

// DecodeHook intercepts tree nodes before the structural decode rules run.
// Hooks run in registration order; the first Done verdict wins.
type DecodeHook interface {
	Decode(ty schema.Type, raw any, path string) (DecodeResult, error)
}

// DecodeHookFunc adapts a function to the DecodeHook interface.
type DecodeHookFunc func(ty schema.Type, raw any, path string) (DecodeResult, error)

// Decode implements DecodeHook.
func (f DecodeHookFunc) Decode(ty schema.Type, raw any, path string) (DecodeResult, error) {
	if f == nil {
		return DecodeResult{}, nil
	}
	return f(ty, raw, path)
}

// TypedDecodeHook is implemented by hooks that also need the Go type a node
// decodes into, for example to construct wrapper values around it. The
// decoder calls DecodeTyped instead of Decode when a hook provides it.
type TypedDecodeHook interface {
	DecodeTyped(rt reflect.Type, ty schema.Type, raw any, path string) (DecodeResult, error)
}

// DecodeOption configures a decode run.
type DecodeOption func(*decoder)

// WithDecodeHooks appends hooks to the decode chain.
func WithDecodeHooks(hooks ...DecodeHook) DecodeOption {
	return func(d *decoder) {
		for _, hook := range hooks {
			if hook != nil {
				d.hooks = append(d.hooks, hook)
			}
		}
	}
}

// IgnoreExtraFields makes the decoder skip document keys the target record
// does not declare instead of failing.
func IgnoreExtraFields() DecodeOption {
	return func(d *decoder) {
		d.ignoreExtra = true
	}
}

type decoder struct {
	hooks       []DecodeHook
	ignoreExtra bool
}

func newDecoder(opts []DecodeOption) *decoder {
	d := &decoder{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode turns a parsed value tree into the Go value backing ty. The type
// must carry Go bindings, so it has to come from Materialize rather than a
// snapshot.
func Decode(ty schema.Type, raw any, opts ...DecodeOption) (any, error) {
	d := newDecoder(opts)
	rt, err := goTypeFor(ty)
	if err != nil {
		return nil, err
	}
	v, err := d.decodeValue(rt, ty, raw, "")
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// DecodeInto decodes raw per ty into the value target points at.
func DecodeInto(ty schema.Type, raw any, target any, opts ...DecodeOption) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("serde: target must be a non-nil pointer, got %T", target)
	}
	d := newDecoder(opts)
	v, err := d.decodeValue(rv.Type().Elem(), ty, raw, "")
	if err != nil {
		return err
	}
	rv.Elem().Set(v)
	return nil
}

func (d *decoder) decodeValue(rt reflect.Type, ty schema.Type, raw any, path string) (reflect.Value, error) {
	if ty == nil {
		return reflect.Value{}, fmt.Errorf("serde: missing type at %q", path)
	}

	if opt, ok := ty.(*schema.Option); ok {
		if raw == nil {
			return reflect.Zero(rt), nil
		}
		if rt.Kind() == reflect.Pointer {
			inner, err := d.decodeValue(rt.Elem(), opt.Inner, raw, path)
			if err != nil {
				return reflect.Value{}, err
			}
			p := reflect.New(rt.Elem())
			p.Elem().Set(inner)
			return p, nil
		}
		ty = opt.Inner
	}

	for _, hook := range d.hooks {
		var res DecodeResult
		var err error
		if typed, ok := hook.(TypedDecodeHook); ok {
			res, err = typed.DecodeTyped(rt, ty, raw, path)
		} else {
			res, err = hook.Decode(ty, raw, path)
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if res.Done {
			return d.finalValue(rt, ty, res.Value, path)
		}
		if res.Replace {
			raw = res.Value
		}
	}

	switch t := ty.(type) {
	case *schema.Primitive:
		return d.decodePrimitive(rt, t, raw, path)
	case *schema.Literal:
		if !containsTreeValue(t.Allowed, raw) {
			return reflect.Value{}, &ValueOutOfRangeError{Path: path, Value: raw, Allowed: t.Allowed}
		}
		return d.finalValue(rt, ty, valuetree.Normalize(raw), path)
	case *schema.List:
		return d.decodeList(rt, t, raw, path)
	case *schema.Dict:
		return d.decodeDict(rt, t, raw, path)
	case *schema.Struct:
		return d.decodeStruct(rt, t, raw, path)
	case *schema.Enum:
		return d.decodeEnum(rt, t, raw, path)
	default:
		return reflect.Value{}, &UnsupportedTypeError{Type: ty.String(), Path: path}
	}
}

func (d *decoder) decodePrimitive(rt reflect.Type, p *schema.Primitive, raw any, path string) (reflect.Value, error) {
	raw = valuetree.Normalize(raw)
	switch p.Kind {
	case schema.KindInt:
		switch v := raw.(type) {
		case int:
			return d.finalValue(rt, p, v, path)
		case float64:
			if n, ok := valuetree.ExactInt(v); ok {
				return d.finalValue(rt, p, n, path)
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				if n, ok := valuetree.ExactInt(f); ok {
					return d.finalValue(rt, p, n, path)
				}
			}
		}
	case schema.KindFloat:
		switch v := raw.(type) {
		case float64:
			return d.finalValue(rt, p, v, path)
		case int:
			return d.finalValue(rt, p, float64(v), path)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return d.finalValue(rt, p, f, path)
			}
		}
	case schema.KindStr:
		if v, ok := raw.(string); ok {
			return d.finalValue(rt, p, v, path)
		}
	case schema.KindBool:
		if v, ok := raw.(bool); ok {
			return d.finalValue(rt, p, v, path)
		}
	}
	return reflect.Value{}, &TypeMismatchError{Path: path, Type: p.String(), Value: raw}
}

func (d *decoder) decodeList(rt reflect.Type, l *schema.List, raw any, path string) (reflect.Value, error) {
	items, ok := valuetree.Normalize(raw).([]any)
	if !ok {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: l.String(), Value: raw}
	}
	if rt.Kind() != reflect.Slice {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: l.String(), Value: raw}
	}
	out := reflect.MakeSlice(rt, len(items), len(items))
	for i, item := range items {
		elem, err := d.decodeValue(rt.Elem(), l.Inner, item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

func (d *decoder) decodeDict(rt reflect.Type, dict *schema.Dict, raw any, path string) (reflect.Value, error) {
	if attrs, ok := raw.(*Attrs); ok {
		raw = attrs.Tree()
	}
	entries, ok := valuetree.Normalize(raw).(map[string]any)
	if !ok {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: dict.String(), Value: raw}
	}
	if rt.Kind() != reflect.Map {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: dict.String(), Value: raw}
	}
	out := reflect.MakeMapWithSize(rt, len(entries))
	for key, value := range entries {
		kv, err := d.decodeKey(rt.Key(), dict.Key, key, path)
		if err != nil {
			return reflect.Value{}, err
		}
		vv, err := d.decodeValue(rt.Elem(), dict.Val, value, joinPath(path, key))
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(kv, vv)
	}
	return out, nil
}

func (d *decoder) decodeKey(rt reflect.Type, ty schema.Type, key string, path string) (reflect.Value, error) {
	switch t := ty.(type) {
	case *schema.Primitive:
		switch t.Kind {
		case schema.KindStr:
			return d.finalValue(rt, ty, key, path)
		case schema.KindInt:
			n, err := strconv.Atoi(key)
			if err != nil {
				return reflect.Value{}, &TypeMismatchError{Path: joinPath(path, key), Type: t.String(), Value: key}
			}
			return d.finalValue(rt, ty, n, path)
		}
	}
	return reflect.Value{}, &UnsupportedTypeError{Type: fmt.Sprintf("dict key %s", ty), Path: path}
}

func (d *decoder) decodeStruct(rt reflect.Type, st *schema.Struct, raw any, path string) (reflect.Value, error) {
	if attrs, ok := raw.(*Attrs); ok {
		raw = attrs.Tree()
	}
	entries, ok := valuetree.Normalize(raw).(map[string]any)
	if !ok {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: st.String(), Value: raw}
	}
	if rt.Kind() != reflect.Struct {
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: st.String(), Value: raw}
	}
	if st.GoType() != nil && st.GoType() != rt {
		// Provider-backed wrapper types cannot take an inline record; their
		// decode hook has to produce the value.
		return reflect.Value{}, &TypeMismatchError{Path: path, Type: st.String(), Value: raw}
	}

	if !d.ignoreExtra {
		extras := make([]string, 0, len(entries))
		for key := range entries {
			if st.Field(key) == nil {
				extras = append(extras, key)
			}
		}
		if len(extras) > 0 {
			sort.Strings(extras)
			return reflect.Value{}, &ExtraFieldError{Struct: st.Name, Field: extras[0], Path: path}
		}
	}

	out := reflect.New(rt).Elem()
	for _, field := range st.Fields {
		target := out.FieldByIndex(field.GoIndex())
		fieldPath := joinPath(path, field.Name)
		if value, ok := entries[field.Name]; ok {
			fv, err := d.decodeValue(field.GoType(), field.Type, value, fieldPath)
			if err != nil {
				return reflect.Value{}, err
			}
			target.Set(fv)
			continue
		}
		if field.HasDefault {
			fv, err := d.decodeValue(field.GoType(), field.Type, field.Default, fieldPath)
			if err != nil {
				return reflect.Value{}, err
			}
			target.Set(fv)
			continue
		}
		if nested, ok := field.Type.(*schema.Struct); ok && nested.GoType() == field.GoType() {
			fv, err := d.decodeValue(field.GoType(), nested, map[string]any{}, fieldPath)
			if err != nil {
				return reflect.Value{}, err
			}
			target.Set(fv)
			continue
		}
		return reflect.Value{}, &MissingFieldError{Path: fieldPath, Type: field.Type.String()}
	}
	return out, nil
}

func (d *decoder) decodeEnum(rt reflect.Type, e *schema.Enum, raw any, path string) (reflect.Value, error) {
	normalized := valuetree.Normalize(raw)
	if variant, ok := e.VariantByValue(normalized); ok {
		return d.finalValue(rt, e, variant.Value, path)
	}
	if name, ok := normalized.(string); ok {
		if variant, ok := e.Variant(name); ok {
			return d.finalValue(rt, e, variant.Value, path)
		}
	}
	allowed := make([]any, len(e.Variants))
	for i, variant := range e.Variants {
		allowed[i] = variant.Value
	}
	return reflect.Value{}, &ValueOutOfRangeError{Path: path, Value: raw, Allowed: allowed}
}

// finalValue adapts a decoded plain value to the target Go type.
func (d *decoder) finalValue(rt reflect.Type, ty schema.Type, value any, path string) (reflect.Value, error) {
	if rt == nil {
		return reflect.Value{}, fmt.Errorf("serde: %s is not backed by a Go type at %q", ty, path)
	}
	if value == nil {
		return reflect.Zero(rt), nil
	}
	rv := reflect.ValueOf(value)
	if rt.Kind() == reflect.Interface {
		return rv, nil
	}
	if rv.Type().AssignableTo(rt) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(rt) && compatibleKinds(rv.Kind(), rt.Kind()) {
		return rv.Convert(rt), nil
	}
	return reflect.Value{}, &TypeMismatchError{Path: path, Type: ty.String(), Value: value}
}

func compatibleKinds(from, to reflect.Kind) bool {
	return kindClass(from) == kindClass(to)
}

func kindClass(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	default:
		return 0
	}
}

func containsTreeValue(values []any, v any) bool {
	for _, candidate := range values {
		if valuetree.Equal(candidate, v) {
			return true
		}
	}
	return false
}

func joinPath(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "." + segment
}

// goTypeFor reconstructs the Go type behind a materialized schema type.
func goTypeFor(ty schema.Type) (reflect.Type, error) {
	switch t := ty.(type) {
	case *schema.Struct:
		if t.GoType() == nil {
			return nil, fmt.Errorf("serde: %s is not backed by a Go type", t)
		}
		return t.GoType(), nil
	case *schema.Enum:
		if t.GoType() == nil {
			return nil, fmt.Errorf("serde: %s is not backed by a Go type", t)
		}
		return t.GoType(), nil
	case *schema.Primitive:
		switch t.Kind {
		case schema.KindInt:
			return reflect.TypeOf(int(0)), nil
		case schema.KindFloat:
			return reflect.TypeOf(float64(0)), nil
		case schema.KindStr:
			return reflect.TypeOf(""), nil
		case schema.KindBool:
			return reflect.TypeOf(false), nil
		}
	case *schema.List:
		inner, err := goTypeFor(t.Inner)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(inner), nil
	case *schema.Dict:
		key, err := goTypeFor(t.Key)
		if err != nil {
			return nil, err
		}
		val, err := goTypeFor(t.Val)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, val), nil
	case *schema.Option:
		inner, err := goTypeFor(t.Inner)
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(inner), nil
	case *schema.Literal:
		if len(t.Allowed) > 0 {
			return reflect.TypeOf(t.Allowed[0]), nil
		}
	}
	return nil, &UnsupportedTypeError{Type: ty.String()}
}
