package valuetree

import (
	"fmt"
	"math"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Clone deep-copies a value tree of maps, slices and scalars. Unknown node
// kinds are returned as-is.
func Clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality of two value trees after numeric
// normalization, so an int8 and an int64 holding the same number compare
// equal while int and float stay distinct.
func Equal(a, b any) bool {
	return eq(Normalize(a), Normalize(b))
}

func eq(a, b any) bool {
	switch left := a.(type) {
	case map[string]any:
		right, ok := b.(map[string]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for k, lv := range left {
			rv, ok := right[k]
			if !ok || !eq(lv, rv) {
				return false
			}
		}
		return true
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !eq(left[i], right[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// Normalize canonicalizes a tree: every integer width collapses to int,
// float32 widens to float64, interface-keyed maps become string-keyed, and
// containers are rebuilt recursively.
func Normalize(v any) any {
	switch node := v.(type) {
	case nil:
		return nil
	case bool, string, int, float64:
		return node
	case int8:
		return int(node)
	case int16:
		return int(node)
	case int32:
		return int(node)
	case int64:
		return int(node)
	case uint:
		return int(node)
	case uint8:
		return int(node)
	case uint16:
		return int(node)
	case uint32:
		return int(node)
	case uint64:
		return int(node)
	case float32:
		return float64(node)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = Normalize(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = Normalize(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = Normalize(child)
		}
		return out
	default:
		return v
	}
}

// Get resolves a path of map keys inside tree. The bool result is false when
// any hop is missing or not a map.
func Get(tree any, path []string) (any, bool) {
	node := tree
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Insert writes value at path inside tree, creating intermediate maps for
// missing hops. It fails when an existing hop is not a map.
func Insert(tree map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("valuetree: empty path")
	}
	node := tree
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg]
		if !ok {
			next := map[string]any{}
			node[seg] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("valuetree: %q is not a map", seg)
		}
		node = next
	}
	node[path[len(path)-1]] = value
	return nil
}

// Remove deletes the value at path and returns it. The bool result is false
// when the path does not resolve.
func Remove(tree map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	node := tree
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		node = child
	}
	value, ok := node[path[len(path)-1]]
	if !ok {
		return nil, false
	}
	delete(node, path[len(path)-1])
	return value, true
}

// ParseScalar interprets a literal the way the text format would: YAML
// scalar rules, normalized to the canonical tree representation.
func ParseScalar(s string) (any, error) {
	var out any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("valuetree: parse %q: %w", s, err)
	}
	return Normalize(out), nil
}

// ExactInt reports whether f carries an integer value that survives a
// round-trip through int.
func ExactInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	n := int(f)
	if float64(n) == f {
		return n, true
	}
	return 0, false
}
