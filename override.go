package hyperstate

import (
	"fmt"
	"strings"

	"github.com/cswinter/hyperstate/internal/valuetree"
	"github.com/cswinter/hyperstate/schema"
	"github.com/cswinter/hyperstate/serde"
)

// overrideHook rewrites the root document with `dotted.path=value` overrides
// before typed decoding runs. Paths are validated against the target schema
// and literals parse per the declared field type.
type overrideHook struct {
	overrides []string
	applied   bool
}

// Decode implements serde.DecodeHook.
func (h *overrideHook) Decode(ty schema.Type, raw any, path string) (serde.DecodeResult, error) {
	if h.applied || path != "" {
		return serde.DecodeResult{}, nil
	}
	st, ok := ty.(*schema.Struct)
	if !ok {
		return serde.DecodeResult{}, nil
	}
	tree, ok := valuetree.Normalize(raw).(map[string]any)
	if !ok {
		return serde.DecodeResult{}, nil
	}
	h.applied = true
	merged, err := applyOverrides(st, tree, h.overrides)
	if err != nil {
		return serde.DecodeResult{}, err
	}
	return serde.DecodeResult{Value: merged, Replace: true}, nil
}

func applyOverrides(st *schema.Struct, tree map[string]any, overrides []string) (map[string]any, error) {
	out, _ := valuetree.Clone(tree).(map[string]any)
	var missing []*FieldNotFoundError
	for _, override := range overrides {
		parts := strings.SplitN(override, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("hyperstate: invalid override %q, expected field.name=value", override)
		}
		key, literal := parts[0], parts[1]
		fieldPath := strings.Split(key, ".")
		field := st.FindField(fieldPath)
		if field == nil {
			missing = append(missing, &FieldNotFoundError{Field: key, Struct: st.Name})
			continue
		}
		value, err := parseOverrideValue(field.Type, literal)
		if err != nil {
			return nil, fmt.Errorf("hyperstate: override %s: %w", key, err)
		}
		if err := valuetree.Insert(out, fieldPath, value); err != nil {
			return nil, fmt.Errorf("hyperstate: override %s: %w", key, err)
		}
	}
	switch len(missing) {
	case 0:
		return out, nil
	case 1:
		return nil, missing[0]
	default:
		return nil, &FieldsNotFoundError{Errors: missing}
	}
}

// parseOverrideValue interprets an override literal against the declared
// field type. Optional fields accept null and otherwise parse as the inner
// type.
func parseOverrideValue(ty schema.Type, literal string) (any, error) {
	if opt, ok := ty.(*schema.Option); ok {
		if literal == "null" || literal == "~" {
			return nil, nil
		}
		ty = opt.Inner
	}
	return schema.ParseLiteral(ty, literal)
}
