package hyperstate

import (
	"fmt"

	"github.com/cswinter/hyperstate/internal/valuetree"
	"github.com/cswinter/hyperstate/schema"
	"github.com/cswinter/hyperstate/serde"
)

// versionHook pops the version field off the root document of a Versioned
// target and replays the upgrade rules that bring the tree up to the current
// version. The report of applied rules is kept for the caller.
type versionHook struct {
	target       schema.Versioned
	allowMissing bool
	report       *schema.UpgradeReport
}

// Decode implements serde.DecodeHook.
func (h *versionHook) Decode(ty schema.Type, raw any, path string) (serde.DecodeResult, error) {
	if path != "" || h.target == nil {
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

	from := 0
	if v, ok := tree["version"]; ok {
		n, ok := v.(int)
		if !ok {
			return serde.DecodeResult{}, fmt.Errorf("hyperstate: version field of %s holds %v, expected an integer", st.Name, v)
		}
		from = n
	} else if !h.allowMissing {
		return serde.DecodeResult{}, fmt.Errorf("hyperstate: %s document is missing the version field", st.Name)
	}

	stripped, _ := valuetree.Clone(tree).(map[string]any)
	delete(stripped, "version")
	upgraded, report, err := schema.ApplyUpgrades(stripped, from, h.target)
	if err != nil {
		return serde.DecodeResult{}, err
	}
	h.report = report
	return serde.DecodeResult{Value: upgraded, Replace: true}, nil
}

// versionStampHook writes the current schema version as the first attribute
// of the root record.
type versionStampHook struct {
	version int
}

// Encode implements serde.EncodeHook.
func (h *versionStampHook) Encode(v any, path string) (any, bool, error) {
	return nil, false, nil
}

// ModifyAttrs implements serde.EncodeHook.
func (h *versionStampHook) ModifyAttrs(st *schema.Struct, v any, attrs *serde.Attrs, path string) {
	if path != "" {
		return
	}
	attrs.InsertFront("version", h.version)
}

// elideHook drops record attributes whose encoded value equals the field's
// declared default, keeping rendered documents minimal.
type elideHook struct{}

// Encode implements serde.EncodeHook.
func (elideHook) Encode(v any, path string) (any, bool, error) {
	return nil, false, nil
}

// ModifyAttrs implements serde.EncodeHook.
func (elideHook) ModifyAttrs(st *schema.Struct, v any, attrs *serde.Attrs, path string) {
	for _, field := range st.Fields {
		if !field.HasDefault {
			continue
		}
		value, ok := attrs.Get(field.Name)
		if !ok {
			continue
		}
		if valuetree.Equal(attrTree(value), field.Default) {
			attrs.Delete(field.Name)
		}
	}
}

// attrTree flattens encoded attribute values back into plain value trees so
// they compare against declared defaults.
func attrTree(v any) any {
	switch node := v.(type) {
	case *serde.Attrs:
		return node.Tree()
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = attrTree(item)
		}
		return out
	default:
		return v
	}
}
