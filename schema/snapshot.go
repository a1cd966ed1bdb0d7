package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// DumpSchema writes the schema snapshot of st to a YAML file.
func DumpSchema(path string, st *Struct) error {
	data, err := EncodeSchema(st)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadSchema reads a schema snapshot from a YAML file.
func LoadSchema(path string) (*Struct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading snapshot: %w", err)
	}
	return DecodeSchema(data)
}

// EncodeSchema renders st as a YAML snapshot, preserving field order.
func EncodeSchema(st *Struct) ([]byte, error) {
	node, err := schemaNode(st)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("schema: encoding snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("schema: encoding snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSchema parses a YAML schema snapshot. The snapshot root must be a
// struct.
func DecodeSchema(data []byte) (*Struct, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("schema: parsing snapshot: %w", err)
	}
	t, err := SchemaFromTree(valuetree.Normalize(raw))
	if err != nil {
		return nil, err
	}
	st, ok := t.(*Struct)
	if !ok {
		return nil, fmt.Errorf("schema: snapshot root is %s, expected a struct", t)
	}
	return st, nil
}

// SchemaToTree converts a schema into the plain value tree form used by
// snapshot files. Primitives become scalars, containers become single-key
// mappings, and struct fields become a sequence so their order survives.
func SchemaToTree(t Type) any {
	switch t := t.(type) {
	case *Primitive:
		return t.String()
	case *Nothing:
		return "nothing"
	case *List:
		return map[string]any{"list": SchemaToTree(t.Inner)}
	case *Dict:
		return map[string]any{"dict": map[string]any{
			"key": SchemaToTree(t.Key),
			"val": SchemaToTree(t.Val),
		}}
	case *Option:
		return map[string]any{"option": SchemaToTree(t.Inner)}
	case *Union:
		variants := make([]any, len(t.Variants))
		for i, v := range t.Variants {
			variants[i] = SchemaToTree(v)
		}
		return map[string]any{"union": variants}
	case *Literal:
		return map[string]any{"literal": append([]any(nil), t.Allowed...)}
	case *Enum:
		variants := make([]any, len(t.Variants))
		for i, v := range t.Variants {
			variants[i] = map[string]any{"name": v.Name, "value": v.Value}
		}
		return map[string]any{"enum": map[string]any{"name": t.Name, "variants": variants}}
	case *Struct:
		fields := make([]any, len(t.Fields))
		for i, f := range t.Fields {
			fm := map[string]any{"name": f.Name, "type": SchemaToTree(f.Type)}
			if f.HasDefault {
				fm["default"] = f.Default
			}
			if f.Docstring != "" {
				fm["docstring"] = f.Docstring
			}
			fields[i] = fm
		}
		sm := map[string]any{"name": t.Name, "fields": fields}
		if t.Version != nil {
			sm["version"] = *t.Version
		}
		return map[string]any{"struct": sm}
	default:
		return nil
	}
}

// SchemaFromTree parses a type from its value tree form.
func SchemaFromTree(tree any) (Type, error) {
	switch v := tree.(type) {
	case string:
		switch v {
		case "int":
			return Int(), nil
		case "float":
			return Float(), nil
		case "str":
			return Str(), nil
		case "bool":
			return Bool(), nil
		case "nothing":
			return &Nothing{}, nil
		}
		return nil, fmt.Errorf("schema: unknown type %q in snapshot", v)
	case map[string]any:
		if len(v) != 1 {
			return nil, fmt.Errorf("schema: type node must have exactly one key, got %d", len(v))
		}
		for key, val := range v {
			return typeFromNode(key, val)
		}
	}
	return nil, fmt.Errorf("schema: cannot parse type from %T", tree)
}

func typeFromNode(key string, val any) (Type, error) {
	switch key {
	case "list":
		inner, err := SchemaFromTree(val)
		if err != nil {
			return nil, err
		}
		return &List{Inner: inner}, nil
	case "option":
		inner, err := SchemaFromTree(val)
		if err != nil {
			return nil, err
		}
		return &Option{Inner: inner}, nil
	case "dict":
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: dict node must be a mapping, got %T", val)
		}
		keyType, err := SchemaFromTree(m["key"])
		if err != nil {
			return nil, err
		}
		valType, err := SchemaFromTree(m["val"])
		if err != nil {
			return nil, err
		}
		return &Dict{Key: keyType, Val: valType}, nil
	case "union":
		seq, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("schema: union node must be a sequence, got %T", val)
		}
		variants := make([]Type, len(seq))
		for i, raw := range seq {
			t, err := SchemaFromTree(raw)
			if err != nil {
				return nil, err
			}
			variants[i] = t
		}
		return &Union{Variants: variants}, nil
	case "literal":
		seq, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("schema: literal node must be a sequence, got %T", val)
		}
		return &Literal{Allowed: append([]any(nil), seq...)}, nil
	case "enum":
		return enumFromNode(val)
	case "struct":
		return structFromNode(val)
	}
	return nil, fmt.Errorf("schema: unknown type node %q in snapshot", key)
}

func enumFromNode(val any) (Type, error) {
	m, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: enum node must be a mapping, got %T", val)
	}
	name, _ := m["name"].(string)
	seq, ok := m["variants"].([]any)
	if !ok {
		return nil, fmt.Errorf("schema: enum %q has no variants", name)
	}
	variants := make([]Variant, len(seq))
	for i, raw := range seq {
		vm, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: enum variant must be a mapping, got %T", raw)
		}
		vname, ok := vm["name"].(string)
		if !ok {
			return nil, fmt.Errorf("schema: enum %q has a variant without a name", name)
		}
		variants[i] = Variant{Name: vname, Value: vm["value"]}
	}
	return &Enum{Name: name, Variants: variants}, nil
}

func structFromNode(val any) (Type, error) {
	m, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: struct node must be a mapping, got %T", val)
	}
	name, _ := m["name"].(string)
	st := &Struct{Name: name}
	if rawVersion, ok := m["version"]; ok {
		version, ok := rawVersion.(int)
		if !ok {
			return nil, fmt.Errorf("schema: struct %q has non-integer version %v", name, rawVersion)
		}
		st.Version = &version
	}
	seq, ok := m["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("schema: struct %q has no fields", name)
	}
	for _, raw := range seq {
		fm, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: field entry must be a mapping, got %T", raw)
		}
		fname, ok := fm["name"].(string)
		if !ok {
			return nil, fmt.Errorf("schema: struct %q has a field without a name", name)
		}
		ftype, err := SchemaFromTree(fm["type"])
		if err != nil {
			return nil, err
		}
		field := &Field{Name: fname, Type: ftype}
		if def, ok := fm["default"]; ok {
			field.Default = def
			field.HasDefault = true
		}
		if doc, ok := fm["docstring"].(string); ok {
			field.Docstring = doc
		}
		st.Fields = append(st.Fields, field)
	}
	return st, nil
}

func schemaNode(t Type) (*yaml.Node, error) {
	switch t := t.(type) {
	case *Primitive:
		return strNode(t.String()), nil
	case *Nothing:
		return strNode("nothing"), nil
	case *List:
		inner, err := schemaNode(t.Inner)
		if err != nil {
			return nil, err
		}
		return mappingNode(strNode("list"), inner), nil
	case *Dict:
		keyNode, err := schemaNode(t.Key)
		if err != nil {
			return nil, err
		}
		valNode, err := schemaNode(t.Val)
		if err != nil {
			return nil, err
		}
		return mappingNode(strNode("dict"), mappingNode(
			strNode("key"), keyNode,
			strNode("val"), valNode,
		)), nil
	case *Option:
		inner, err := schemaNode(t.Inner)
		if err != nil {
			return nil, err
		}
		return mappingNode(strNode("option"), inner), nil
	case *Union:
		seq := sequenceNode()
		for _, v := range t.Variants {
			n, err := schemaNode(v)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return mappingNode(strNode("union"), seq), nil
	case *Literal:
		seq := sequenceNode()
		for _, v := range t.Allowed {
			n, err := valueNode(v)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return mappingNode(strNode("literal"), seq), nil
	case *Enum:
		variants := sequenceNode()
		for _, v := range t.Variants {
			value, err := valueNode(v.Value)
			if err != nil {
				return nil, err
			}
			variants.Content = append(variants.Content, mappingNode(
				strNode("name"), strNode(v.Name),
				strNode("value"), value,
			))
		}
		return mappingNode(strNode("enum"), mappingNode(
			strNode("name"), strNode(t.Name),
			strNode("variants"), variants,
		)), nil
	case *Struct:
		fields := sequenceNode()
		for _, f := range t.Fields {
			node, err := fieldNode(f)
			if err != nil {
				return nil, err
			}
			fields.Content = append(fields.Content, node)
		}
		inner := mappingNode(strNode("name"), strNode(t.Name))
		if t.Version != nil {
			version, err := valueNode(*t.Version)
			if err != nil {
				return nil, err
			}
			inner.Content = append(inner.Content, strNode("version"), version)
		}
		inner.Content = append(inner.Content, strNode("fields"), fields)
		return mappingNode(strNode("struct"), inner), nil
	default:
		return nil, fmt.Errorf("schema: cannot encode type %T", t)
	}
}

func fieldNode(f *Field) (*yaml.Node, error) {
	typeNode, err := schemaNode(f.Type)
	if err != nil {
		return nil, err
	}
	node := mappingNode(
		strNode("name"), strNode(f.Name),
		strNode("type"), typeNode,
	)
	if f.HasDefault {
		def, err := valueNode(f.Default)
		if err != nil {
			return nil, err
		}
		node.Content = append(node.Content, strNode("default"), def)
	}
	if f.Docstring != "" {
		node.Content = append(node.Content, strNode("docstring"), strNode(f.Docstring))
	}
	return node, nil
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func sequenceNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func mappingNode(pairs ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: pairs}
}

func valueNode(v any) (*yaml.Node, error) {
	if v == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return nil, fmt.Errorf("schema: encoding value %v: %w", v, err)
	}
	return node, nil
}
