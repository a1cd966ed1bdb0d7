package schema

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func snapshotSchema() *Struct {
	version := 3
	return &Struct{
		Name:    "experimentConfig",
		Version: &version,
		Fields: []*Field{
			{Name: "name", Type: Str(), Docstring: "Human readable run name."},
			{Name: "steps", Type: Int(), Default: 1000, HasDefault: true},
			{Name: "rate", Type: Float(), Default: 0.5, HasDefault: true},
			{Name: "verbose", Type: Bool(), Default: false, HasDefault: true},
			{Name: "seeds", Type: ListOf(Int())},
			{Name: "tags", Type: DictOf(Str(), Str())},
			{Name: "device", Type: OptionOf(Str()), Default: nil, HasDefault: true},
			{Name: "threshold", Type: UnionOf(Int(), Float())},
			{Name: "mode", Type: LiteralOf("fast", "exact")},
			{Name: "task", Type: &Enum{Name: "taskKind", Variants: []Variant{
				{Name: "COINRUN", Value: "CoinRun"},
				{Name: "MAZE", Value: "Maze"},
			}}},
			{Name: "net", Type: &Struct{Name: "netConfig", Fields: []*Field{
				{Name: "layers", Type: Int(), Default: 2, HasDefault: true},
			}}},
			{Name: "reserved", Type: &Nothing{}},
		},
	}
}

func TestSchemaSnapshotRoundTrip(t *testing.T) {
	original := snapshotSchema()
	path := filepath.Join(t.TempDir(), "config-schema.yaml")
	if err := DumpSchema(path, original); err != nil {
		t.Fatalf("DumpSchema() error: %v", err)
	}
	loaded, err := LoadSchema(path)
	if err != nil {
		t.Fatalf("LoadSchema() error: %v", err)
	}
	if !loaded.Equal(original) {
		t.Errorf("loaded schema differs:\n%#v", loaded)
	}
	if loaded.Version == nil || *loaded.Version != 3 {
		t.Errorf("version = %v, want 3", loaded.Version)
	}
	if got := loaded.Field("name").Docstring; got != "Human readable run name." {
		t.Errorf("docstring = %q, want the recorded one", got)
	}

	var order []string
	for _, f := range loaded.Fields {
		order = append(order, f.Name)
	}
	want := []string{"name", "steps", "rate", "verbose", "seeds", "tags", "device", "threshold", "mode", "task", "net", "reserved"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("field order = %v, want %v", order, want)
	}
}

func TestSchemaToTree(t *testing.T) {
	version := 1
	st := &Struct{Name: "runConfig", Version: &version, Fields: []*Field{
		{Name: "steps", Type: Int(), Default: 10, HasDefault: true},
		{Name: "device", Type: OptionOf(Str())},
		{Name: "seeds", Type: ListOf(Int())},
	}}
	want := map[string]any{"struct": map[string]any{
		"name":    "runConfig",
		"version": 1,
		"fields": []any{
			map[string]any{"name": "steps", "type": "int", "default": 10},
			map[string]any{"name": "device", "type": map[string]any{"option": "str"}},
			map[string]any{"name": "seeds", "type": map[string]any{"list": "int"}},
		},
	}}
	if got := SchemaToTree(st); !reflect.DeepEqual(got, want) {
		t.Errorf("SchemaToTree() = %#v, want %#v", got, want)
	}
}

func TestSchemaTreeRoundTrip(t *testing.T) {
	original := snapshotSchema()
	parsed, err := SchemaFromTree(SchemaToTree(original))
	if err != nil {
		t.Fatalf("SchemaFromTree() error: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("parsed schema differs:\n%#v", parsed)
	}
}

func TestSchemaFromTreeErrors(t *testing.T) {
	cases := []struct {
		name string
		tree any
		want string
	}{
		{"unknown scalar", "quux", `unknown type "quux"`},
		{"multi-key node", map[string]any{"list": "int", "option": "str"}, "exactly one key"},
		{"unknown node", map[string]any{"tuple": []any{}}, `unknown type node "tuple"`},
		{"dict without mapping", map[string]any{"dict": "int"}, "must be a mapping"},
		{"union without sequence", map[string]any{"union": "int"}, "must be a sequence"},
		{"enum without variants", map[string]any{"enum": map[string]any{"name": "task"}}, "has no variants"},
		{"non-integer version", map[string]any{"struct": map[string]any{"name": "c", "version": "two", "fields": []any{}}}, "non-integer version"},
		{"unsupported node", 3, "cannot parse type from int"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := SchemaFromTree(c.tree)
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error = %v, want %q", err, c.want)
			}
		})
	}
}

func TestDecodeSchemaRejectsNonStruct(t *testing.T) {
	_, err := DecodeSchema([]byte("option: int\n"))
	if err == nil || !strings.Contains(err.Error(), "snapshot root is int?, expected a struct") {
		t.Fatalf("error = %v, want root complaint", err)
	}
}

func TestLoadSchemaMissingFile(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading snapshot") {
		t.Fatalf("error = %v, want read error", err)
	}
}
