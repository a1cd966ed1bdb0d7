package schema

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func modelSchema() *Struct {
	return &Struct{
		Name: "modelConfig",
		Fields: []*Field{
			{Name: "name", Type: Str()},
			{Name: "net", Type: &Struct{Name: "netConfig", Fields: []*Field{
				{Name: "layers", Type: Int(), Default: 2, HasDefault: true},
				{Name: "activation", Type: Str(), Default: "relu", HasDefault: true},
			}}},
			{Name: "backend", Type: OptionOf(&Struct{Name: "backendConfig", Fields: []*Field{
				{Name: "device", Type: Str()},
			}})},
		},
	}
}

func TestRenameFieldApply(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		tree map[string]any
		want map[string]any
	}{
		{
			name: "top level",
			rule: &RenameField{From: "name", To: "id"},
			tree: map[string]any{"name": "resnet"},
			want: map[string]any{"id": "resnet"},
		},
		{
			name: "into nested map",
			rule: &RenameField{From: "layers", To: "net.layers"},
			tree: map[string]any{"layers": 4},
			want: map[string]any{"net": map[string]any{"layers": 4}},
		},
		{
			name: "out of nested map",
			rule: &RenameField{From: "net.layers", To: "depth"},
			tree: map[string]any{"net": map[string]any{"layers": 4}},
			want: map[string]any{"net": map[string]any{}, "depth": 4},
		},
		{
			name: "missing source",
			rule: &RenameField{From: "gone", To: "dst"},
			tree: map[string]any{"name": "resnet"},
			want: map[string]any{"name": "resnet"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.rule.Apply(c.tree); err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if !reflect.DeepEqual(c.tree, c.want) {
				t.Fatalf("tree = %#v, want %#v", c.tree, c.want)
			}
		})
	}
}

func TestRenameFieldSchema(t *testing.T) {
	st := modelSchema()
	rule := &RenameField{From: "name", To: "net.label"}
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	if st.Field("name") != nil {
		t.Error("field name still present at root")
	}
	moved := st.FindField([]string{"net", "label"})
	if moved == nil {
		t.Fatal("field net.label not found")
	}
	if moved.Name != "label" || !moved.Type.Equal(Str()) {
		t.Errorf("moved field = %s %s, want label str", moved.Name, moved.Type)
	}

	// Hops unwrap option containers.
	rule = &RenameField{From: "backend.device", To: "backend.gpu"}
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	if st.FindField([]string{"backend", "gpu"}) == nil {
		t.Error("field backend.gpu not found")
	}

	rule = &RenameField{From: "ghost", To: "anywhere"}
	if err := rule.ApplyToSchema(st); err == nil {
		t.Fatal("ApplyToSchema() error = nil, want field not found")
	}
}

func TestDeleteField(t *testing.T) {
	tree := map[string]any{"name": "resnet", "net": map[string]any{"layers": 4}}
	rule := &DeleteField{Path: "net.layers"}
	if err := rule.Apply(tree); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if err := (&DeleteField{Path: "missing"}).Apply(tree); err != nil {
		t.Fatalf("Apply() on missing field error: %v", err)
	}
	want := map[string]any{"name": "resnet", "net": map[string]any{}}
	if !reflect.DeepEqual(tree, want) {
		t.Fatalf("tree = %#v, want %#v", tree, want)
	}

	st := modelSchema()
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	if st.FindField([]string{"net", "layers"}) != nil {
		t.Error("field net.layers still present")
	}
	if err := (&DeleteField{Path: "missing"}).ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() on missing field error: %v", err)
	}
}

func TestMapFieldValue(t *testing.T) {
	t.Run("go function", func(t *testing.T) {
		tree := map[string]any{"net": map[string]any{"layers": 4}}
		rule := &MapFieldValue{Path: "net.layers", Fn: func(v any) (any, error) {
			return v.(int) * 2, nil
		}}
		if err := rule.Apply(tree); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
		want := map[string]any{"net": map[string]any{"layers": 8}}
		if !reflect.DeepEqual(tree, want) {
			t.Fatalf("tree = %#v, want %#v", tree, want)
		}
	})

	t.Run("expression", func(t *testing.T) {
		tree := map[string]any{"layers": 4}
		rule := &MapFieldValue{Path: "layers", Expr: "x * 2"}
		if err := rule.Apply(tree); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
		if got := tree["layers"]; got != 8 {
			t.Fatalf("layers = %v, want 8", got)
		}
	})

	t.Run("missing field skips mapping", func(t *testing.T) {
		rule := &MapFieldValue{Path: "gone", Expr: "]["}
		if err := rule.Apply(map[string]any{"layers": 4}); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	})

	t.Run("compile error", func(t *testing.T) {
		rule := &MapFieldValue{Path: "layers", Expr: "]["}
		if err := rule.Apply(map[string]any{"layers": 4}); err == nil {
			t.Fatal("Apply() error = nil, want compile error")
		}
	})

	t.Run("schema remaps enum values", func(t *testing.T) {
		st := &Struct{Name: "run", Fields: []*Field{
			{Name: "task", Type: &Enum{Name: "task", Variants: []Variant{
				{Name: "COINRUN", Value: "CoinRun"},
				{Name: "MAZE", Value: "MAZE"},
			}}},
		}}
		rule := &MapFieldValue{Path: "task", Expr: "x == 'MAZE' ? 'Maze' : x"}
		if err := rule.ApplyToSchema(st); err != nil {
			t.Fatalf("ApplyToSchema() error: %v", err)
		}
		want := &Enum{Name: "task", Variants: []Variant{
			{Name: "COINRUN", Value: "CoinRun"},
			{Name: "MAZE", Value: "Maze"},
		}}
		if got := st.Field("task").Type; !got.Equal(want) {
			t.Fatalf("task type = %s variants %v, want %v", got, got.(*Enum).Variants, want.Variants)
		}
	})

	t.Run("schema leaves other types alone", func(t *testing.T) {
		st := modelSchema()
		rule := &MapFieldValue{Path: "net.layers", Expr: "x * 2"}
		if err := rule.ApplyToSchema(st); err != nil {
			t.Fatalf("ApplyToSchema() error: %v", err)
		}
		field := st.FindField([]string{"net", "layers"})
		if field == nil || !field.Type.Equal(Int()) {
			t.Fatalf("net.layers = %v, want int field", field)
		}
	})

	t.Run("schema missing field", func(t *testing.T) {
		rule := &MapFieldValue{Path: "ghost", Expr: "x"}
		if err := rule.ApplyToSchema(modelSchema()); err == nil {
			t.Fatal("ApplyToSchema() error = nil, want field not found")
		}
	})
}

func TestChangeDefault(t *testing.T) {
	rule := &ChangeDefault{Path: "net.layers", NewDefault: 6}

	tree := map[string]any{"net": map[string]any{"layers": 4}}
	if err := rule.Apply(tree); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := tree["net"].(map[string]any)["layers"]; got != 4 {
		t.Errorf("present value rewritten to %v, want 4", got)
	}

	tree = map[string]any{"net": map[string]any{}}
	if err := rule.Apply(tree); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := tree["net"].(map[string]any)["layers"]; got != 6 {
		t.Errorf("absent value filled with %v, want 6", got)
	}

	st := modelSchema()
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	field := st.FindField([]string{"net", "layers"})
	if field.Default != 6 || !field.HasDefault {
		t.Errorf("default = %v (HasDefault %v), want 6", field.Default, field.HasDefault)
	}
	if err := (&ChangeDefault{Path: "ghost", NewDefault: 1}).ApplyToSchema(st); err == nil {
		t.Fatal("ApplyToSchema() error = nil, want field not found")
	}
}

func TestAddDefault(t *testing.T) {
	rule := &AddDefault{Path: "net.dropout", Default: 0.5}

	tree := map[string]any{"net": map[string]any{"dropout": 0.1}}
	if err := rule.Apply(tree); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := tree["net"].(map[string]any)["dropout"]; got != 0.1 {
		t.Errorf("present value rewritten to %v, want 0.1", got)
	}

	tree = map[string]any{}
	if err := rule.Apply(tree); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	want := map[string]any{"net": map[string]any{"dropout": 0.5}}
	if !reflect.DeepEqual(tree, want) {
		t.Fatalf("tree = %#v, want %#v", tree, want)
	}

	st := modelSchema()
	if err := (&AddDefault{Path: "net.activation", Default: "gelu"}).ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	field := st.FindField([]string{"net", "activation"})
	if field.Default != "gelu" || !field.HasDefault {
		t.Errorf("default = %v (HasDefault %v), want gelu", field.Default, field.HasDefault)
	}

	// A missing field leaves a placeholder declaration without a default, so
	// a later diff still reports what the schema never knew.
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	placeholder := st.FindField([]string{"net", "dropout"})
	if placeholder == nil {
		t.Fatal("placeholder field net.dropout not found")
	}
	if _, ok := placeholder.Type.(*Nothing); !ok {
		t.Errorf("placeholder type = %s, want nothing", placeholder.Type)
	}
	if placeholder.HasDefault {
		t.Error("placeholder HasDefault = true, want false")
	}
}

func TestCheckValue(t *testing.T) {
	rule := &CheckValue{Path: "optimizer", Allowed: []any{"adam", "sgd"}}

	if err := rule.Apply(map[string]any{"optimizer": "sgd"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if err := rule.Apply(map[string]any{}); err != nil {
		t.Fatalf("Apply() on absent field error: %v", err)
	}

	err := rule.Apply(map[string]any{"optimizer": "rmsprop"})
	var deprecated *DeprecatedValueError
	if !errors.As(err, &deprecated) {
		t.Fatalf("Apply() error = %v, want DeprecatedValueError", err)
	}
	if deprecated.Path != "optimizer" || deprecated.Value != "rmsprop" {
		t.Errorf("error = %#v, want path optimizer value rmsprop", deprecated)
	}
	if !reflect.DeepEqual(deprecated.Allowed, []any{"adam", "sgd"}) {
		t.Errorf("Allowed = %v, want [adam sgd]", deprecated.Allowed)
	}

	st := &Struct{Name: "run", Fields: []*Field{{Name: "optimizer", Type: Str()}}}
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	if got := st.Field("optimizer").Type; !got.Equal(LiteralOf("adam", "sgd")) {
		t.Errorf("optimizer type = %s, want literal[adam, sgd]", got)
	}
	if err := (&CheckValue{Path: "ghost", Allowed: []any{1}}).ApplyToSchema(st); err == nil {
		t.Fatal("ApplyToSchema() error = nil, want field not found")
	}
}

func TestRejectValues(t *testing.T) {
	rule := &RejectValues{Path: "optimizer", Disallowed: []any{"rmsprop"}}

	if err := rule.Apply(map[string]any{"optimizer": "adam"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if err := rule.Apply(map[string]any{}); err != nil {
		t.Fatalf("Apply() on absent field error: %v", err)
	}
	err := rule.Apply(map[string]any{"optimizer": "rmsprop"})
	var deprecated *DeprecatedValueError
	if !errors.As(err, &deprecated) {
		t.Fatalf("Apply() error = %v, want DeprecatedValueError", err)
	}

	st := &Struct{Name: "run", Fields: []*Field{
		{Name: "optimizer", Type: LiteralOf("adam", "sgd", "rmsprop")},
	}}
	if err := rule.ApplyToSchema(st); err != nil {
		t.Fatalf("ApplyToSchema() error: %v", err)
	}
	if got := st.Field("optimizer").Type; !got.Equal(LiteralOf("adam", "sgd")) {
		t.Errorf("optimizer type = %s, want literal[adam, sgd]", got)
	}

	st = &Struct{Name: "run", Fields: []*Field{{Name: "optimizer", Type: Str()}}}
	if err := rule.ApplyToSchema(st); err == nil {
		t.Fatal("ApplyToSchema() on non-literal error = nil, want error")
	}
}

func TestRuleStrings(t *testing.T) {
	cases := []struct {
		rule Rule
		want string
	}{
		{&RenameField{From: "lr", To: "optimizer.lr"}, `&schema.RenameField{From: "lr", To: "optimizer.lr"}`},
		{&DeleteField{Path: "momentum"}, `&schema.DeleteField{Path: "momentum"}`},
		{&MapFieldValue{Path: "steps", Expr: "int(x)"}, `&schema.MapFieldValue{Path: "steps", Expr: "int(x)"}`},
		{&MapFieldValue{Path: "steps", Fn: func(v any) (any, error) { return v, nil }}, `&schema.MapFieldValue{Path: "steps"}`},
		{&ChangeDefault{Path: "optimizer", NewDefault: "adam"}, `&schema.ChangeDefault{Path: "optimizer", NewDefault: "adam"}`},
		{&ChangeDefault{Path: "limit", NewDefault: nil}, `&schema.ChangeDefault{Path: "limit", NewDefault: nil}`},
		{&AddDefault{Path: "seeds", Default: []any{1, 2}}, `&schema.AddDefault{Path: "seeds", Default: []any{1, 2}}`},
		{&CheckValue{Path: "device", Allowed: []any{"cpu", "cuda"}}, `&schema.CheckValue{Path: "device", Allowed: []any{"cpu", "cuda"}}`},
		{&RejectValues{Path: "mode", Disallowed: []any{"legacy", 3}}, `&schema.RejectValues{Path: "mode", Disallowed: []any{"legacy", 3}}`},
	}
	for _, c := range cases {
		if got := c.rule.String(); got != c.want {
			t.Errorf("String() = %s, want %s", got, c.want)
		}
	}
}

func TestFieldNotFoundMessage(t *testing.T) {
	err := (&RenameField{From: "optimizer.beta", To: "beta"}).ApplyToSchema(modelSchema())
	if err == nil || !strings.Contains(err.Error(), `field "optimizer.beta" not found`) {
		t.Fatalf("error = %v, want field not found message", err)
	}
}
