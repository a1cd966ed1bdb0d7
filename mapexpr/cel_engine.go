package mapexpr

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CELEngineOption configures the CEL engine.
type CELEngineOption func(*celEngine)

// CELWithProgramCache wires a ProgramCache into the CEL engine.
func CELWithProgramCache(cache ProgramCache) CELEngineOption {
	return func(e *celEngine) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL engine.
// Registered functions are exposed to expressions as unary functions and
// through a call(name, value) builtin.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEngineOption {
	return func(e *celEngine) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

// celEngine compiles mapping expressions using cel-go.
type celEngine struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEngine constructs an Engine backed by cel-go.
func NewCELEngine(opts ...CELEngineOption) Engine {
	e := &celEngine{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Compile compiles expression into a reusable Mapper.
func (e *celEngine) Compile(expression string) (Mapper, error) {
	if expression == "" {
		return nil, wrapEngineError("cel", fmt.Errorf("expression must not be empty"))
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &celMapper{program: program, expression: expression}, nil
}

func (e *celEngine) loadOrCompile(expression string) (celgo.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(expression); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv()
	if err != nil {
		return nil, wrapEngineError("cel", err)
	}
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", expression, issues.Err())
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", expression, issues.Err())
	}
	program, err := env.Program(checked)
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, err)
	}
	if e.cache != nil {
		e.cache.Set(expression, program)
	}
	return program, nil
}

func (e *celEngine) buildEnv() (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("x", celgo.DynType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", celgo.Overload(
			"call_string_dyn",
			[]*celgo.Type{celgo.StringType, celgo.DynType},
			celgo.DynType,
			celgo.BinaryBinding(func(name, arg ref.Val) ref.Val {
				fname, ok := name.Value().(string)
				if !ok {
					return celtypes.NewErr("mapexpr: call name must be string")
				}
				return e.callRegistry(fname, celNative(arg))
			}),
		)))
		for _, name := range e.registry.Names() {
			fn := name
			opts = append(opts, celgo.Function(fn, celgo.Overload(
				fn+"_dyn",
				[]*celgo.Type{celgo.DynType},
				celgo.DynType,
				celgo.UnaryBinding(func(arg ref.Val) ref.Val {
					return e.callRegistry(fn, celNative(arg))
				}),
			)))
		}
	}
	return celgo.NewEnv(opts...)
}

func (e *celEngine) callRegistry(name string, arg any) ref.Val {
	result, err := e.registry.Call(name, arg)
	if err != nil {
		return celtypes.NewErr("%s", err.Error())
	}
	if result == nil {
		return celtypes.NullValue
	}
	return celtypes.DefaultTypeAdapter.NativeToValue(result)
}

type celMapper struct {
	program    celgo.Program
	expression string
}

func (m *celMapper) Map(x any) (any, error) {
	out, _, err := m.program.Eval(map[string]any{"x": x})
	if err != nil {
		return nil, wrapEvaluationError("cel", m.expression, err)
	}
	return celNative(out), nil
}

// celNative converts a CEL value into plain Go values, unwrapping lists and
// maps element by element.
func celNative(val ref.Val) any {
	if val == nil || val == celtypes.NullValue {
		return nil
	}
	if lister, ok := val.(traits.Lister); ok {
		var out []any
		it := lister.Iterator()
		for it.HasNext() == celtypes.True {
			out = append(out, celNative(it.Next()))
		}
		return out
	}
	if mapper, ok := val.(traits.Mapper); ok {
		out := make(map[any]any)
		it := mapper.Iterator()
		for it.HasNext() == celtypes.True {
			key := it.Next()
			if value, found := mapper.Find(key); found {
				out[celNative(key)] = celNative(value)
			}
		}
		return out
	}
	return val.Value()
}
