package mapexpr

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEngineOption configures an expr engine instance.
type ExprEngineOption func(*exprEngine)

// ExprWithProgramCache wires a ProgramCache into the expr engine.
func ExprWithProgramCache(cache ProgramCache) ExprEngineOption {
	return func(e *exprEngine) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry wires a FunctionRegistry into the expr engine.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEngineOption {
	return func(e *exprEngine) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

// exprEngine compiles mapping expressions using github.com/expr-lang/expr.
type exprEngine struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEngine constructs an Engine backed by expr-lang/expr.
func NewExprEngine(opts ...ExprEngineOption) Engine {
	e := &exprEngine{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Compile compiles expression into a reusable Mapper.
func (e *exprEngine) Compile(expression string) (Mapper, error) {
	if expression == "" {
		return nil, wrapEngineError("expr", fmt.Errorf("expression must not be empty"))
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &exprMapper{engine: e, program: program, expression: expression}, nil
}

func (e *exprEngine) loadOrCompile(expression string) (*exprvm.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(expression); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.registryNames() {
		options = append(options, exprlang.Function(name, e.registryFunction(name)))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError("expr", expression, err)
	}
	if e.cache != nil {
		e.cache.Set(expression, program)
	}
	return program, nil
}

type exprMapper struct {
	engine     *exprEngine
	program    *exprvm.Program
	expression string
}

func (m *exprMapper) Map(x any) (any, error) {
	result, err := exprlang.Run(m.program, m.engine.environment(x))
	if err != nil {
		return nil, wrapEvaluationError("expr", m.expression, err)
	}
	return result, nil
}

func (e *exprEngine) environment(x any) map[string]any {
	env := map[string]any{"x": x}
	if e.registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}
		for _, name := range e.registry.Names() {
			fn := name
			env[fn] = func(arguments ...any) (any, error) {
				return e.registry.Call(fn, arguments...)
			}
		}
	}
	return env
}

func (e *exprEngine) registryNames() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	return e.registry.Names()
}

func (e *exprEngine) registryFunction(name string) func(...any) (any, error) {
	if e == nil || e.registry == nil {
		return nil
	}
	return func(arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
}
