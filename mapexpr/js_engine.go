//go:build js_eval

package mapexpr

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEngine struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEngine constructs an Engine backed by goja.
func NewJSEngine(opts ...JSEngineOption) Engine {
	cfg := applyJSEngineOptions(opts)
	return &jsEngine{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

// Compile compiles expression into a reusable Mapper.
func (e *jsEngine) Compile(expression string) (Mapper, error) {
	if expression == "" {
		return nil, wrapEngineError("js", fmt.Errorf("expression must not be empty"))
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &jsMapper{
		engine:     e,
		program:    program,
		expression: expression,
	}, nil
}

func (e *jsEngine) loadOrCompile(expression string) (*goja.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(expression); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", wrapJSExpression(expression), false)
	if err != nil {
		return nil, wrapEvaluationError("js", expression, err)
	}
	if e.cache != nil {
		e.cache.Set(expression, program)
	}
	return program, nil
}

func wrapJSExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

type jsMapper struct {
	engine     *jsEngine
	program    *goja.Program
	expression string
}

func (m *jsMapper) Map(x any) (any, error) {
	vm := goja.New()
	vm.Set("x", x)
	if registry := m.engine.registry; registry != nil {
		vm.Set("call", func(name string, arguments ...any) (any, error) {
			return registry.Call(name, arguments...)
		})
		for _, name := range registry.Names() {
			fn := name
			vm.Set(fn, func(arguments ...any) (any, error) {
				return registry.Call(fn, arguments...)
			})
		}
	}
	value, err := vm.RunProgram(m.program)
	if err != nil {
		return nil, wrapEvaluationError("js", m.expression, err)
	}
	return value.Export(), nil
}

func jsEngineAvailable() bool {
	return true
}

func jsEngineName(engine Engine) string {
	if _, ok := engine.(*jsEngine); ok {
		return "js"
	}
	return ""
}
