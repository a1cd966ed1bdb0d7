package mapexpr

import (
	"errors"
	"fmt"
	"time"
)

// Mapper runs a compiled mapping expression against one value.
type Mapper interface {
	Map(x any) (any, error)
}

// Engine compiles mapping expressions. An expression sees the input value
// as the variable x and its result becomes the mapped value.
type Engine interface {
	Compile(expression string) (Mapper, error)
}

// ErrNoEngine is returned when an expression is compiled without an engine
// and no DefaultEngine is configured.
var ErrNoEngine = errors.New("mapexpr: no engine configured")

// DefaultEngine compiles expressions with the expr engine and a shared
// program cache. Rules without an explicit engine use it.
var DefaultEngine Engine = NewExprEngine(ExprWithProgramCache(NewMemoryCache()))

// Compile compiles expression with engine, falling back to DefaultEngine
// when engine is nil.
func Compile(engine Engine, expression string) (Mapper, error) {
	if engine == nil {
		engine = DefaultEngine
	}
	if engine == nil {
		return nil, ErrNoEngine
	}
	return engine.Compile(expression)
}

// EngineName reports a short name for an engine.
func EngineName(engine Engine) string {
	switch e := engine.(type) {
	case nil:
		return "none"
	case *exprEngine:
		return "expr"
	case *celEngine:
		return "cel"
	case *instrumentedEngine:
		return EngineName(e.engine)
	default:
		if name := jsEngineName(engine); name != "" {
			return name
		}
		return fmt.Sprintf("%T", engine)
	}
}

// Instrument wraps an engine so every compile and map call is timed and
// reported to logger.
func Instrument(engine Engine, logger Logger) Engine {
	if engine == nil {
		return nil
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &instrumentedEngine{engine: engine, logger: logger}
}

type instrumentedEngine struct {
	engine Engine
	logger Logger
}

func (e *instrumentedEngine) Compile(expression string) (Mapper, error) {
	mapper, err := e.engine.Compile(expression)
	if err != nil {
		e.logger.LogMap(MapEvent{Engine: EngineName(e.engine), Expr: expression, Err: err})
		return nil, err
	}
	return &instrumentedMapper{
		mapper: mapper,
		engine: EngineName(e.engine),
		expr:   expression,
		logger: e.logger,
	}, nil
}

type instrumentedMapper struct {
	mapper Mapper
	engine string
	expr   string
	logger Logger
}

func (m *instrumentedMapper) Map(x any) (any, error) {
	start := time.Now()
	out, err := m.mapper.Map(x)
	m.logger.LogMap(MapEvent{
		Engine:   m.engine,
		Expr:     m.expr,
		Duration: time.Since(start),
		Err:      err,
	})
	return out, err
}
