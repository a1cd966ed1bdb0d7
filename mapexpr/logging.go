package mapexpr

import "time"

// MapEvent describes a compile or map attempt for logging.
type MapEvent struct {
	Engine   string
	Expr     string
	Duration time.Duration
	Err      error
}

// Logger records mapping events.
type Logger interface {
	LogMap(MapEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(MapEvent)

// LogMap implements Logger.
func (f LoggerFunc) LogMap(event MapEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogMap(MapEvent) {}
