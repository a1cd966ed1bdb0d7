//go:build !js_eval

package mapexpr

// NewJSEngine is unavailable without the js_eval build tag.
func NewJSEngine(opts ...JSEngineOption) Engine {
	_ = applyJSEngineOptions(opts)
	return nil
}

func jsEngineAvailable() bool {
	return false
}

func jsEngineName(Engine) string {
	return ""
}
