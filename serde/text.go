package serde

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cswinter/hyperstate/internal/valuetree"
)

// Render serializes a value tree as YAML. Attrs render as mappings in
// entry order.
func Render(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("serde: rendering document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("serde: rendering document: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse reads a YAML document into a canonical value tree of maps, slices
// and scalars.
func Parse(data []byte) (any, error) {
	var out any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("serde: parsing document: %w", err)
	}
	return valuetree.Normalize(out), nil
}
