package serde

import "gopkg.in/yaml.v3"

// Attr is one key/value pair of an encoded record.
type Attr struct {
	Key   string
	Value any
}

// Attrs is an ordered collection of record attributes. Encoding a struct
// produces one so declaration order survives into the rendered document.
type Attrs struct {
	entries []Attr
}

// NewAttrs builds an Attrs holding pairs in the given order.
func NewAttrs(pairs ...Attr) *Attrs {
	return &Attrs{entries: append([]Attr(nil), pairs...)}
}

// Len reports the number of attributes.
func (a *Attrs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

// Get returns the value stored under key.
func (a *Attrs) Get(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	for _, entry := range a.entries {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key in place, appending when absent.
func (a *Attrs) Set(key string, value any) {
	for i, entry := range a.entries {
		if entry.Key == key {
			a.entries[i].Value = value
			return
		}
	}
	a.entries = append(a.entries, Attr{Key: key, Value: value})
}

// Delete removes key and reports whether it was present.
func (a *Attrs) Delete(key string) bool {
	if a == nil {
		return false
	}
	for i, entry := range a.entries {
		if entry.Key == key {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			return true
		}
	}
	return false
}

// InsertFront places key at the first position, displacing any previous
// entry under the same key.
func (a *Attrs) InsertFront(key string, value any) {
	a.Delete(key)
	a.entries = append([]Attr{{Key: key, Value: value}}, a.entries...)
}

// Keys returns the attribute keys in order.
func (a *Attrs) Keys() []string {
	if a == nil {
		return nil
	}
	keys := make([]string, len(a.entries))
	for i, entry := range a.entries {
		keys[i] = entry.Key
	}
	return keys
}

// Entries returns a copy of the attribute pairs in order.
func (a *Attrs) Entries() []Attr {
	if a == nil {
		return nil
	}
	return append([]Attr(nil), a.entries...)
}

// Tree converts the attributes into a plain nested map, recursing into
// nested Attrs and slices.
func (a *Attrs) Tree() map[string]any {
	if a == nil {
		return nil
	}
	out := make(map[string]any, len(a.entries))
	for _, entry := range a.entries {
		out[entry.Key] = treeValue(entry.Value)
	}
	return out
}

func treeValue(v any) any {
	switch node := v.(type) {
	case *Attrs:
		return node.Tree()
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = treeValue(child)
		}
		return out
	default:
		return v
	}
}

// MarshalYAML renders the attributes as a mapping node so yaml.v3 keeps
// the entry order.
func (a *Attrs) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	if a == nil {
		return node, nil
	}
	for _, entry := range a.entries {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: entry.Key}
		valNode, err := attrNode(entry.Value)
		if err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func attrNode(v any) (*yaml.Node, error) {
	if v == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return node, nil
}
