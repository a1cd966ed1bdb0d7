package hyperstate

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/cswinter/hyperstate/schema"
	"github.com/cswinter/hyperstate/serde"
)

// LoadOption configures Load and Loads.
type LoadOption func(*loadConfig)

type loadConfig struct {
	overrides    []string
	allowMissing bool
	ignoreExtra  bool
	hooks        []serde.DecodeHook
	ctx          *BlobContext
	report       **schema.UpgradeReport
}

// WithOverrides applies `dotted.path=value` overrides to the document before
// typed decoding.
func WithOverrides(overrides ...string) LoadOption {
	return func(c *loadConfig) {
		c.overrides = append(c.overrides, overrides...)
	}
}

// AllowMissingVersion accepts Versioned documents without a version field,
// treating them as version 0.
func AllowMissingVersion() LoadOption {
	return func(c *loadConfig) {
		c.allowMissing = true
	}
}

// IgnoreExtraFields skips document keys the target record does not declare
// instead of failing.
func IgnoreExtraFields() LoadOption {
	return func(c *loadConfig) {
		c.ignoreExtra = true
	}
}

// WithDecodeHooks appends hooks that run after the standard override,
// version and blob hooks.
func WithDecodeHooks(hooks ...serde.DecodeHook) LoadOption {
	return func(c *loadConfig) {
		for _, hook := range hooks {
			if hook != nil {
				c.hooks = append(c.hooks, hook)
			}
		}
	}
}

// WithContextValue adds a value to the blob deserialization context passed
// to Serializable components.
func WithContextValue(key string, value any) LoadOption {
	return func(c *loadConfig) {
		if c.ctx == nil {
			c.ctx = &BlobContext{Values: map[string]any{}}
		}
		if c.ctx.Values == nil {
			c.ctx.Values = map[string]any{}
		}
		c.ctx.Values[key] = value
	}
}

// WithUpgradeReport stores the migration report of the load, nil when no
// upgrade rules ran.
func WithUpgradeReport(out **schema.UpgradeReport) LoadOption {
	return func(c *loadConfig) {
		c.report = out
	}
}

// withBlobContext shares an existing blob context across loads.
func withBlobContext(ctx *BlobContext) LoadOption {
	return func(c *loadConfig) {
		c.ctx = ctx
	}
}

func newLoadConfig(allowMissing bool, opts []LoadOption) *loadConfig {
	c := &loadConfig{allowMissing: allowMissing}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.ctx == nil {
		c.ctx = &BlobContext{Values: map[string]any{}}
	}
	return c
}

// Load reads, migrates and decodes the document at path into a T. An empty
// path decodes from an empty document, so every field takes its declared
// default; in that case a Versioned T does not need a version field.
func Load[T any](path string, opts ...LoadOption) (*T, error) {
	cfg := newLoadConfig(path == "", opts)
	var raw any = map[string]any{}
	blobDir := ""
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("hyperstate: reading %s: %w", path, err)
		}
		raw, err = serde.Parse(data)
		if err != nil {
			return nil, err
		}
		blobDir = filepath.Dir(path)
	}
	return loadTree[T](raw, blobDir, cfg)
}

// Loads decodes a document held in a string. Versioned targets require a
// version field unless AllowMissingVersion is given.
func Loads[T any](text string, opts ...LoadOption) (*T, error) {
	raw, err := serde.Parse([]byte(text))
	if err != nil {
		return nil, err
	}
	return loadTree[T](raw, "", newLoadConfig(false, opts))
}

func loadTree[T any](raw any, blobDir string, cfg *loadConfig) (*T, error) {
	st, err := schema.StructOf[T]()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	var hooks []serde.DecodeHook
	if len(cfg.overrides) > 0 {
		hooks = append(hooks, &overrideHook{overrides: cfg.overrides})
	}
	var vh *versionHook
	if versioned, ok := versionedOf[T](); ok {
		vh = &versionHook{target: versioned, allowMissing: cfg.allowMissing}
		hooks = append(hooks, vh)
	}
	hooks = append(hooks, &blobLoadHook{dir: blobDir, ctx: cfg.ctx})
	hooks = append(hooks, cfg.hooks...)

	dopts := []serde.DecodeOption{serde.WithDecodeHooks(hooks...)}
	if cfg.ignoreExtra {
		dopts = append(dopts, serde.IgnoreExtraFields())
	}
	var out T
	if err := serde.DecodeInto(st, raw, &out, dopts...); err != nil {
		return nil, err
	}
	if cfg.report != nil && vh != nil {
		*cfg.report = vh.report
	}
	return &out, nil
}

// versionedOf probes whether T declares a schema version.
func versionedOf[T any]() (schema.Versioned, bool) {
	var probe T
	if v, ok := any(probe).(schema.Versioned); ok {
		return v, true
	}
	if v, ok := any(&probe).(schema.Versioned); ok {
		return v, true
	}
	return nil, false
}

// DumpOption configures Dump and Dumps.
type DumpOption func(*dumpConfig)

type dumpConfig struct {
	elide bool
	hooks []serde.EncodeHook
}

// ElideDefaults drops attributes whose value equals the field's declared
// default.
func ElideDefaults() DumpOption {
	return func(c *dumpConfig) {
		c.elide = true
	}
}

// WithEncodeHooks appends hooks that run after the standard blob, version
// and eliding hooks.
func WithEncodeHooks(hooks ...serde.EncodeHook) DumpOption {
	return func(c *dumpConfig) {
		for _, hook := range hooks {
			if hook != nil {
				c.hooks = append(c.hooks, hook)
			}
		}
	}
}

func newDumpConfig(opts []DumpOption) *dumpConfig {
	c := &dumpConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Dumps renders v as a document string. Blob-backed components render as
// sentinels without their payload; use Dump to write the payloads alongside
// the document.
func Dumps(v any, opts ...DumpOption) (string, error) {
	text, _, err := dumpDocument(v, newDumpConfig(opts))
	return text, err
}

// Dump writes v as a document at path, with the payload of every
// blob-backed component in a sidecar file next to it.
func Dump(v any, path string, opts ...DumpOption) error {
	text, blobs, err := dumpDocument(v, newDumpConfig(opts))
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hyperstate: creating %s: %w", dir, err)
	}
	for name, data := range blobs {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("hyperstate: writing blob %s: %w", name, err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("hyperstate: writing %s: %w", path, err)
	}
	return nil
}

func dumpDocument(v any, cfg *dumpConfig) (string, map[string][]byte, error) {
	tree, blobs, err := encodeDocument(v, cfg)
	if err != nil {
		return "", nil, err
	}
	data, err := serde.Render(tree)
	if err != nil {
		return "", nil, err
	}
	return string(data), blobs, nil
}

func encodeDocument(v any, cfg *dumpConfig) (any, map[string][]byte, error) {
	blobHook := &blobDumpHook{blobs: map[string][]byte{}}
	hooks := []serde.EncodeHook{blobHook}
	if versioned, ok := versionedValue(v); ok {
		hooks = append(hooks, &versionStampHook{version: versioned.Version()})
	}
	if cfg.elide {
		hooks = append(hooks, elideHook{})
	}
	hooks = append(hooks, cfg.hooks...)

	tree, err := serde.Encode(v, serde.WithEncodeHooks(hooks...))
	if err != nil {
		return nil, nil, err
	}
	return tree, blobHook.blobs, nil
}

// versionedValue probes v for a schema version, taking an addressable copy
// when Version lives on the pointer type.
func versionedValue(v any) (schema.Versioned, bool) {
	if versioned, ok := v.(schema.Versioned); ok {
		return versioned, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if !reflect.PointerTo(rv.Type()).Implements(versionedIface) {
		return nil, false
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Interface().(schema.Versioned), true
}

var versionedIface = reflect.TypeOf((*schema.Versioned)(nil)).Elem()
