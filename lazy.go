package hyperstate

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cswinter/hyperstate/internal/valuetree"
	"github.com/cswinter/hyperstate/schema"
	"github.com/cswinter/hyperstate/serde"
)

// BlobSentinel marks a field whose payload lives in a sidecar blob file next
// to the document.
const BlobSentinel = "<blob:msgpack>"

// Serializable is implemented by state components whose payload is written
// to a sidecar blob instead of being rendered inline.
type Serializable interface {
	SerializeState() (any, error)
	DeserializeState(state any, ctx *BlobContext) error
}

// BlobContext carries the loaded config and caller-provided values through
// blob deserialization.
type BlobContext struct {
	Config any
	Values map[string]any
}

// Lazy defers loading a blob-backed component until first use. Copies of a
// Lazy share one underlying cell, so the blob is read at most once. The zero
// value resolves to a fresh zero component.
type Lazy[T any] struct {
	cell *lazyCell[T]
}

type lazyCell[T any] struct {
	mu     sync.Mutex
	value  *T
	loaded bool
	load   func(target any) error
}

// LazyOf wraps an already-resolved component.
func LazyOf[T any](value *T) Lazy[T] {
	return Lazy[T]{cell: &lazyCell[T]{value: value, loaded: true}}
}

// Get resolves the component, reading its blob on first call.
func (l Lazy[T]) Get() (*T, error) {
	if l.cell == nil {
		return new(T), nil
	}
	l.cell.mu.Lock()
	defer l.cell.mu.Unlock()
	if !l.cell.loaded {
		value := new(T)
		if l.cell.load != nil {
			if err := l.cell.load(value); err != nil {
				return nil, err
			}
		}
		l.cell.value = value
		l.cell.loaded = true
	}
	return l.cell.value, nil
}

// Set replaces the component, discarding any pending blob load.
func (l *Lazy[T]) Set(value *T) {
	l.cell = &lazyCell[T]{value: value, loaded: true}
}

// SchemaType materializes Lazy[T] as the schema of T itself.
func (Lazy[T]) SchemaType() (schema.Type, error) {
	return schema.MaterializeOf[T]()
}

func (l *Lazy[T]) bindBlob(load func(target any) error) {
	l.cell = &lazyCell[T]{load: load}
}

func (l Lazy[T]) resolveState() (any, error) {
	return l.Get()
}

// lazyBinder is how the decode hook installs a pending load without knowing
// the component type.
type lazyBinder interface {
	bindBlob(load func(target any) error)
}

// lazyResolver is how the encode hook resolves a wrapper back to its
// component.
type lazyResolver interface {
	resolveState() (any, error)
}

var (
	binderIface      = reflect.TypeOf((*lazyBinder)(nil)).Elem()
	serializableType = reflect.TypeOf((*Serializable)(nil)).Elem()
)

// blobLoadHook recognizes blob sentinels during decoding. Lazy fields get a
// pending load bound to their cell; plain Serializable fields are read
// immediately.
type blobLoadHook struct {
	dir string
	ctx *BlobContext
}

// Decode implements serde.DecodeHook.
func (h *blobLoadHook) Decode(ty schema.Type, raw any, path string) (serde.DecodeResult, error) {
	return h.DecodeTyped(nil, ty, raw, path)
}

// DecodeTyped implements serde.TypedDecodeHook.
func (h *blobLoadHook) DecodeTyped(rt reflect.Type, ty schema.Type, raw any, path string) (serde.DecodeResult, error) {
	sentinel, ok := raw.(string)
	if !ok {
		return serde.DecodeResult{}, nil
	}
	switch sentinel {
	case BlobSentinel:
	case "<BLOB>", "<blob:pickle>":
		return serde.DecodeResult{}, fmt.Errorf("hyperstate: legacy pickle blob at %q is not supported", path)
	default:
		return serde.DecodeResult{}, nil
	}
	if h.dir == "" {
		return serde.DecodeResult{}, fmt.Errorf("hyperstate: blob reference at %q in a document without a directory", path)
	}

	load := h.loader(filepath.Join(h.dir, blobFilename(path)), path)
	if rt != nil && reflect.PointerTo(rt).Implements(binderIface) {
		wrapper := reflect.New(rt)
		wrapper.Interface().(lazyBinder).bindBlob(load)
		return serde.DecodeResult{Value: wrapper.Elem().Interface(), Done: true}, nil
	}

	st, ok := ty.(*schema.Struct)
	if !ok || st.GoType() == nil {
		return serde.DecodeResult{}, fmt.Errorf("hyperstate: blob at %q needs a record target, got %s", path, ty)
	}
	target := reflect.New(st.GoType())
	if err := load(target.Interface()); err != nil {
		return serde.DecodeResult{}, err
	}
	return serde.DecodeResult{Value: target.Elem().Interface(), Done: true}, nil
}

func (h *blobLoadHook) loader(file, path string) func(target any) error {
	ctx := h.ctx
	return func(target any) error {
		s, ok := target.(Serializable)
		if !ok {
			return fmt.Errorf("hyperstate: %T at %q does not implement Serializable", target, path)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("hyperstate: reading blob for %q: %w", path, err)
		}
		var tree any
		if err := msgpack.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("hyperstate: decoding blob for %q: %w", path, err)
		}
		return s.DeserializeState(valuetree.Normalize(tree), ctx)
	}
}

// blobDumpHook externalizes Serializable components: the document keeps a
// sentinel and the encoded payload is collected for a sidecar write.
type blobDumpHook struct {
	blobs map[string][]byte
}

// Encode implements serde.EncodeHook.
func (h *blobDumpHook) Encode(v any, path string) (any, bool, error) {
	if r, ok := v.(lazyResolver); ok {
		resolved, err := r.resolveState()
		if err != nil {
			return nil, false, fmt.Errorf("hyperstate: resolving %q: %w", path, err)
		}
		s, ok := resolved.(Serializable)
		if !ok {
			return nil, false, fmt.Errorf("hyperstate: lazy component %T at %q does not implement Serializable", resolved, path)
		}
		return h.externalize(s, path)
	}
	s, ok := asSerializable(v)
	if !ok {
		return nil, false, nil
	}
	return h.externalize(s, path)
}

func (h *blobDumpHook) externalize(s Serializable, path string) (any, bool, error) {
	state, err := s.SerializeState()
	if err != nil {
		return nil, false, fmt.Errorf("hyperstate: serializing %q: %w", path, err)
	}
	data, err := msgpack.Marshal(state)
	if err != nil {
		return nil, false, fmt.Errorf("hyperstate: encoding blob for %q: %w", path, err)
	}
	h.blobs[blobFilename(path)] = data
	return BlobSentinel, true, nil
}

// ModifyAttrs implements serde.EncodeHook.
func (h *blobDumpHook) ModifyAttrs(st *schema.Struct, v any, attrs *serde.Attrs, path string) {}

// asSerializable adapts v to Serializable, taking an addressable copy when
// the methods live on the pointer type.
func asSerializable(v any) (Serializable, bool) {
	if s, ok := v.(Serializable); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !reflect.PointerTo(rv.Type()).Implements(serializableType) {
		return nil, false
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Interface().(Serializable), true
}

var blobPathReplacer = strings.NewReplacer("[", "_", "]", "")

// blobFilename derives the sidecar file name for a field path.
func blobFilename(path string) string {
	return "state." + blobPathReplacer.Replace(path) + ".msgpack"
}
