package scenecache

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Object is a type-tagged value stored in attributes, transforms and
// object entries. TypeName is persisted next to the payload and must be
// registered with Register before such payloads can be read back.
type Object interface {
	TypeName() string
}

// Lerper is implemented by objects that can be interpolated between samples.
// Lerp returns false when to is not compatible (different type or shape),
// in which case readers fall back to the closest sample.
type Lerper interface {
	Lerp(to Object, x float64) (Object, bool)
}

var registry = struct {
	sync.RWMutex
	types map[string]reflect.Type
}{types: make(map[string]reflect.Type)}

// Register makes *T decodable under the name returned by its TypeName.
func Register[T any, P interface {
	*T
	Object
}]() {
	name := P(new(T)).TypeName()
	registry.Lock()
	defer registry.Unlock()
	if prev, ok := registry.types[name]; ok && prev != reflect.TypeFor[T]() {
		panic(fmt.Errorf("scenecache: type name %q registered for both %v and %v", name, prev, reflect.TypeFor[T]()))
	}
	registry.types[name] = reflect.TypeFor[T]()
}

// NewObject returns a new zero value of the type registered as typeName.
func NewObject(typeName string) (Object, error) {
	registry.RLock()
	t := registry.types[typeName]
	registry.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("unregistered object type %q", typeName)
	}
	return reflect.New(t).Interface().(Object), nil
}

// RegisteredTypes lists every registered type name, sorted.
func RegisteredTypes() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.types))
	for name := range registry.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// encodeObject writes a nested object as [typeName, payload], or nil.
func encodeObject(enc *msgpack.Encoder, obj Object) error {
	if obj == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(obj.TypeName()); err != nil {
		return err
	}
	return enc.Encode(obj)
}

func decodeObject(dec *msgpack.Decoder) (Object, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n != 2 {
		return nil, fmt.Errorf("nested object: got %d elements, expected 2", n)
	}
	name, err := dec.DecodeString()
	if err != nil {
		return nil, err
	}
	obj, err := NewObject(name)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(obj); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return obj, nil
}

// lerpObjects interpolates a and b, or picks the closer one.
func lerpObjects(a, b Object, x float64) Object {
	if l, ok := a.(Lerper); ok && a.TypeName() == b.TypeName() {
		if o, ok := l.Lerp(b, x); ok {
			return o
		}
	}
	if x >= 0.5 {
		return b
	}
	return a
}
