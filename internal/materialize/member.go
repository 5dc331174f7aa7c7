package materialize

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnsupportedShape reports a member that cannot be described.
	ErrUnsupportedShape = errors.New("unsupported member shape")
	// ErrAccessor reports a failure reading or writing an entity. It points
	// at a registration that does not match the entity type and is never
	// retried.
	ErrAccessor = errors.New("accessor failure")
	// ErrUnknownType reports a type with no registered member info.
	ErrUnknownType = errors.New("unknown type")
)

// Lazy is implemented by placeholders standing in for relation values the
// data layer may not have loaded. Initialized must inspect local state only.
type Lazy interface {
	Initialized() bool
	// Unwrap returns the loaded value. It is only called when Initialized
	// reports true.
	Unwrap() any
}

// LoadState is implemented by entities that track which relations were
// loaded. It is consulted for members without an Initialized func.
type LoadState interface {
	Loaded(member string) bool
}

// Member describes one relation of an entity type.
type Member struct {
	Name string
	// Target is the declared type of the related entity.
	Target     string
	Collection bool
	// Get returns the current value: nil, an entity, or a Lazy. For
	// collections it returns nil or a []any of elements.
	Get func(owner any) (any, error)
	// Set stores a resolved value of the same shape Get returns.
	Set func(owner, value any) error
	// Initialized reports whether the member was loaded on owner.
	Initialized func(owner any) bool
}

func (m *Member) initialized(owner any) bool {
	if m.Initialized != nil {
		return m.Initialized(owner)
	}
	if ls, ok := owner.(LoadState); ok {
		return ls.Loaded(m.Name)
	}
	return true
}

// TypeInfo is the member info of one entity type.
type TypeInfo struct {
	Name string
	// ID reads the identifier. Identifiers must be comparable.
	ID      func(entity any) (any, error)
	Members []Member
}

func (ti *TypeInfo) validate() error {
	if ti.Name == "" {
		return fmt.Errorf("%w: type without name", ErrUnsupportedShape)
	}
	if ti.ID == nil {
		return fmt.Errorf("%w: %s has no identifier accessor", ErrUnsupportedShape, ti.Name)
	}
	seen := map[string]bool{}
	for _, m := range ti.Members {
		switch {
		case m.Name == "":
			return fmt.Errorf("%w: %s has an unnamed member", ErrUnsupportedShape, ti.Name)
		case seen[m.Name]:
			return fmt.Errorf("%w: %s.%s registered twice", ErrUnsupportedShape, ti.Name, m.Name)
		case m.Target == "":
			return fmt.Errorf("%w: %s.%s has no target type", ErrUnsupportedShape, ti.Name, m.Name)
		case m.Get == nil || m.Set == nil:
			return fmt.Errorf("%w: %s.%s needs both accessor and mutator", ErrUnsupportedShape, ti.Name, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// IDOf adapts a typed identifier accessor.
func IDOf[O any, K comparable](fn func(O) K) func(any) (any, error) {
	return func(entity any) (any, error) {
		o, ok := entity.(O)
		if !ok {
			return nil, fmt.Errorf("%w: identifier of %T, want %T", ErrAccessor, entity, *new(O))
		}
		return fn(o), nil
	}
}

// ToOne builds a to-one member from typed accessors. V is usually a pointer
// to the target entity, or an interface when the field can hold a Lazy.
func ToOne[O, V any](name, target string, get func(O) V, set func(O, V)) Member {
	return Member{
		Name:   name,
		Target: target,
		Get: func(owner any) (any, error) {
			o, err := ownerOf[O](owner, name)
			if err != nil {
				return nil, err
			}
			return valueOrNil(get(o)), nil
		},
		Set: func(owner, value any) error {
			o, err := ownerOf[O](owner, name)
			if err != nil {
				return err
			}
			v, err := convert[V](value, name)
			if err != nil {
				return err
			}
			set(o, v)
			return nil
		},
	}
}

// ToMany builds a collection member from typed accessors.
func ToMany[O, V any](name, target string, get func(O) []V, set func(O, []V)) Member {
	return Member{
		Name:       name,
		Target:     target,
		Collection: true,
		Get: func(owner any) (any, error) {
			o, err := ownerOf[O](owner, name)
			if err != nil {
				return nil, err
			}
			vs := get(o)
			if vs == nil {
				return nil, nil
			}
			out := make([]any, len(vs))
			for i, v := range vs {
				out[i] = valueOrNil(v)
			}
			return out, nil
		},
		Set: func(owner, value any) error {
			o, err := ownerOf[O](owner, name)
			if err != nil {
				return err
			}
			if value == nil {
				set(o, nil)
				return nil
			}
			elems, ok := value.([]any)
			if !ok {
				return fmt.Errorf("%w: %s: collection value %T", ErrAccessor, name, value)
			}
			vs := make([]V, len(elems))
			for i, e := range elems {
				if vs[i], err = convert[V](e, name); err != nil {
					return err
				}
			}
			set(o, vs)
			return nil
		},
	}
}

// Loaded attaches a typed load-state predicate to m.
func Loaded[O any](m Member, fn func(O) bool) Member {
	m.Initialized = func(owner any) bool {
		o, ok := owner.(O)
		return ok && fn(o)
	}
	return m
}

func ownerOf[O any](owner any, member string) (O, error) {
	o, ok := owner.(O)
	if !ok {
		return o, fmt.Errorf("%w: %s: owner %T, want %T", ErrAccessor, member, owner, *new(O))
	}
	return o, nil
}

func convert[V any](value any, member string) (V, error) {
	var zero V
	if value == nil {
		return zero, nil
	}
	v, ok := value.(V)
	if !ok {
		return zero, fmt.Errorf("%w: %s: cannot store %T as %T", ErrAccessor, member, value, zero)
	}
	return v, nil
}

// valueOrNil turns typed nils into an untyped nil.
func valueOrNil(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}
