// Package metadata describes what can be fetched for each entity type: its
// identifier, eager and lazy columns, embedded value objects and relations.
//
// Entity trees are built once, at startup, and are never mutated afterwards.
// A Registry is therefore safe for unsynchronized concurrent reads. Relations
// may form cycles at the type level; consumers must not assume the tree is
// finite when followed blindly.
package metadata

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnsupportedShape reports a member whose shape cannot be fetched.
	ErrUnsupportedShape = errors.New("unsupported shape")
	// ErrUnknownType reports a reference to a type the registry does not know.
	ErrUnknownType = errors.New("unknown type")
	// ErrDuplicateType reports a type registered twice.
	ErrDuplicateType = errors.New("duplicate type")
)

// Entity is the fetch metadata of one entity or embeddable type.
type Entity struct {
	// Type is the entity type name; registry lookups are keyed by it.
	Type string
	// ViewName names the fetch view handed to the query builder.
	ViewName string
	// ID is the identifier property. It is empty for embeddable value types.
	ID           string
	Columns      []string
	LazyColumns  []string
	Embedded     map[string]*Entity
	LazyEmbedded map[string]*Entity
	Relations    map[string]*Entity
}

// IsEmbeddable reports whether e describes a value type without identity.
func (e *Entity) IsEmbeddable() bool { return e.ID == "" }

// Has reports whether property is backed by e.
func (e *Entity) Has(property string) bool {
	if property == "" {
		return false
	}
	if property == e.ID {
		return true
	}
	for _, c := range e.Columns {
		if c == property {
			return true
		}
	}
	for _, c := range e.LazyColumns {
		if c == property {
			return true
		}
	}
	if _, ok := e.Embedded[property]; ok {
		return true
	}
	if _, ok := e.LazyEmbedded[property]; ok {
		return true
	}
	_, ok := e.Relations[property]
	return ok
}

// Properties returns every property name of e in a stable order: identifier,
// columns, lazy columns, then embedded, lazy embedded and relations sorted by
// name.
func (e *Entity) Properties() []string {
	var out []string
	if e.ID != "" {
		out = append(out, e.ID)
	}
	out = append(out, e.Columns...)
	out = append(out, e.LazyColumns...)
	out = append(out, SortedKeys(e.Embedded)...)
	out = append(out, SortedKeys(e.LazyEmbedded)...)
	out = append(out, SortedKeys(e.Relations)...)
	return out
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]*Entity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry maps entity type names to their metadata.
type Registry struct {
	entities map[string]*Entity
	order    []string
}

// NewRegistry validates entities and indexes them by type. Every relation
// target must itself be registered.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e == nil || e.Type == "" {
			return nil, fmt.Errorf("%w: entity without type name", ErrUnsupportedShape)
		}
		if _, ok := r.entities[e.Type]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, e.Type)
		}
		r.entities[e.Type] = e
		r.order = append(r.order, e.Type)
	}
	for _, name := range r.order {
		e := r.entities[name]
		if err := r.validate(e, map[*Entity]bool{}); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := embeddingCycle(e, map[*Entity]bool{}); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return r, nil
}

// embeddingCycle rejects value types that embed themselves. Embedded values
// are always fetched, so such a cycle would never terminate.
func embeddingCycle(e *Entity, stack map[*Entity]bool) error {
	if stack[e] {
		return fmt.Errorf("%w: %s embeds itself", ErrUnsupportedShape, e.Type)
	}
	stack[e] = true
	defer delete(stack, e)
	for _, group := range []map[string]*Entity{e.Embedded, e.LazyEmbedded} {
		for _, prop := range SortedKeys(group) {
			if err := embeddingCycle(group[prop], stack); err != nil {
				return fmt.Errorf("%s: %w", prop, err)
			}
		}
	}
	return nil
}

func (r *Registry) validate(e *Entity, seen map[*Entity]bool) error {
	if seen[e] {
		return nil
	}
	seen[e] = true

	names := map[string]bool{}
	claim := func(name string) error {
		if name == "" {
			return fmt.Errorf("%w: empty property name", ErrUnsupportedShape)
		}
		if names[name] {
			return fmt.Errorf("%w: property %q declared twice", ErrUnsupportedShape, name)
		}
		names[name] = true
		return nil
	}
	if e.ID != "" {
		if err := claim(e.ID); err != nil {
			return err
		}
	}
	for _, c := range append(append([]string(nil), e.Columns...), e.LazyColumns...) {
		if err := claim(c); err != nil {
			return err
		}
	}
	for _, group := range []map[string]*Entity{e.Embedded, e.LazyEmbedded} {
		for _, prop := range SortedKeys(group) {
			if err := claim(prop); err != nil {
				return err
			}
			child := group[prop]
			if child == nil || !child.IsEmbeddable() {
				return fmt.Errorf("%w: embedded %q must be an embeddable type", ErrUnsupportedShape, prop)
			}
			if err := r.validate(child, seen); err != nil {
				return fmt.Errorf("%s: %w", prop, err)
			}
		}
	}
	for _, prop := range SortedKeys(e.Relations) {
		if err := claim(prop); err != nil {
			return err
		}
		target := e.Relations[prop]
		if target == nil || target.IsEmbeddable() {
			return fmt.Errorf("%w: relation %q must target an entity", ErrUnsupportedShape, prop)
		}
		if registered, ok := r.entities[target.Type]; !ok || registered != target {
			return fmt.Errorf("%w: relation %q targets unregistered %s", ErrUnknownType, prop, target.Type)
		}
	}
	return nil
}

// Lookup returns the metadata registered for typ.
func (r *Registry) Lookup(typ string) (*Entity, bool) {
	e, ok := r.entities[typ]
	return e, ok
}

// Types returns the registered type names in registration order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.order...)
}
