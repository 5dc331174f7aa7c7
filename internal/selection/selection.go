package selection

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflictingField is returned when the same field is requested twice
	// with different declared types.
	ErrConflictingField = errors.New("conflicting field definitions")
	// ErrInvalidField is returned for nodes without a usable field name.
	ErrInvalidField = errors.New("invalid field name")
)

// Kind tags the three selection variants.
type Kind uint8

const (
	// KindSimple is the general sparse case.
	KindSimple Kind = iota
	// KindEmpty contains nothing.
	KindEmpty
	// KindFull contains everything; sub-selecting returns itself.
	KindFull
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindFull:
		return "full"
	default:
		return "simple"
	}
}

// Node is the construction input for a requested field.
//
// A nil Children marks a leaf. A non-nil empty Children means the field was
// requested but none of its sub-fields are known yet.
type Node struct {
	Field    string
	Type     string
	Children []Node
}

// Leaf returns a scalar field node.
func Leaf(name string) Node { return Node{Field: name} }

// Object returns a field node with the given sub-fields. The result is never a
// leaf, even when no children are passed.
func Object(name string, children ...Node) Node {
	if children == nil {
		children = []Node{}
	}
	return Node{Field: name, Children: children}
}

// field is a resolved, immutable node of a simple selection.
type field struct {
	name     string
	typ      string
	children *Selection
}

// Selection is an immutable sparse tree of requested fields.
type Selection struct {
	kind     Kind
	typeName string
	fields   []*field
	index    map[string]int
	skips    *SkipOvers
}

var (
	empty = &Selection{kind: KindEmpty}
	full  = &Selection{kind: KindFull}
)

// Empty returns the selection that contains nothing.
func Empty() *Selection { return empty }

// Full returns the selection that contains everything.
func Full() *Selection { return full }

// New builds a simple selection from nodes. Sibling nodes sharing a field name
// are merged; they conflict when both declare different types.
func New(nodes ...Node) (*Selection, error) {
	return build("", nodes)
}

// NewTyped is New with the owning type name set. The type scopes skip-over
// lookups.
func NewTyped(typeName string, nodes ...Node) (*Selection, error) {
	return build(typeName, nodes)
}

func build(typeName string, nodes []Node) (*Selection, error) {
	s := &Selection{kind: KindSimple, typeName: typeName, index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		if n.Field == "" || strings.Contains(n.Field, ".") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, n.Field)
		}
		var children *Selection
		if n.Children != nil {
			c, err := build(n.Type, n.Children)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n.Field, err)
			}
			children = c
		}
		if err := s.add(&field{name: n.Field, typ: n.Type, children: children}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// add inserts f, merging it into an existing sibling of the same name.
func (s *Selection) add(f *field) error {
	idx, ok := s.index[f.name]
	if !ok {
		s.index[f.name] = len(s.fields)
		s.fields = append(s.fields, f)
		return nil
	}
	merged, err := mergeField(s.fields[idx], f)
	if err != nil {
		return err
	}
	s.fields[idx] = merged
	return nil
}

func mergeField(a, b *field) (*field, error) {
	typ := a.typ
	if typ == "" {
		typ = b.typ
	} else if b.typ != "" && b.typ != a.typ {
		return nil, fmt.Errorf("%w: %q declared as %s and %s", ErrConflictingField, a.name, a.typ, b.typ)
	}
	out := &field{name: a.name, typ: typ}
	switch {
	case a.children == nil && b.children == nil:
	case a.children == nil:
		out.children = b.children
	case b.children == nil:
		out.children = a.children
	default:
		c, err := mergeSimple([]*Selection{a.children, b.children})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		out.children = c
	}
	if out.children != nil && out.children.typeName == "" && typ != "" {
		out.children = out.children.WithType(typ)
	}
	return out, nil
}

// Kind reports the selection variant.
func (s *Selection) Kind() Kind {
	if s == nil {
		return KindEmpty
	}
	return s.kind
}

// TypeName returns the type owning the selected fields, if known.
func (s *Selection) TypeName() string {
	if s == nil {
		return ""
	}
	return s.typeName
}

// SkipOvers returns the registry consulted by lookups, possibly nil.
func (s *Selection) SkipOvers() *SkipOvers {
	if s == nil {
		return nil
	}
	return s.skips
}

// IsEmpty reports whether the selection requests nothing.
func (s *Selection) IsEmpty() bool {
	switch s.Kind() {
	case KindEmpty:
		return true
	case KindFull:
		return false
	}
	return len(s.fields) == 0
}

// Fields returns the top-level field names in request order. Empty and Full
// selections have no enumerable fields.
func (s *Selection) Fields() []string {
	if s.Kind() != KindSimple {
		return nil
	}
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.name
	}
	return out
}

// Has reports whether name is a direct child field. It ignores skip-overs.
func (s *Selection) Has(name string) bool {
	switch s.Kind() {
	case KindFull:
		return true
	case KindEmpty:
		return false
	}
	_, ok := s.index[name]
	return ok
}

// Paths returns every dotted field path in depth-first request order.
func (s *Selection) Paths() []string {
	if s.Kind() != KindSimple {
		return nil
	}
	var out []string
	s.walk("", func(path string, _ *field) bool {
		out = append(out, path)
		return true
	})
	return out
}

// walk visits fields depth-first until fn returns false. It reports whether
// the walk ran to completion.
func (s *Selection) walk(prefix string, fn func(path string, f *field) bool) bool {
	for _, f := range s.fields {
		path := prefix + f.name
		if !fn(path, f) {
			return false
		}
		if f.children != nil && f.children.kind == KindSimple {
			if !f.children.walk(path+".", fn) {
				return false
			}
		}
	}
	return true
}

// WithType returns a shallow copy owned by typeName. Empty and Full are
// returned unchanged.
func (s *Selection) WithType(typeName string) *Selection {
	if s.Kind() != KindSimple || s.typeName == typeName {
		return s
	}
	c := *s
	c.typeName = typeName
	return &c
}

// WithSkipOvers returns a shallow copy whose lookups consult r. Sub-selections
// obtained from the copy share r.
func (s *Selection) WithSkipOvers(r *SkipOvers) *Selection {
	if s.Kind() != KindSimple {
		return s
	}
	c := *s
	c.skips = r
	return &c
}

// child returns f's sub-selection carrying this selection's skip-overs.
func (s *Selection) child(f *field) *Selection {
	if f.children == nil {
		return nil
	}
	c := f.children
	if c.kind != KindSimple {
		return c
	}
	if c.skips == s.skips && (c.typeName != "" || f.typ == "") {
		return c
	}
	cp := *c
	cp.skips = s.skips
	if cp.typeName == "" {
		cp.typeName = f.typ
	}
	return &cp
}

// Equal reports whether both selections request the same fields with equal
// sub-trees. Field order and skip-overs are not significant; an Empty
// selection equals a simple selection without fields.
func (s *Selection) Equal(o *Selection) bool {
	sk, ok := s.Kind(), o.Kind()
	if sk == KindFull || ok == KindFull {
		return sk == ok
	}
	if s.IsEmpty() || o.IsEmpty() {
		return s.IsEmpty() && o.IsEmpty()
	}
	if len(s.fields) != len(o.fields) {
		return false
	}
	for _, f := range s.fields {
		idx, ok := o.index[f.name]
		if !ok {
			return false
		}
		g := o.fields[idx]
		if f.typ != g.typ {
			return false
		}
		if (f.children == nil) != (g.children == nil) {
			return false
		}
		if f.children != nil && !f.children.Equal(g.children) {
			return false
		}
	}
	return true
}

// String renders the selection in GraphQL-like shorthand, e.g. "{a {x y} b}".
func (s *Selection) String() string {
	switch s.Kind() {
	case KindEmpty:
		return "{}"
	case KindFull:
		return "*"
	}
	var b strings.Builder
	s.render(&b)
	return b.String()
}

func (s *Selection) render(b *strings.Builder) {
	b.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.name)
		if f.children != nil {
			b.WriteByte(' ')
			if f.children.kind == KindSimple {
				f.children.render(b)
			} else {
				b.WriteString(f.children.String())
			}
		}
	}
	b.WriteByte('}')
}
