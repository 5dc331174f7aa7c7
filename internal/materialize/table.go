package materialize

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Provider supplies member info per entity type.
type Provider interface {
	TypeInfo(typ string) (*TypeInfo, error)
}

// Builder computes the member info of a type.
type Builder func() (*TypeInfo, error)

// Static returns a Builder for member info constructed up front.
func Static(info *TypeInfo) Builder {
	return func() (*TypeInfo, error) { return info, nil }
}

// Table is a registration table of member info builders. Each type is built
// at most once, on first use or by Warm, and the result is shared by every
// later caller. Registration is expected to finish before the first lookup.
type Table struct {
	mu       sync.RWMutex
	builders map[string]Builder

	infos sync.Map // type -> built
	group singleflight.Group
}

type built struct {
	info *TypeInfo
	err  error
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{builders: map[string]Builder{}}
}

// Register adds the builder for typ.
func (t *Table) Register(typ string, b Builder) error {
	if typ == "" || b == nil {
		return fmt.Errorf("%w: empty registration", ErrUnsupportedShape)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.builders[typ]; ok {
		return fmt.Errorf("%w: %s registered twice", ErrUnsupportedShape, typ)
	}
	t.builders[typ] = b
	return nil
}

// Types returns the registered type names sorted.
func (t *Table) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.builders))
	for typ := range t.builders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// TypeInfo returns the member info of typ, building it on first use. A build
// error is remembered and returned to every caller.
func (t *Table) TypeInfo(typ string) (*TypeInfo, error) {
	if v, ok := t.infos.Load(typ); ok {
		b := v.(built)
		return b.info, b.err
	}
	t.mu.RLock()
	build, ok := t.builders[typ]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	v, _, _ := t.group.Do(typ, func() (any, error) {
		if v, ok := t.infos.Load(typ); ok {
			return v, nil
		}
		info, err := build()
		if err == nil {
			if info == nil {
				err = fmt.Errorf("%w: %s builder returned nothing", ErrUnsupportedShape, typ)
			} else if info.Name != typ {
				err = fmt.Errorf("%w: %s builder described %s", ErrUnsupportedShape, typ, info.Name)
			} else {
				err = info.validate()
			}
		}
		if err != nil {
			info = nil
		}
		b := built{info: info, err: err}
		t.infos.Store(typ, b)
		return b, nil
	})
	b := v.(built)
	return b.info, b.err
}

// Warm builds every registered type and reports the first failure, so
// unsupported shapes surface at startup rather than on a request.
func (t *Table) Warm() error {
	for _, typ := range t.Types() {
		info, err := t.TypeInfo(typ)
		if err != nil {
			return err
		}
		for _, m := range info.Members {
			t.mu.RLock()
			_, ok := t.builders[m.Target]
			t.mu.RUnlock()
			if !ok {
				return fmt.Errorf("%w: %s.%s targets %s", ErrUnknownType, typ, m.Name, m.Target)
			}
		}
	}
	return nil
}
