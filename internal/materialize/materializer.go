// Package materialize cleans up a fetched entity graph. It replaces loaded
// placeholders with their values, clears references that were never loaded,
// and stops at entities it has already seen, so cyclic graphs terminate.
//
// Relation access goes through member info registered per type (see Table)
// rather than through the data layer, which keeps lazy-loading semantics in
// one place: Lazy, LoadState and Member.Initialized.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
)

// VisitedKey identifies an entity within one materialization.
type VisitedKey struct {
	Type string
	ID   any
}

// Stats summarizes a materialization.
type Stats struct {
	// Visited is the number of distinct entities reached, roots included.
	Visited int
	// Nulled is the number of unloaded references that were cleared. A
	// member reached through several declared types of its owner counts once.
	Nulled int
}

// Materializer walks entity graphs using member info from a Provider. It is
// safe for concurrent use; each call keeps its own visited set.
type Materializer struct {
	types Provider
	log   *zap.Logger
}

type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.log = l
		}
	}
}

// New returns a Materializer reading member info from types.
func New(types Provider, opts ...Option) *Materializer {
	m := &Materializer{types: types, log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Materialize processes roots, entities of declared type typ, and everything
// reachable from them. Writes are applied only once the whole graph has been
// walked; on error the graph is left as it was.
func (m *Materializer) Materialize(ctx context.Context, typ string, roots ...any) (stats Stats, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.MaterializeStart{Type: typ, Roots: len(roots)})
	defer func() {
		eventbus.Publish(ctx, events.MaterializeFinish{
			Type:     typ,
			Roots:    len(roots),
			Visited:  stats.Visited,
			Nulled:   stats.Nulled,
			Duration: time.Since(start),
			Err:      err,
		})
	}()

	r := &run{
		types:   m.types,
		visited: map[VisitedKey]struct{}{},
		next:    map[string][]any{},
		members: map[memberKey]struct{}{},
	}
	for _, root := range roots {
		if root == nil {
			continue
		}
		if err := r.enqueue(typ, root); err != nil {
			return Stats{}, err
		}
	}

	for len(r.next) > 0 {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		frontier := r.next
		r.next = map[string][]any{}
		types := make([]string, 0, len(frontier))
		for t := range frontier {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			if err := r.batch(t, frontier[t]); err != nil {
				return Stats{}, err
			}
		}
	}

	if err := r.apply(); err != nil {
		return Stats{}, err
	}
	stats = Stats{Visited: len(r.visited), Nulled: r.nulled}
	m.log.Debug("materialized",
		zap.String("type", typ),
		zap.Int("roots", len(roots)),
		zap.Int("visited", stats.Visited),
		zap.Int("nulled", stats.Nulled))
	return stats, nil
}

type write struct {
	owner         any
	member        *Member
	before, after any
}

type memberKey struct {
	owner any
	name  string
}

type run struct {
	types   Provider
	visited map[VisitedKey]struct{}
	// entities to process next, batched by declared type
	next map[string][]any
	// members already journaled, for entities reached under several types
	members map[memberKey]struct{}
	journal []write
	nulled  int
}

// batch processes every relation of entities sharing the declared type typ.
func (r *run) batch(typ string, entities []any) error {
	info, err := r.types.TypeInfo(typ)
	if err != nil {
		return err
	}
	for _, owner := range entities {
		for i := range info.Members {
			if err := r.member(owner, &info.Members[i]); err != nil {
				return fmt.Errorf("%s.%s: %w", typ, info.Members[i].Name, err)
			}
		}
	}
	return nil
}

func (r *run) member(owner any, mem *Member) error {
	repeat := r.repeated(owner, mem.Name)
	cur, err := mem.Get(owner)
	if err != nil {
		return accessorError(err)
	}
	cur = valueOrNil(cur)
	if cur == nil {
		return nil
	}
	if !mem.initialized(owner) {
		if !repeat {
			r.clear(owner, mem, cur)
		}
		return nil
	}

	if !mem.Collection {
		v, loaded, unwrapped := resolve(cur)
		if !loaded {
			if !repeat {
				r.clear(owner, mem, cur)
			}
			return nil
		}
		if unwrapped && !repeat {
			r.journal = append(r.journal, write{owner: owner, member: mem, before: cur, after: v})
		}
		if v == nil {
			return nil
		}
		return r.enqueue(mem.Target, v)
	}

	elems, ok := cur.([]any)
	if !ok {
		return fmt.Errorf("%w: collection value %T", ErrAccessor, cur)
	}
	out := make([]any, len(elems))
	changed := false
	for i, e := range elems {
		if e == nil {
			continue
		}
		v, loaded, unwrapped := resolve(e)
		if !loaded {
			if !repeat {
				r.nulled++
			}
			changed = true
			continue
		}
		changed = changed || unwrapped
		out[i] = v
		if v == nil {
			continue
		}
		if err := r.enqueue(mem.Target, v); err != nil {
			return err
		}
	}
	if changed && !repeat {
		r.journal = append(r.journal, write{owner: owner, member: mem, before: cur, after: out})
	}
	return nil
}

// repeated reports whether the member of owner was already handled under
// another declared type. Values are still enqueued on a repeat, since the
// target type may differ.
func (r *run) repeated(owner any, name string) bool {
	if !reflect.TypeOf(owner).Comparable() {
		return false
	}
	k := memberKey{owner: owner, name: name}
	if _, ok := r.members[k]; ok {
		return true
	}
	r.members[k] = struct{}{}
	return false
}

// clear records that an unloaded member is to be set to nil.
func (r *run) clear(owner any, mem *Member, before any) {
	r.journal = append(r.journal, write{owner: owner, member: mem, before: before})
	r.nulled++
}

// enqueue marks entity as visited and schedules it, unless it was already
// seen under the same declared type.
func (r *run) enqueue(typ string, entity any) error {
	info, err := r.types.TypeInfo(typ)
	if err != nil {
		return err
	}
	id, err := info.ID(entity)
	if err != nil {
		return fmt.Errorf("%s: %w", typ, accessorError(err))
	}
	if id == nil || !reflect.TypeOf(id).Comparable() {
		return fmt.Errorf("%w: %s: identifier %v of %T is not usable as a key", ErrAccessor, typ, id, entity)
	}
	key := VisitedKey{Type: typ, ID: id}
	if _, ok := r.visited[key]; ok {
		return nil
	}
	r.visited[key] = struct{}{}
	r.next[typ] = append(r.next[typ], entity)
	return nil
}

// apply performs the journaled writes. If one fails, the writes already
// applied are reverted; revert failures are returned with the original error.
func (r *run) apply() error {
	for i, w := range r.journal {
		if err := w.member.Set(w.owner, w.after); err != nil {
			errs := []error{fmt.Errorf("%s: %w", w.member.Name, accessorError(err))}
			for j := i - 1; j >= 0; j-- {
				u := r.journal[j]
				if err := u.member.Set(u.owner, u.before); err != nil {
					errs = append(errs, fmt.Errorf("reverting %s: %w", u.member.Name, accessorError(err)))
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

// resolve unwraps placeholders. It reports whether the value was loaded and
// whether a placeholder was removed.
func resolve(v any) (value any, loaded, unwrapped bool) {
	for {
		lz, ok := v.(Lazy)
		if !ok {
			return v, true, unwrapped
		}
		if !lz.Initialized() {
			return nil, false, unwrapped
		}
		v = valueOrNil(lz.Unwrap())
		unwrapped = true
	}
}

func accessorError(err error) error {
	if errors.Is(err, ErrAccessor) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAccessor, err)
}
