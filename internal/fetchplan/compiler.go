// Package fetchplan turns a selection into the minimal set of dotted fetch
// paths for an entity type.
//
// The compiler walks the selection and the fetch metadata in lock-step.
// Identifiers and eager columns are always fetched. Lazy columns, lazy
// embedded values and relations are fetched only when the selection asks for
// them, so the walk is bounded by the depth of the selection rather than by
// the (possibly cyclic) shape of the metadata.
package fetchplan

import (
	"strings"

	"go.uber.org/zap"

	metadata "github.com/hanpama/fetchgraph/internal/metadata"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

// Compiler emits fetch paths. A Compiler holds no per-request state and may
// be shared.
type Compiler struct {
	log      *zap.Logger
	maxDepth int
}

type Option func(*Compiler)

// WithLogger sets the logger used to report selection fields that have no
// metadata counterpart.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMaxDepth limits how many relations deep the compiler descends. Zero
// means unlimited.
func WithMaxDepth(n int) Option { return func(c *Compiler) { c.maxDepth = n } }

// New returns a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compile emits to sink every path needed to satisfy sel against root. A nil
// selection is treated as Empty.
func (c *Compiler) Compile(root *metadata.Entity, sel *selection.Selection, sink Fetcher) {
	if root == nil || sink == nil {
		return
	}
	if sel == nil {
		sel = selection.Empty()
	}
	w := walker{Compiler: c, sink: sink, onPath: map[*metadata.Entity]int{}}
	w.visit(root, sel, "", 0)
}

// Paths is Compile into a fresh PathSet, returning the sorted paths.
func (c *Compiler) Paths(root *metadata.Entity, sel *selection.Selection) []string {
	set := NewPathSet()
	c.Compile(root, sel, set)
	return set.Paths()
}

type walker struct {
	*Compiler
	sink Fetcher
	// entities on the current descent path
	onPath map[*metadata.Entity]int
}

func (w *walker) visit(e *metadata.Entity, sel *selection.Selection, prefix string, depth int) {
	sel = sel.WithType(e.Type)
	w.onPath[e]++
	defer func() { w.onPath[e]-- }()

	if e.ID != "" {
		w.sink.Fetch(prefix + e.ID)
	}
	for _, col := range e.Columns {
		w.sink.Fetch(prefix + col)
	}
	for _, col := range e.LazyColumns {
		if sel.Contains(col) {
			w.sink.Fetch(prefix + col)
		}
	}

	for _, prop := range metadata.SortedKeys(e.Embedded) {
		child := e.Embedded[prop]
		sub := sel.SubSelect(prop)
		if sub == nil {
			sub = selection.Empty()
		}
		if w.revisits(child, sel, sub) {
			continue
		}
		w.visit(child, sub, prefix+prop+".", depth)
	}
	for _, prop := range metadata.SortedKeys(e.LazyEmbedded) {
		child := e.LazyEmbedded[prop]
		sub := sel.SubSelect(prop)
		if sub == nil || w.revisits(child, sel, sub) {
			continue
		}
		w.visit(child, sub, prefix+prop+".", depth)
	}
	for _, prop := range metadata.SortedKeys(e.Relations) {
		child := e.Relations[prop]
		sub := sel.SubSelect(prop)
		if sub == nil || w.revisits(child, sel, sub) {
			continue
		}
		if w.maxDepth > 0 && depth >= w.maxDepth {
			w.log.Debug("relation beyond max depth",
				zap.String("type", e.Type),
				zap.String("path", prefix+prop),
				zap.Int("max_depth", w.maxDepth))
			continue
		}
		w.visit(child, sub, prefix+prop+".", depth+1)
	}

	w.reportUnknown(e, sel)
}

// revisits reports whether descending into child with sub would repeat the
// walk without making progress: the child is already on the descent path and
// the selection did not narrow. This only happens with Full selections or
// pass-through skip-over rules. The cut is made before the hop, so under Full
// a relation back to an entity on the path contributes no paths at all, not
// even the related identifier.
func (w *walker) revisits(child *metadata.Entity, sel, sub *selection.Selection) bool {
	if w.onPath[child] == 0 {
		return false
	}
	return sub.Kind() == selection.KindFull || sub == sel
}

// reportUnknown logs selected fields that e does not back. They are left to
// resolve elsewhere.
func (w *walker) reportUnknown(e *metadata.Entity, sel *selection.Selection) {
	if !w.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	fields := sel.Fields()
	if len(fields) == 0 {
		return
	}
	rules := append(sel.SkipOvers().Rules(), sel.SkipOvers().Removed()...)
	for _, r := range rules {
		if r.Target == "" && (r.Type == "" || r.Type == e.Type) && e.Has(r.Field) {
			// fields belong to the entity behind the hop
			return
		}
	}
	for _, name := range fields {
		if e.Has(name) || skipTarget(rules, name, e) {
			continue
		}
		w.log.Debug("selected field has no fetch metadata",
			zap.String("type", e.Type),
			zap.String("field", name))
	}
}

func skipTarget(rules []selection.SkipOver, name string, e *metadata.Entity) bool {
	for _, r := range rules {
		head, _, _ := strings.Cut(r.Target, ".")
		if head == name && e.Has(r.Field) {
			return true
		}
	}
	return false
}
