// Package planner answers "what must be fetched" for a GraphQL request. It
// maps each root field of the operation to an entity type, merges the
// selections of roots that share a type, and compiles one fetch plan per
// type.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	fetchplan "github.com/hanpama/fetchgraph/internal/fetchplan"
	metadata "github.com/hanpama/fetchgraph/internal/metadata"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

// ErrUnknownRoot is returned for root fields with no entity type mapping.
var ErrUnknownRoot = errors.New("unknown root field")

// Request is one planning request.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	// SkipOvers are added to the planner's configured rules for this request
	// only. Single-use rules are consumed within the request.
	SkipOvers []selection.SkipOver
}

// Planner compiles fetch plans against a metadata registry. It is safe for
// concurrent use.
type Planner struct {
	registry  *metadata.Registry
	roots     map[string]string
	skipOvers []selection.SkipOver
	compiler  *fetchplan.Compiler
	log       *zap.Logger
	maxDepth  int
}

type Option func(*Planner)

// WithRoots maps GraphQL root field names to entity types. Without roots,
// a root field resolves to the entity type of the same name with its first
// letter upper-cased.
func WithRoots(roots map[string]string) Option {
	return func(p *Planner) {
		for field, typ := range roots {
			p.roots[field] = typ
		}
	}
}

// WithSkipOvers sets skip-over rules applied to every request.
func WithSkipOvers(rules ...selection.SkipOver) Option {
	return func(p *Planner) { p.skipOvers = append(p.skipOvers, rules...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMaxDepth bounds relation nesting in compiled plans.
func WithMaxDepth(n int) Option { return func(p *Planner) { p.maxDepth = n } }

// New returns a Planner. Every configured root must map to a registered
// entity type.
func New(registry *metadata.Registry, opts ...Option) (*Planner, error) {
	p := &Planner{registry: registry, roots: map[string]string{}, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	for field, typ := range p.roots {
		if _, ok := registry.Lookup(typ); !ok {
			return nil, fmt.Errorf("root %s: %w: %s", field, metadata.ErrUnknownType, typ)
		}
	}
	for _, r := range p.skipOvers {
		if r.Field == "" {
			return nil, fmt.Errorf("skip-over without field: %+v", r)
		}
	}
	p.compiler = fetchplan.New(fetchplan.WithLogger(p.log), fetchplan.WithMaxDepth(p.maxDepth))
	return p, nil
}

// Registry returns the metadata registry plans are compiled against.
func (p *Planner) Registry() *metadata.Registry { return p.registry }

// Plan returns sorted fetch paths keyed by entity type.
func (p *Planner) Plan(ctx context.Context, req Request) (paths map[string][]string, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.PlanStart{Query: req.Query, OperationName: req.OperationName})
	defer func() {
		eventbus.Publish(ctx, events.PlanFinish{
			Query:         req.Query,
			OperationName: req.OperationName,
			Paths:         paths,
			Duration:      time.Since(start),
			Err:           err,
		})
	}()

	sel, err := selection.FromQuery(req.Query, req.OperationName, req.Variables)
	if err != nil {
		return nil, err
	}

	byType := map[string][]*selection.Selection{}
	for _, field := range sel.Fields() {
		typ, ok := p.entityFor(field)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, field)
		}
		sub := sel.SubSelect(field)
		if sub == nil {
			sub = selection.Empty()
		}
		byType[typ] = append(byType[typ], sub)
	}

	rules := append(append([]selection.SkipOver(nil), p.skipOvers...), req.SkipOvers...)
	paths = make(map[string][]string, len(byType))
	for _, typ := range sortedKeys(byType) {
		merged, err := selection.Merge(byType[typ]...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", typ, err)
		}
		if len(rules) > 0 {
			merged = merged.WithSkipOvers(selection.NewSkipOvers(rules...))
		}
		root, _ := p.registry.Lookup(typ)
		paths[typ] = p.compiler.Paths(root, merged)
	}
	return paths, nil
}

// PlanEntity compiles sel against a single entity type.
func (p *Planner) PlanEntity(ctx context.Context, typ string, sel *selection.Selection) (paths []string, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.PlanStart{OperationName: typ})
	defer func() {
		var byType map[string][]string
		if err == nil {
			byType = map[string][]string{typ: paths}
		}
		eventbus.Publish(ctx, events.PlanFinish{OperationName: typ, Paths: byType, Duration: time.Since(start), Err: err})
	}()

	root, ok := p.registry.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", metadata.ErrUnknownType, typ)
	}
	if len(p.skipOvers) > 0 {
		rules := append(append([]selection.SkipOver(nil), p.skipOvers...), sel.SkipOvers().Rules()...)
		sel = sel.WithSkipOvers(selection.NewSkipOvers(rules...))
	}
	return p.compiler.Paths(root, sel), nil
}

func (p *Planner) entityFor(field string) (string, bool) {
	if len(p.roots) > 0 {
		typ, ok := p.roots[field]
		return typ, ok
	}
	if field == "" {
		return "", false
	}
	typ := strings.ToUpper(field[:1]) + field[1:]
	_, ok := p.registry.Lookup(typ)
	return typ, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
