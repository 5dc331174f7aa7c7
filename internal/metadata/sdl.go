package metadata

import (
	"fmt"

	language "github.com/hanpama/fetchgraph/internal/language"
)

// Directive names understood by FromSDL.
const (
	DirectiveEntity     = "entity"
	DirectiveEmbeddable = "embeddable"
	DirectiveID         = "id"
	DirectiveLazy       = "lazy"
	DirectiveTransient  = "transient"
)

var builtinScalars = map[string]bool{
	"ID": true, "String": true, "Int": true, "Float": true, "Boolean": true,
}

// FromSDL generates a registry from GraphQL SDL annotated with directives:
//
//	type Film @entity(view: "film") {
//	  id: ID! @id
//	  title: String
//	  synopsis: String @lazy
//	  budget: Money
//	  studios: [Studio!]
//	  rating: Float @transient
//	}
//	type Money @embeddable { amount: Int currency: String }
//
// Scalar and enum fields become columns, or lazy columns with @lazy. Fields
// typed by an @entity become relations. Fields typed by an @embeddable become
// embedded values, lazily fetched with @lazy. @transient fields are skipped.
// Every shape the generator cannot express is an error, so a bad schema fails
// before any request is planned.
func FromSDL(name, source string) (*Registry, error) {
	doc, err := language.ParseSchema(name, source)
	if err != nil {
		return nil, err
	}
	return FromSchemaDocument(doc)
}

// FromSchemaDocument is FromSDL for an already parsed document.
func FromSchemaDocument(doc *language.SchemaDocument) (*Registry, error) {
	g := &generator{
		defs:  map[string]*language.Definition{},
		nodes: map[string]*Entity{},
	}
	for _, def := range doc.Definitions {
		g.defs[def.Name] = def
	}
	for _, def := range doc.Extensions {
		base, ok := g.defs[def.Name]
		if !ok {
			return nil, fmt.Errorf("%w: extension of undefined type %s", ErrUnknownType, def.Name)
		}
		merged := *base
		merged.Fields = append(append(language.FieldList(nil), base.Fields...), def.Fields...)
		merged.Directives = append(append(language.DirectiveList(nil), base.Directives...), def.Directives...)
		g.defs[def.Name] = &merged
	}

	// First pass: one node per annotated type so relations can point at each
	// other regardless of declaration order.
	var entities []*Entity
	for _, def := range doc.Definitions {
		def = g.defs[def.Name]
		isEntity := def.Directives.ForName(DirectiveEntity) != nil
		isEmbeddable := def.Directives.ForName(DirectiveEmbeddable) != nil
		if !isEntity && !isEmbeddable {
			continue
		}
		if def.Kind != language.Object {
			return nil, fmt.Errorf("%w: %s must be an object type", ErrUnsupportedShape, def.Name)
		}
		if isEntity && isEmbeddable {
			return nil, fmt.Errorf("%w: %s is both @%s and @%s", ErrUnsupportedShape, def.Name, DirectiveEntity, DirectiveEmbeddable)
		}
		e := &Entity{Type: def.Name, ViewName: def.Name}
		if isEntity {
			if view, err := stringArg(def.Directives.ForName(DirectiveEntity), "view"); err != nil {
				return nil, fmt.Errorf("%s: %w", def.Name, err)
			} else if view != "" {
				e.ViewName = view
			}
			entities = append(entities, e)
		}
		g.nodes[def.Name] = e
	}

	for _, def := range doc.Definitions {
		e, ok := g.nodes[def.Name]
		if !ok {
			continue
		}
		if err := g.fill(e, g.defs[def.Name]); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
	}
	return NewRegistry(entities...)
}

type generator struct {
	defs  map[string]*language.Definition
	nodes map[string]*Entity
}

func (g *generator) fill(e *Entity, def *language.Definition) error {
	isEntity := def.Directives.ForName(DirectiveEntity) != nil
	for _, f := range def.Fields {
		if f.Directives.ForName(DirectiveTransient) != nil {
			continue
		}
		lazy := f.Directives.ForName(DirectiveLazy) != nil
		named, list, err := unwrap(f.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}

		if f.Directives.ForName(DirectiveID) != nil {
			switch {
			case !isEntity:
				return fmt.Errorf("%w: @%s on %s of embeddable type", ErrUnsupportedShape, DirectiveID, f.Name)
			case e.ID != "":
				return fmt.Errorf("%w: second @%s on %s", ErrUnsupportedShape, DirectiveID, f.Name)
			case list || !g.isLeaf(named):
				return fmt.Errorf("%w: @%s field %s must be a scalar", ErrUnsupportedShape, DirectiveID, f.Name)
			case lazy:
				return fmt.Errorf("%w: @%s field %s cannot be @%s", ErrUnsupportedShape, DirectiveID, f.Name, DirectiveLazy)
			}
			e.ID = f.Name
			continue
		}

		if g.isLeaf(named) {
			if lazy {
				e.LazyColumns = append(e.LazyColumns, f.Name)
			} else {
				e.Columns = append(e.Columns, f.Name)
			}
			continue
		}

		target, ok := g.nodes[named]
		if !ok {
			if _, defined := g.defs[named]; defined {
				return fmt.Errorf("%w: %s references %s which is neither @%s nor @%s", ErrUnsupportedShape, f.Name, named, DirectiveEntity, DirectiveEmbeddable)
			}
			return fmt.Errorf("%w: %s references %s", ErrUnknownType, f.Name, named)
		}
		if g.defs[named].Directives.ForName(DirectiveEmbeddable) != nil {
			if list {
				return fmt.Errorf("%w: %s is a list of embeddable %s", ErrUnsupportedShape, f.Name, named)
			}
			if lazy {
				if e.LazyEmbedded == nil {
					e.LazyEmbedded = map[string]*Entity{}
				}
				e.LazyEmbedded[f.Name] = target
			} else {
				if e.Embedded == nil {
					e.Embedded = map[string]*Entity{}
				}
				e.Embedded[f.Name] = target
			}
			continue
		}
		if e.Relations == nil {
			e.Relations = map[string]*Entity{}
		}
		e.Relations[f.Name] = target
	}
	if isEntity && e.ID == "" {
		return fmt.Errorf("%w: entity without @%s field", ErrUnsupportedShape, DirectiveID)
	}
	return nil
}

func (g *generator) isLeaf(named string) bool {
	if builtinScalars[named] {
		return true
	}
	def, ok := g.defs[named]
	return ok && (def.Kind == language.Scalar || def.Kind == language.Enum)
}

// unwrap returns the named type of t and whether it is a list. Lists of lists
// have no fetch representation.
func unwrap(t *language.Type) (string, bool, error) {
	if t.Elem == nil {
		return t.NamedType, false, nil
	}
	if t.Elem.Elem != nil {
		return "", true, fmt.Errorf("%w: nested list %s", ErrUnsupportedShape, t.String())
	}
	return t.Elem.NamedType, true, nil
}

func stringArg(d *language.Directive, name string) (string, error) {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return "", nil
	}
	if arg.Value.Kind != language.StringValue {
		return "", fmt.Errorf("%w: @%s(%s:) must be a string", ErrUnsupportedShape, d.Name, name)
	}
	return arg.Value.Raw, nil
}
