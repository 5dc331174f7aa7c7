package selection

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fetchgraph/internal/language"
)

// FromSelectionSet builds a selection from a parsed GraphQL selection set.
//
// Fragment spreads and inline fragments are flattened, @skip and @include are
// evaluated against variables, aliases collapse onto their field name and
// meta fields such as __typename are dropped. Type conditions are not checked,
// so every fragment that could apply contributes its fields.
func FromSelectionSet(set language.SelectionSet, fragments language.FragmentDefinitionList, variables map[string]any) (*Selection, error) {
	c := &collector{fragments: fragments, variables: variables}
	nodes, err := c.collect(set, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return New(nodes...)
}

// FromQuery parses query and builds the selection of the named operation, or
// of the only operation when operationName is empty.
func FromQuery(query, operationName string, variables map[string]any) (*Selection, error) {
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	var op *language.OperationDefinition
	if operationName != "" {
		op = doc.Operations.ForName(operationName)
	} else if len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", operationName)
	}
	return FromSelectionSet(op.SelectionSet, doc.Fragments, variables)
}

type collector struct {
	fragments language.FragmentDefinitionList
	variables map[string]any
}

func (c *collector) collect(set language.SelectionSet, visitedFragments map[string]bool) ([]Node, error) {
	var nodes []Node
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			include, err := c.shouldInclude(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !include || strings.HasPrefix(sel.Name, "__") {
				continue
			}
			n := Node{Field: sel.Name}
			if sel.Definition != nil && sel.Definition.Type != nil {
				n.Type = sel.Definition.Type.Name()
			}
			if len(sel.SelectionSet) > 0 {
				children, err := c.collect(sel.SelectionSet, map[string]bool{})
				if err != nil {
					return nil, fmt.Errorf("%s: %w", sel.Name, err)
				}
				if children == nil {
					children = []Node{}
				}
				n.Children = children
			}
			nodes = append(nodes, n)

		case *language.InlineFragment:
			include, err := c.shouldInclude(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !include {
				continue
			}
			children, err := c.collect(sel.SelectionSet, visitedFragments)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, children...)

		case *language.FragmentSpread:
			include, err := c.shouldInclude(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !include || visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true

			def := c.fragments.ForName(sel.Name)
			if def == nil {
				return nil, fmt.Errorf("unknown fragment %q", sel.Name)
			}
			include, err = c.shouldInclude(def.Directives)
			if err != nil {
				return nil, err
			}
			if !include {
				continue
			}
			children, err := c.collect(def.SelectionSet, visitedFragments)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, children...)
		}
	}
	return nodes, nil
}

// shouldInclude evaluates @skip and @include.
func (c *collector) shouldInclude(directives language.DirectiveList) (bool, error) {
	if skip := directives.ForName("skip"); skip != nil {
		v, err := c.directiveIf(skip)
		if err != nil {
			return false, err
		}
		if v {
			return false, nil
		}
	}
	if include := directives.ForName("include"); include != nil {
		v, err := c.directiveIf(include)
		if err != nil {
			return false, err
		}
		if !v {
			return false, nil
		}
	}
	return true, nil
}

func (c *collector) directiveIf(d *language.Directive) (bool, error) {
	arg := d.Arguments.ForName("if")
	if arg == nil || arg.Value == nil {
		return false, fmt.Errorf("@%s requires argument \"if\"", d.Name)
	}
	v, err := arg.Value.Value(c.variables)
	if err != nil {
		return false, fmt.Errorf("@%s: %w", d.Name, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("@%s: argument \"if\" must be Boolean, got %T", d.Name, v)
	}
	return b, nil
}
