package selection

import (
	"sort"
	"sync"
)

// SkipOver lets a lookup of Field pass through an ORM-only hop that has no
// caller-facing counterpart. The lookup is redirected to the dotted Target
// path; an empty Target maps the hop onto the current selection itself.
//
// A rule with a Type takes precedence for selections owned by that type and
// otherwise answers by field name like any other rule. SingleUse rules are
// removed by the first lookup they answer.
type SkipOver struct {
	Field     string
	Target    string
	Type      string
	SingleUse bool
}

type typedKey struct {
	typ   string
	field string
}

// SkipOvers is a request-scoped registry of skip-over rules. Lookups and the
// removal of consumed single-use rules happen under one lock, so a single-use
// rule answers exactly one lookup even under concurrent use.
type SkipOvers struct {
	mu      sync.Mutex
	byField map[string]SkipOver
	byType  map[typedKey]SkipOver
	removed []SkipOver
}

// NewSkipOvers returns a registry holding rules.
func NewSkipOvers(rules ...SkipOver) *SkipOvers {
	r := &SkipOvers{
		byField: make(map[string]SkipOver),
		byType:  make(map[typedKey]SkipOver),
	}
	for _, rule := range rules {
		r.Add(rule)
	}
	return r
}

// Add registers rule under its field name and, when typed, under its type
// and field as well. A later rule for the same key replaces the earlier one.
func (r *SkipOvers) Add(rule SkipOver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byField[rule.Field] = rule
	if rule.Type != "" {
		r.byType[typedKey{rule.Type, rule.Field}] = rule
	}
}

// SkipOver returns the target for field on typ. The rule registered for typ
// and field wins; otherwise the rule last registered for field answers. A
// matched single-use rule is removed from both indices before the call
// returns.
func (r *SkipOvers) SkipOver(field, typ string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byType[typedKey{typ, field}]
	if !ok {
		if rule, ok = r.byField[field]; !ok {
			return "", false
		}
	}
	if rule.SingleUse {
		r.consume(rule)
	}
	return rule.Target, true
}

// consume drops rule from every index still holding it. r.mu must be held.
func (r *SkipOvers) consume(rule SkipOver) {
	if rule.Type != "" {
		k := typedKey{rule.Type, rule.Field}
		if r.byType[k] == rule {
			delete(r.byType, k)
		}
	}
	if cur, ok := r.byField[rule.Field]; ok && cur == rule {
		delete(r.byField, rule.Field)
	}
	r.removed = append(r.removed, rule)
}

// Rules returns the active rules ordered by type then field.
func (r *SkipOvers) Rules() []SkipOver {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]SkipOver, 0, len(r.byField)+len(r.byType))
	for _, rule := range r.byType {
		out = append(out, rule)
	}
	for _, rule := range r.byField {
		if rule.Type == "" || r.byType[typedKey{rule.Type, rule.Field}] != rule {
			out = append(out, rule)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Removed returns the single-use rules consumed so far, in consumption order.
func (r *SkipOvers) Removed() []SkipOver {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SkipOver(nil), r.removed...)
}
