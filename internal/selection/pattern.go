package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ErrMalformedPattern is returned for patterns that cannot be compiled.
var ErrMalformedPattern = errors.New("malformed selection pattern")

const separator = '.'

// Pattern is a compiled glob over dotted field paths.
//
// "*" matches within one path segment, "**" spans segments, "?", "[...]" and
// "{a,b}" follow the usual glob rules. Patterns without meta characters are
// resolved by direct lookup, which also applies skip-over rules.
type Pattern struct {
	raw      string
	segments []string
	g        glob.Glob
}

// CompilePattern validates and compiles a pattern.
func CompilePattern(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrMalformedPattern)
	}
	segments := strings.Split(pattern, string(separator))
	for _, seg := range segments {
		if seg == "" {
			return Pattern{}, fmt.Errorf("%w: empty segment in %q", ErrMalformedPattern, pattern)
		}
	}
	p := Pattern{raw: pattern, segments: segments}
	if !hasMeta(pattern) {
		return p, nil
	}
	g, err := glob.Compile(pattern, separator)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %q: %v", ErrMalformedPattern, pattern, err)
	}
	p.g = g
	return p, nil
}

// MustCompilePattern is CompilePattern that panics on error. Intended for
// package-level pattern constants.
func MustCompilePattern(pattern string) Pattern {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// Literal reports whether the pattern contains no meta characters.
func (p Pattern) Literal() bool { return p.g == nil }

func hasMeta(s string) bool { return strings.ContainsAny(s, `*?[]{}\`) }

// Contains reports whether some requested field path matches pattern. A
// malformed pattern matches nothing, so Contains is for patterns fixed in
// code. Patterns supplied by callers must go through CompilePattern, which
// rejects them with ErrMalformedPattern, and then Match.
func (s *Selection) Contains(pattern string) bool {
	switch s.Kind() {
	case KindEmpty:
		return false
	case KindFull:
		return true
	}
	p, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return s.Match(p)
}

// Match is Contains for a compiled pattern.
func (s *Selection) Match(p Pattern) bool {
	switch s.Kind() {
	case KindEmpty:
		return false
	case KindFull:
		return true
	}
	if p.Literal() {
		found, self, owner := s.lookup(p.segments)
		return found != nil || self && !owner.IsEmpty()
	}
	return !s.walk("", func(path string, _ *field) bool { return !p.g.Match(path) })
}

// SubSelect returns the sub-selection of the first field matching pattern, or
// nil when nothing matches or the match is a leaf. Full returns itself.
// Like Contains, a malformed pattern yields nil; compile caller-supplied
// patterns with CompilePattern and use Select.
func (s *Selection) SubSelect(pattern string) *Selection {
	switch s.Kind() {
	case KindEmpty:
		return nil
	case KindFull:
		return s
	}
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil
	}
	return s.Select(p)
}

// Select is SubSelect for a compiled pattern.
func (s *Selection) Select(p Pattern) *Selection {
	switch s.Kind() {
	case KindEmpty:
		return nil
	case KindFull:
		return s
	}
	if p.Literal() {
		found, self, owner := s.lookup(p.segments)
		if self {
			if owner.IsEmpty() {
				return nil
			}
			return owner
		}
		if found == nil {
			return nil
		}
		return owner.child(found)
	}
	var (
		match *field
		owner *Selection
	)
	s.walkOwned("", func(path string, sel *Selection, f *field) bool {
		if p.g.Match(path) {
			match, owner = f, sel
			return false
		}
		return true
	})
	if match == nil {
		return nil
	}
	return owner.child(match)
}

// walkOwned is walk that also reports the selection owning each field, with
// skip-overs propagated.
func (s *Selection) walkOwned(prefix string, fn func(path string, owner *Selection, f *field) bool) bool {
	for _, f := range s.fields {
		path := prefix + f.name
		if !fn(path, s, f) {
			return false
		}
		if c := s.child(f); c != nil && c.kind == KindSimple {
			if !c.walkOwned(path+".", fn) {
				return false
			}
		}
	}
	return true
}

// lookup resolves literal path segments. For each segment a skip-over rule is
// consulted first; its target replaces the segment, and an empty target maps
// the segment onto the current selection itself. It returns the field found,
// whether the path resolved to a selection itself rather than a field, and
// the selection owning the result.
func (s *Selection) lookup(segments []string) (found *field, self bool, owner *Selection) {
	cur := s
	for i, seg := range segments {
		if cur == nil || cur.kind == KindEmpty {
			return nil, false, nil
		}
		if cur.kind == KindFull {
			return nil, true, cur
		}
		name := seg
		if target, ok := cur.skips.SkipOver(seg, cur.typeName); ok {
			if target == "" {
				if i == len(segments)-1 {
					return nil, true, cur
				}
				continue
			}
			f, o := cur.direct(strings.Split(target, string(separator)))
			if f == nil {
				return nil, false, nil
			}
			if i == len(segments)-1 {
				return f, false, o
			}
			cur = o.child(f)
			continue
		}
		idx, ok := cur.index[name]
		if !ok {
			return nil, false, nil
		}
		f := cur.fields[idx]
		if i == len(segments)-1 {
			return f, false, cur
		}
		cur = cur.child(f)
	}
	return nil, true, cur
}

// direct resolves a dotted target without consulting skip-overs.
func (s *Selection) direct(segments []string) (*field, *Selection) {
	cur := s
	for i, seg := range segments {
		if cur == nil || cur.kind != KindSimple {
			return nil, nil
		}
		idx, ok := cur.index[seg]
		if !ok {
			return nil, nil
		}
		f := cur.fields[idx]
		if i == len(segments)-1 {
			return f, cur
		}
		cur = cur.child(f)
	}
	return nil, nil
}
