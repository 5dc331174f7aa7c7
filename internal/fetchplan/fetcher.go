package fetchplan

import "sort"

// Fetcher receives fetch paths. It is the only capability the compiler needs
// from the query builder. Paths may arrive in any order and more than once.
type Fetcher interface {
	Fetch(path string)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(path string)

func (f FetcherFunc) Fetch(path string) { f(path) }

// PathSet is a Fetcher that records each distinct path once.
type PathSet struct {
	seen  map[string]struct{}
	order []string
}

// NewPathSet returns an empty PathSet.
func NewPathSet() *PathSet {
	return &PathSet{seen: map[string]struct{}{}}
}

func (s *PathSet) Fetch(path string) {
	if _, ok := s.seen[path]; ok {
		return
	}
	s.seen[path] = struct{}{}
	s.order = append(s.order, path)
}

// Has reports whether path was fetched.
func (s *PathSet) Has(path string) bool {
	_, ok := s.seen[path]
	return ok
}

// Len returns the number of distinct paths.
func (s *PathSet) Len() int { return len(s.order) }

// Paths returns the recorded paths sorted.
func (s *PathSet) Paths() []string {
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

// Emitted returns the recorded paths in emission order.
func (s *PathSet) Emitted() []string {
	return append([]string(nil), s.order...)
}
