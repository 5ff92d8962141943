package selector

import "github.com/deusflow/linkpost/internal/links"

// SeenSet holds normalized links that must not be posted again.
type SeenSet map[string]struct{}

// NewSeenSet normalizes and adds every url.
func NewSeenSet(urls ...string) SeenSet {
	s := make(SeenSet, len(urls))
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

// Add normalizes u and inserts it. Empty links are ignored.
func (s SeenSet) Add(u string) {
	if n := links.Normalize(u); n != "" {
		s[n] = struct{}{}
	}
}

// Has reports whether the normalized form of u is present.
func (s SeenSet) Has(u string) bool {
	_, ok := s[links.Normalize(u)]
	return ok
}

// Union adds every member of other.
func (s SeenSet) Union(other SeenSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}
