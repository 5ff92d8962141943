// Package links defines the two link kinds the bot shares, their
// normalization, and extraction of both kinds from raw page text.
package links

import "strings"

// Kind classifies a shareable link.
type Kind int

const (
	// Primary links (gofile share pages) must be verified alive before use
	// and are capped per post.
	Primary Kind = iota
	// Secondary links (twimg mp4s) are assumed alive and fill the remainder.
	Secondary
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "gofile"
	case Secondary:
		return "twimg"
	default:
		return "unknown"
	}
}

// Link is a normalized URL tagged with its kind.
type Link struct {
	URL  string
	Kind Kind
}

// Normalize trims whitespace, forces a lowercase https scheme and strips
// trailing slashes.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return u
	}
	switch {
	case hasPrefixFold(u, "http://"):
		u = "https://" + u[len("http://"):]
	case hasPrefixFold(u, "https://"):
		u = "https://" + u[len("https://"):]
	}
	return strings.TrimRight(u, "/")
}

// Classify reports which kind a single link belongs to. The whole
// (trimmed) string must match one of the grammars.
func Classify(raw string) (Kind, bool) {
	s := strings.TrimSpace(raw)
	for _, m := range Matchers() {
		found := m.FindAll(s)
		if len(found) == 1 && strings.TrimRight(found[0], "/") == strings.TrimRight(s, "/") {
			return m.Kind(), true
		}
	}
	return 0, false
}

// Unique drops empty entries and duplicates, keeping first-seen order.
func Unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
