package links

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Matcher finds every occurrence of one link grammar in raw text, in order
// of appearance. Matches never overlap.
type Matcher interface {
	Kind() Kind
	FindAll(text string) []string
}

var (
	gofile = prefixMatcher{
		kind: Primary,
		host: "://gofile.io/d/",
		body: scanAlnum,
	}
	twimg = prefixMatcher{
		kind: Secondary,
		host: "://video.twimg.com/",
		body: scanMP4Tag,
	}
)

// Matchers returns the fixed grammars: gofile share pages and tagged
// twimg mp4 links.
func Matchers() []Matcher {
	return []Matcher{gofile, twimg}
}

// prefixMatcher matches "http" ["s"] host followed by a body grammar. The
// scheme and host compare case-insensitively.
type prefixMatcher struct {
	kind Kind
	host string
	// body returns the end offset of a valid body starting at text[0], or
	// -1 when the body grammar does not match.
	body func(text string) int
}

func (m prefixMatcher) Kind() Kind { return m.kind }

func (m prefixMatcher) FindAll(text string) []string {
	var out []string
	i := 0
	for i < len(text) {
		j := indexFold(text[i:], "http")
		if j < 0 {
			break
		}
		start := i + j
		p := start + len("http")
		if p < len(text) && (text[p] == 's' || text[p] == 'S') {
			p++
		}
		if !hasPrefixFold(text[p:], m.host) {
			i = start + 1
			continue
		}
		p += len(m.host)
		n := m.body(text[p:])
		if n <= 0 {
			i = start + 1
			continue
		}
		out = append(out, text[start:p+n])
		i = p + n
	}
	return out
}

// scanAlnum matches one or more ASCII letters or digits.
func scanAlnum(text string) int {
	n := 0
	for n < len(text) && isAlnum(text[n]) {
		n++
	}
	if n == 0 {
		return -1
	}
	return n
}

// scanMP4Tag matches the shortest run of non-space, non-quote characters
// followed by ".mp4?tag=" and one or more digits.
func scanMP4Tag(text string) int {
	const suffix = ".mp4?tag="
	p := 0
	for p < len(text) {
		r, size := utf8.DecodeRuneInString(text[p:])
		if unicode.IsSpace(r) || r == '"' || r == '\'' {
			return -1
		}
		p += size
		if !hasPrefixFold(text[p:], suffix) {
			continue
		}
		q := p + len(suffix)
		d := q
		for d < len(text) && text[d] >= '0' && text[d] <= '9' {
			d++
		}
		if d > q {
			return d
		}
	}
	return -1
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
