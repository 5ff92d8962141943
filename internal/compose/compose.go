// Package compose builds the post text for a batch of links.
package compose

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ZWSP = "\u200b"
	ZWNJ = "\u200c"

	// TCOLength is the length X counts for any URL after t.co wrapping.
	TCOLength = 23
	// SignatureLength is the number of invisible runes appended per post.
	SignatureLength = 16
)

// Invisibles are the zero-width runes used for numbering salt and the
// signature.
var Invisibles = []string{ZWSP, ZWNJ}

var urlPattern = regexp.MustCompile(`https?://\S+`)

type Options struct {
	// StartSeq numbers the first line.
	StartSeq int
	// Want caps the number of links used; zero means no cap.
	Want int
	// Salt picks the invisible placed after each number.
	Salt int
	// AddSig appends a signature so consecutive posts never have
	// identical text.
	AddSig bool
	// Affiliate is placed on its own line between entries. Empty disables it.
	Affiliate string
	Now       func() time.Time
}

// Compose numbers urls from StartSeq and joins them into one post. It
// returns the text and how many urls it used.
func Compose(urls []string, opts Options) (string, int) {
	invis := Invisibles[mod(opts.Salt, len(Invisibles))]

	take := len(urls)
	if opts.Want > 0 && opts.Want < take {
		take = opts.Want
	}

	lines := make([]string, 0, take*2)
	seq := opts.StartSeq
	for i, u := range urls[:take] {
		lines = append(lines, strconv.Itoa(seq)+invis+". "+u)
		if i < take-1 && opts.Affiliate != "" {
			lines = append(lines, opts.Affiliate)
		}
		seq++
	}

	text := strings.Join(lines, "\n")
	if opts.AddSig {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		text += Signature(opts.StartSeq, now())
	}
	return text, take
}

// Signature derives SignatureLength invisible runes from the sequence
// number and the current minute.
func Signature(startSeq int, now time.Time) string {
	seed := int64(startSeq)*1315423911 ^ (now.Unix() / 60)

	var b strings.Builder
	for i := 0; i < SignatureLength; i++ {
		b.WriteString(Invisibles[(seed>>i)&1])
	}
	return b.String()
}

// SaltFor returns the numbering salt for a local time.
func SaltFor(local time.Time) int {
	return (local.Hour() + local.Minute()) % len(Invisibles)
}

// EstimateLength approximates the length X counts: every URL as
// TCOLength, everything else per rune.
func EstimateLength(text string) int {
	n := utf8.RuneCountInString(text)
	for _, m := range urlPattern.FindAllString(text, -1) {
		n += TCOLength - utf8.RuneCountInString(m)
	}
	return n
}

// FitToLimit shrinks text that is over limit: first the space between a
// number and its URL is dropped, then the trailing signature. It reports
// whether the result fits.
func FitToLimit(text string, limit int) (string, bool) {
	if EstimateLength(text) <= limit {
		return text, true
	}
	text = strings.ReplaceAll(text, ". https://", ".https://")
	if EstimateLength(text) <= limit {
		return text, true
	}
	text = strings.TrimRight(text, ZWSP+ZWNJ)
	return text, EstimateLength(text) <= limit
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
