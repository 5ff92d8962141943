package scraper

import "net/http"

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/123.0.0.0 Safari/123.0.0.0"

// BrowserHeaders returns the request headers a regular browser would send
// when navigating from referer.
func BrowserHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7")
	if referer != "" {
		h.Set("Referer", referer)
	}
	h.Set("Connection", "keep-alive")
	return h
}
