// Package liveness decides whether a gofile share page still serves its
// content. One GET per call, no retries, no caching.
package liveness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/ratelimit"
	"github.com/deusflow/linkpost/internal/scraper"
)

const maxBodyRead = 2 << 20

// DefaultMarkers are phrases gofile shows instead of removed content.
var DefaultMarkers = []string{
	"This content does not exist",
	"The content you are looking for could not be found",
	"has been automatically removed",
	"has been deleted by the owner",
}

// Verdict is the outcome of one check. Reason is nil for alive links.
type Verdict struct {
	Alive  bool
	Reason error
}

// Label is a short metric label for the verdict.
func (v Verdict) Label() string {
	var se *links.StatusError
	switch {
	case v.Alive:
		return "alive"
	case errors.As(v.Reason, &se) && se.Code == http.StatusTooManyRequests:
		return "rate_limited"
	case errors.Is(v.Reason, links.ErrHTTPStatus):
		return "status"
	case errors.Is(v.Reason, links.ErrContentAbsent):
		return "not_found_text"
	default:
		return "transport"
	}
}

type Checker struct {
	Client  *http.Client
	Header  http.Header
	Timeout time.Duration
	Markers []string

	// Pacer spaces consecutive checks; nil means no spacing.
	Pacer  *ratelimit.Pacer
	Logger *slog.Logger
}

func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		Client:  &http.Client{},
		Header:  scraper.BrowserHeaders(""),
		Timeout: timeout,
		Markers: DefaultMarkers,
	}
}

// Check fetches link once and classifies it.
func (c *Checker) Check(ctx context.Context, link string) Verdict {
	v := c.check(ctx, link)
	metrics.Global.RecordCheck(v.Alive, v.Label())
	return v
}

func (c *Checker) check(ctx context.Context, link string) Verdict {
	log := c.logger()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	if err := c.Pacer.Wait(ctx); err != nil {
		return Verdict{Reason: fmt.Errorf("%w: %v", links.ErrTransport, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		log.Warn("gofile request invalid", "url", link, "err", err)
		return Verdict{Reason: fmt.Errorf("%w: %v", links.ErrTransport, err)}
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}

	resp, err := c.client().Do(req)
	if err != nil {
		log.Warn("gofile request failed", "url", link, "err", err)
		return Verdict{Reason: fmt.Errorf("%w: %v", links.ErrTransport, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Info("gofile rate limited; treated as dead for this run", "url", link)
		return Verdict{Reason: &links.StatusError{Code: resp.StatusCode}}
	}
	if resp.StatusCode != http.StatusOK {
		log.Info("gofile status", "url", link, "status", resp.StatusCode)
		return Verdict{Reason: &links.StatusError{Code: resp.StatusCode}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	if err != nil {
		log.Warn("gofile body read failed", "url", link, "err", err)
		return Verdict{Reason: fmt.Errorf("%w: read body: %v", links.ErrTransport, err)}
	}

	if marker, ok := c.findMarker(body); ok {
		log.Info("gofile not found text", "url", link, "marker", marker)
		return Verdict{Reason: fmt.Errorf("%w: %q", links.ErrContentAbsent, marker)}
	}

	log.Info("gofile alive", "url", link)
	return Verdict{Alive: true}
}

// findMarker looks for a marker in the raw body first, then in the parsed
// title and visible text where markup may split the phrase.
func (c *Checker) findMarker(body []byte) (string, bool) {
	raw := string(body)
	for _, m := range c.Markers {
		if strings.Contains(raw, m) {
			return m, true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	text := doc.Find("title").Text() + "\n" + doc.Find("body").Text()
	text = strings.Join(strings.Fields(text), " ")
	for _, m := range c.Markers {
		if strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

func (c *Checker) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
