package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/linkpost/internal/deadline"
	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/ratelimit"
)

const maxPageBytes = 8 << 20

// Pools is the raw candidate material of one collection pass. Every list
// is de-duplicated and keeps discovery order.
type Pools struct {
	Secondary    []string
	PrimaryEarly []string
	PrimaryLate  []string
}

// Total counts links across all pools.
func (p Pools) Total() int {
	return len(p.Secondary) + len(p.PrimaryEarly) + len(p.PrimaryLate)
}

// Collector walks the listing pages of one origin.
type Collector struct {
	BaseOrigin      string
	RawLimit        int
	PriorityMaxPage int
	PageTimeout     time.Duration

	// Pacer spaces page fetches; nil fetches back to back.
	Pacer  *ratelimit.Pacer
	Client *http.Client
	Header http.Header
	Logger *slog.Logger
}

// NewCollector returns a collector with the bot's defaults.
func NewCollector(baseOrigin string) *Collector {
	origin := strings.TrimRight(baseOrigin, "/")
	return &Collector{
		BaseOrigin:      origin,
		RawLimit:        200,
		PriorityMaxPage: 10,
		PageTimeout:     20 * time.Second,
		Pacer:           ratelimit.NewPacer(300 * time.Millisecond),
		Client:          &http.Client{},
		Header:          BrowserHeaders(origin),
	}
}

// ListingURL returns the newest-first listing URL for a 1-based page.
func (c *Collector) ListingURL(page int) string {
	if page == 1 {
		return fmt.Sprintf("%s/?sort=newest&page=1", c.BaseOrigin)
	}
	return fmt.Sprintf("%s/?page=%d&sort=newest", c.BaseOrigin, page)
}

// Collect fetches pages 1..numPages in order and sorts what it finds into
// pools. It stops early when the deadline passes or RawLimit links have
// been gathered. A failed page is logged and skipped.
func (c *Collector) Collect(ctx context.Context, numPages int, dl *deadline.Deadline) Pools {
	log := c.logger()

	var twimgAll, gofileEarly, gofileLate []string

	throttle := c.Pacer
	log.Debug("listing collection", "pages", numPages, "delay", throttle.Interval())

	for page := 1; page <= numPages; page++ {
		if dl.Passed() {
			log.Info("listing deadline reached; stop", "page", page, "err", dl.Err())
			break
		}
		if err := throttle.Wait(ctx); err != nil {
			log.Info("listing collection cancelled", "page", page, "err", err)
			break
		}
		if dl.Passed() {
			log.Info("listing deadline reached; stop", "page", page, "err", dl.Err())
			break
		}

		url := c.ListingURL(page)
		body, err := c.fetchPage(ctx, url)
		if err != nil {
			metrics.Global.RecordPage(false)
			log.Warn("listing page skipped", "url", url, "err", err)
			continue
		}
		metrics.Global.RecordPage(true)

		twList, gfList := c.extract(body)
		log.Info("listing page", "url", url, "twimg", len(twList), "gofile", len(gfList))

		twimgAll = append(twimgAll, twList...)
		if page <= c.PriorityMaxPage {
			gofileEarly = append(gofileEarly, gfList...)
		} else {
			gofileLate = append(gofileLate, gfList...)
		}

		if c.RawLimit > 0 && len(twimgAll)+len(gofileEarly)+len(gofileLate) >= c.RawLimit {
			log.Info("listing early stop at raw limit", "raw_limit", c.RawLimit)
			break
		}
	}

	return Pools{
		Secondary:    links.Unique(twimgAll),
		PrimaryEarly: links.Unique(gofileEarly),
		PrimaryLate:  links.Unique(gofileLate),
	}
}

func (c *Collector) fetchPage(ctx context.Context, url string) ([]byte, error) {
	if c.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PageTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", links.ErrTransport, err)
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", links.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &links.StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", links.ErrTransport, err)
	}
	return body, nil
}

// extract runs the link grammars over the raw page and over the decoded
// href/src attributes, so entity-escaped links are found too.
func (c *Collector) extract(body []byte) (twimg, gofile []string) {
	text := string(body)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		var attrs strings.Builder
		doc.Find("a[href], video[src], source[src], [data-src], [data-url]").Each(func(_ int, s *goquery.Selection) {
			for _, name := range []string{"href", "src", "data-src", "data-url"} {
				if v, ok := s.Attr(name); ok {
					attrs.WriteString("\n")
					attrs.WriteString(v)
				}
			}
		})
		text += attrs.String()
	}

	return links.Extract(text)
}

func (c *Collector) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
