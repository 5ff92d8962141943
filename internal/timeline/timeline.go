// Package timeline scans the bot's own public timeline in a headless
// browser for links it has already posted.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/scraper"
)

const profileBase = "https://x.com/"

type Scanner struct {
	Headless bool
	// Scrolls is how many times the page is scrolled after load.
	Scrolls int
	// Wait is the pause after load and after each scroll.
	Wait    time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewScanner() *Scanner {
	return &Scanner{Headless: true, Scrolls: 1, Wait: 800 * time.Millisecond, Timeout: 20 * time.Second}
}

// allocatorOptions mirrors a regular desktop Chrome.
func (s *Scanner) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("lang", "ja-JP"),
		chromedp.UserAgent(scraper.DefaultUserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if s.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	return opts
}

// RecentLinks loads the profile page of username and returns the gofile
// links visible after scrolling. Errors are returned to the caller, who
// treats the scan as optional.
func (s *Scanner) RecentLinks(ctx context.Context, username string) ([]string, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, s.allocatorOptions()...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, timeout+time.Duration(s.Scrolls+1)*s.Wait)
	defer timeoutCancel()

	actions := []chromedp.Action{
		chromedp.Navigate(profileBase + username),
		chromedp.Sleep(s.Wait),
	}
	for i := 0; i < s.Scrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollBy(0, 1800)`, nil),
			chromedp.Sleep(s.Wait),
		)
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("timeline scan of %s: %w", username, err)
	}

	found := LinksFromHTML(html)
	s.logger().Info("recent timeline gofiles", "user", username, "count", len(found))
	return found, nil
}

// LinksFromHTML returns the normalized gofile links in a page.
func LinksFromHTML(html string) []string {
	_, primary := links.Extract(html)
	out := make([]string, 0, len(primary))
	for _, u := range primary {
		out = append(out, links.Normalize(u))
	}
	return links.Unique(out)
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
