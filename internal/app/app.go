// Package app runs one posting cycle: state, seen set, candidates,
// composition, publishing and bookkeeping.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/linkpost/internal/compose"
	"github.com/deusflow/linkpost/internal/config"
	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/selector"
	"github.com/deusflow/linkpost/internal/sheets"
	"github.com/deusflow/linkpost/internal/storage"
	"github.com/deusflow/linkpost/internal/xclient"
)

// Skip reasons reported in Outcome and metrics.
const (
	SkipDailyLimit   = "daily_limit"
	SkipTimeBudget   = "time_budget"
	SkipInsufficient = "insufficient_links"
	SkipTooLong      = "too_long"
)

type Selector interface {
	Select(ctx context.Context, req selector.Request) selector.Result
}

type Publisher interface {
	CreateTweet(ctx context.Context, text, quoteID string) (string, error)
	CreateCommunityTweet(ctx context.Context, text, communityID string) (string, error)
	Me(ctx context.Context) (xclient.User, error)
}

type SheetSource interface {
	Candidates(ctx context.Context, want int) ([]sheets.Entry, error)
	MarkPosted(ctx context.Context, rows []int) int
}

type TimelineScanner interface {
	RecentLinks(ctx context.Context, username string) ([]string, error)
}

// Deps are the collaborators of a run. History, Sheets and Timeline are
// optional.
type Deps struct {
	State     *storage.StateFile
	History   storage.History
	Selector  Selector
	Publisher Publisher
	Sheets    SheetSource
	Timeline  TimelineScanner
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Outcome describes what a run did. SkipReason is set when nothing was
// posted on purpose.
type Outcome struct {
	RunID        string
	SkipReason   string
	Text         string
	URLs         []string
	TweetID      string
	CommunityID  string
	SheetRows    int
	SheetMarked  int
	ScrapedCount int
}

func (o *Outcome) Posted() bool { return o.TweetID != "" }

func (o *Outcome) skip(log *slog.Logger, reason, msg string, args ...any) *Outcome {
	o.SkipReason = reason
	metrics.Global.RecordSkip(reason)
	log.Info(msg, append(args, "reason", reason)...)
	return o
}

// Run executes one posting cycle.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (_ *Outcome, err error) {
	start := deps.now()
	out := &Outcome{RunID: uuid.NewString()}
	log := deps.logger().With("run_id", out.RunID)

	defer func() {
		metrics.Global.RecordProcessingTime(deps.now().Sub(start))
		if err != nil {
			metrics.Global.SetError(err.Error())
		} else {
			metrics.Global.SetLastRun()
		}
	}()

	st, err := deps.State.Load()
	if err != nil {
		return nil, err
	}

	nowUTC := start.UTC()
	local := start.In(cfg.Location())
	if n := st.PurgeRecent(nowUTC, cfg.RecentWindow); n > 0 {
		log.Debug("purged recent urls", "count", n)
	}
	st.ResetIfNewDay(local)

	if st.PostsToday >= cfg.DailyLimit {
		return out.skip(log, SkipDailyLimit, "daily limit reached; skip", "posts_today", st.PostsToday), nil
	}

	seen := buildSeenSet(ctx, cfg, deps, st, log)

	if elapsed := deps.now().Sub(start); cfg.HardLimit > 0 && elapsed > cfg.HardLimit {
		return out.skip(log, SkipTimeBudget, "time budget exceeded before collection; abort", "elapsed", elapsed), nil
	}

	entries := sheetCandidates(ctx, cfg, deps, log)
	sheetURLs := make([]string, 0, len(entries))
	sheetRows := make([]int, 0, len(entries))
	for _, e := range entries {
		sheetURLs = append(sheetURLs, e.URL)
		sheetRows = append(sheetRows, e.Row)
		seen.Add(e.URL)
	}
	out.SheetRows = len(entries)

	var scraped []string
	if remaining := max(0, cfg.WantPost-len(sheetURLs)); remaining > 0 {
		res := deps.Selector.Select(ctx, selector.Request{
			AlreadySeen: seen,
			Want:        remaining,
			NumPages:    cfg.NumPages,
			MinPost:     max(0, cfg.MinPost-len(sheetURLs)),
			Budget:      cfg.ScrapeTimeout,
		})
		scraped = res.URLs()
		log.Info("collected urls from listing", "count", len(scraped),
			"gofile", res.CountKind(links.Primary), "want", remaining)
	} else {
		log.Info("sheet urls enough; listing scrape skipped")
	}
	out.ScrapedCount = len(scraped)

	all := append(append([]string{}, sheetURLs...), scraped...)
	log.Info("total candidate urls", "sheet", len(sheetURLs), "listing", len(scraped), "total", len(all))
	if len(all) < cfg.MinPost || len(all) == 0 {
		return out.skip(log, SkipInsufficient, "not enough urls; skip", "count", len(all), "min_post", cfg.MinPost), nil
	}

	startSeq := st.LineSeq
	text, taken := compose.Compose(all, compose.Options{
		StartSeq:  startSeq,
		Want:      cfg.WantPost,
		Salt:      compose.SaltFor(local),
		AddSig:    true,
		Affiliate: cfg.AffiliateURL,
		Now:       deps.Now,
	})
	text, fits := compose.FitToLimit(text, cfg.TweetLimit)
	if !fits {
		return out.skip(log, SkipTooLong, "post text over limit even after trimming; skip",
			"estimated", compose.EstimateLength(text), "limit", cfg.TweetLimit), nil
	}
	out.Text = text

	tweetID, communityPostID, err := publish(ctx, cfg, deps.Publisher, text, log)
	out.CommunityID = communityPostID
	if err != nil {
		return out, fmt.Errorf("publish: %w", err)
	}
	out.TweetID = tweetID
	metrics.Global.IncrementPostsPublished()

	used := all[:min(taken, len(all))]
	out.URLs = used

	st.RecordPosted(used, nowUTC)
	if err := deps.State.Save(st); err != nil {
		return out, fmt.Errorf("save state: %w", err)
	}
	if deps.History != nil {
		if err := deps.History.Record(ctx, used, out.RunID); err != nil {
			log.Warn("history record failed", "err", err)
		}
	}

	if deps.Sheets != nil && len(sheetRows) > 0 {
		out.SheetMarked = deps.Sheets.MarkPosted(ctx, sheetRows[:min(len(used), len(sheetRows))])
	}

	log.Info("posted", "tweet_id", tweetID, "urls", len(used), "next_line_seq", st.LineSeq)
	return out, nil
}

// Collect runs only the selection against the current state. Nothing is
// posted or saved.
func Collect(ctx context.Context, cfg *config.Config, deps Deps) (selector.Result, error) {
	log := deps.logger()

	st, err := deps.State.Load()
	if err != nil {
		return selector.Result{}, err
	}
	st.PurgeRecent(deps.now().UTC(), cfg.RecentWindow)
	seen := buildSeenSet(ctx, cfg, deps, st, log)

	return deps.Selector.Select(ctx, selector.Request{
		AlreadySeen: seen,
		Want:        cfg.WantPost,
		NumPages:    cfg.NumPages,
		MinPost:     cfg.MinPost,
		Budget:      cfg.ScrapeTimeout,
	}), nil
}

// buildSeenSet unions the state file, the optional history store and the
// optional timeline scan. Failures of the optional sources are logged.
func buildSeenSet(ctx context.Context, cfg *config.Config, deps Deps, st *storage.State, log *slog.Logger) selector.SeenSet {
	seen := st.SeenSet()

	if deps.History != nil {
		urls, err := deps.History.Seen(ctx)
		if err != nil {
			log.Warn("history read failed; using state file only", "err", err)
		}
		seen.Union(selector.NewSeenSet(urls...))
	}

	if !cfg.UseTimeline || deps.Timeline == nil {
		log.Info("timeline check skipped")
		return seen
	}

	username := cfg.ScreenName
	if deps.Publisher != nil {
		if me, err := deps.Publisher.Me(ctx); err == nil && me.Username != "" {
			username = me.Username
		}
	}
	if username == "" {
		log.Warn("timeline check skipped: no screen name")
		return seen
	}

	found, err := deps.Timeline.RecentLinks(ctx, username)
	if err != nil {
		log.Warn("timeline scan failed", "user", username, "err", err)
		return seen
	}
	seen.Union(selector.NewSeenSet(found...))
	log.Info("recent timeline gofiles", "count", len(found), "user", username)
	return seen
}

func sheetCandidates(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) []sheets.Entry {
	if deps.Sheets == nil {
		return nil
	}
	entries, err := deps.Sheets.Candidates(ctx, cfg.WantPost)
	if err != nil {
		log.Warn("sheet candidates unavailable", "err", err)
		return nil
	}
	return entries
}
