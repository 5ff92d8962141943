package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusflow/linkpost/internal/config"
	"github.com/deusflow/linkpost/internal/liveness"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/ratelimit"
	"github.com/deusflow/linkpost/internal/scraper"
	"github.com/deusflow/linkpost/internal/selector"
	"github.com/deusflow/linkpost/internal/sheets"
	"github.com/deusflow/linkpost/internal/storage"
	"github.com/deusflow/linkpost/internal/timeline"
	"github.com/deusflow/linkpost/internal/xclient"
)

// NewSelector builds the selection engine over the live listing site.
func NewSelector(cfg *config.Config, log *slog.Logger) *selector.Engine {
	col := scraper.NewCollector(cfg.BaseOrigin)
	col.RawLimit = cfg.RawLimit
	col.PriorityMaxPage = cfg.PriorityMaxPage
	col.Pacer = ratelimit.NewPacer(cfg.PageDelay)
	col.PageTimeout = cfg.PageTimeout
	col.Logger = log

	chk := liveness.NewChecker(cfg.CheckTimeout)
	chk.Pacer = ratelimit.NewPacer(cfg.CheckInterval)
	chk.Logger = log

	metrics.Global.AddStatsSource("page_pacer", col.Pacer.GetStats)
	metrics.Global.AddStatsSource("check_pacer", chk.Pacer.GetStats)

	return &selector.Engine{
		Collector:  col,
		Checker:    chk,
		PrimaryCap: cfg.PrimaryTarget,
		MaxChecks:  cfg.MaxPrimaryChecks,
		Logger:     log,
	}
}

// NewDeps wires production collaborators. posting selects whether the X
// client is required. The caller closes History when it is set.
func NewDeps(ctx context.Context, cfg *config.Config, log *slog.Logger, posting bool) (Deps, error) {
	deps := Deps{
		State:    storage.NewStateFile(cfg.StateFilePath),
		Selector: NewSelector(cfg, log),
		Logger:   log,
	}

	if posting {
		if err := cfg.ValidatePosting(); err != nil {
			return Deps{}, err
		}
	}
	creds := xclient.Credentials{
		APIKey:       cfg.XAPIKey,
		APISecret:    cfg.XAPISecret,
		AccessToken:  cfg.XAccessToken,
		AccessSecret: cfg.XAccessSecret,
	}
	if creds.Complete() {
		opts := []xclient.Option{xclient.WithLogger(log)}
		if cfg.XBaseURL != "" {
			opts = append(opts, xclient.WithBaseURL(cfg.XBaseURL))
		}
		deps.Publisher = xclient.New(creds, opts...)
	}

	if cfg.SheetsEnabled() {
		src, err := sheets.New(ctx, sheets.Config{
			CredentialsJSON: cfg.SheetCredentialsJSON,
			SheetURL:        cfg.SheetURL,
			SheetName:       cfg.SheetName,
		}, log)
		if err != nil {
			log.Warn("google sheets init failed; continuing without sheet", "err", err)
		} else {
			deps.Sheets = src
		}
	} else {
		log.Info("google sheets not configured; skip sheet usage")
	}

	if cfg.UseTimeline {
		sc := timeline.NewScanner()
		sc.Scrolls = cfg.TimelineScrolls
		sc.Logger = log
		deps.Timeline = sc
	}

	h, err := NewHistory(ctx, cfg, log)
	if err != nil {
		return Deps{}, err
	}
	deps.History = h

	return deps, nil
}

// NewHistory opens the configured history store: PostgreSQL when
// DATABASE_URL is set, else SQLite when HISTORY_DB is set, else none.
func NewHistory(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.History, error) {
	switch {
	case cfg.DatabaseURL != "":
		h, err := storage.NewPostgresHistory(ctx, cfg.DatabaseURL, cfg.HistoryRetention, log)
		if err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}
		return h, nil
	case cfg.HistoryDB != "":
		h, err := storage.NewSQLiteHistory(ctx, cfg.HistoryDB, cfg.HistoryRetention, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite history: %w", err)
		}
		return h, nil
	}
	return nil, nil
}
