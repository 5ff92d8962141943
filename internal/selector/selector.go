// Package selector turns the listing pools into the ordered, fresh, live
// set of links for one post.
package selector

import (
	"context"
	"log/slog"
	"time"

	"github.com/deusflow/linkpost/internal/deadline"
	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/liveness"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/scraper"
)

// PoolCollector gathers raw candidates from the listing pages.
type PoolCollector interface {
	Collect(ctx context.Context, numPages int, dl *deadline.Deadline) scraper.Pools
}

// LivenessChecker verifies a single primary link.
type LivenessChecker interface {
	Check(ctx context.Context, link string) liveness.Verdict
}

type Engine struct {
	Collector PoolCollector
	Checker   LivenessChecker

	// PrimaryCap bounds primary links per post.
	PrimaryCap int
	// MaxChecks bounds liveness checks per run, shared by the early and
	// late pools.
	MaxChecks int

	Logger *slog.Logger
	Now    func() time.Time
}

type Request struct {
	AlreadySeen SeenSet
	Want        int
	NumPages    int
	// MinPost discards results shorter than this.
	MinPost int
	// Budget is the optional time budget; zero means none.
	Budget time.Duration
}

// Result lists primary links first, then secondary, each in discovery
// order. An empty Result means there were not enough fresh links.
type Result struct {
	Links []links.Link
}

func (r Result) Empty() bool { return len(r.Links) == 0 }

func (r Result) URLs() []string {
	out := make([]string, len(r.Links))
	for i, l := range r.Links {
		out[i] = l.URL
	}
	return out
}

func (r Result) CountKind(k links.Kind) int {
	n := 0
	for _, l := range r.Links {
		if l.Kind == k {
			n++
		}
	}
	return n
}

// run carries the per-invocation state: the run's own seen set, the
// shared check counter and the deadline.
type run struct {
	e       *Engine
	ctx     context.Context
	log     *slog.Logger
	dl      *deadline.Deadline
	already SeenSet
	seenNow SeenSet
	checks  int
}

// Select collects candidates and picks at most req.Want links: up to
// PrimaryCap live primary links, then secondary links for the rest.
func (e *Engine) Select(ctx context.Context, req Request) Result {
	log := e.logger()
	if req.Want <= 0 {
		return Result{}
	}

	r := &run{
		e:       e,
		ctx:     ctx,
		log:     log,
		dl:      deadline.New(req.Budget, e.Now),
		already: req.AlreadySeen,
		seenNow: SeenSet{},
	}
	if r.already == nil {
		r.already = SeenSet{}
	}

	primaryTarget := min(e.PrimaryCap, req.Want)
	if left, ok := r.dl.Remaining(); ok {
		log.Info("scrape time budget", "budget", req.Budget, "left", left)
	}

	pools := e.Collector.Collect(ctx, req.NumPages, r.dl)
	log.Info("candidate pools",
		"twimg", len(pools.Secondary),
		"gofile_early", len(pools.PrimaryEarly),
		"gofile_late", len(pools.PrimaryLate))

	primary := r.selectPrimary(nil, pools.PrimaryEarly, primaryTarget, "early")
	if len(primary) < primaryTarget {
		primary = r.selectPrimary(primary, pools.PrimaryLate, primaryTarget, "late")
	}

	remaining := max(0, req.Want-len(primary))
	secondary := r.selectSecondary(pools.Secondary, remaining)

	out := make([]links.Link, 0, len(primary)+len(secondary))
	for _, u := range primary {
		out = append(out, links.Link{URL: u, Kind: links.Primary})
	}
	for _, u := range secondary {
		out = append(out, links.Link{URL: u, Kind: links.Secondary})
	}

	log.Info("selected",
		"gofile", len(primary),
		"twimg", len(secondary),
		"total", len(out),
		"target", req.Want,
		"checks", r.checks)

	if len(out) < req.MinPost {
		log.Info("not enough links; discarding selection",
			"collected", len(out), "min_post", req.MinPost)
		return Result{}
	}
	if len(out) > req.Want {
		out = out[:req.Want]
	}
	metrics.Global.RecordSelected(len(primary), len(secondary))
	return Result{Links: out}
}

func (r *run) selectPrimary(selected, pool []string, target int, stage string) []string {
	for _, raw := range pool {
		if len(selected) >= target {
			break
		}
		if r.dl.Passed() {
			r.log.Info("deadline reached during gofile selection; stop", "stage", stage, "err", r.dl.Err())
			break
		}
		if r.checks >= r.e.MaxChecks {
			r.log.Info("liveness check budget spent; stop gofile checks", "max_checks", r.e.MaxChecks, "stage", stage)
			break
		}

		norm, ok := r.usable(raw)
		if !ok {
			continue
		}

		r.checks++
		r.seenNow[norm] = struct{}{}
		if v := r.e.Checker.Check(r.ctx, norm); v.Alive {
			selected = append(selected, norm)
		}
	}
	return selected
}

func (r *run) selectSecondary(pool []string, remaining int) []string {
	var selected []string
	for _, raw := range pool {
		if len(selected) >= remaining {
			break
		}
		if r.dl.Passed() {
			r.log.Info("deadline reached during twimg selection; stop", "err", r.dl.Err())
			break
		}

		norm, ok := r.usable(raw)
		if !ok {
			continue
		}
		r.seenNow[norm] = struct{}{}
		selected = append(selected, norm)
	}
	return selected
}

// usable normalizes raw and rejects links seen in history or earlier in
// this run.
func (r *run) usable(raw string) (string, bool) {
	norm := links.Normalize(raw)
	if norm == "" {
		return "", false
	}
	if r.seenNow.Has(norm) {
		return "", false
	}
	if r.already.Has(norm) {
		metrics.Global.IncrementDuplicatesSkipped()
		return "", false
	}
	return norm, true
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
