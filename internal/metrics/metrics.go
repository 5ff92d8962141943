package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this process exports.
var Registry = prometheus.NewRegistry()

type Metrics struct {
	mu sync.RWMutex

	// Counters
	PagesFetched      int64
	PagesFailed       int64
	LivenessChecks    int64
	DeadLinks         int64
	PrimarySelected   int64
	SecondarySelected int64
	PostsPublished    int64
	RunsSkipped       int64
	DuplicatesSkipped int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	LastSkip      string
	IsHealthy     bool

	pages    *prometheus.CounterVec
	checks   *prometheus.CounterVec
	selected *prometheus.CounterVec
	posts    prometheus.Counter
	skips    *prometheus.CounterVec
	duration prometheus.Histogram

	// sources add named sections to GetStats.
	sources map[string]func() map[string]interface{}
}

var Global = New(Registry)

// New creates a Metrics whose Prometheus collectors register on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IsHealthy: true,
		sources:   make(map[string]func() map[string]interface{}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpost_listing_pages_total",
			Help: "Listing pages fetched, by outcome",
		}, []string{"outcome"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpost_liveness_checks_total",
			Help: "Liveness checks of primary links, by verdict",
		}, []string{"verdict"}),
		selected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpost_links_selected_total",
			Help: "Links selected for posting, by kind",
		}, []string{"kind"}),
		posts: f.NewCounter(prometheus.CounterOpts{
			Name: "linkpost_posts_published_total",
			Help: "Posts published to X",
		}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "linkpost_runs_skipped_total",
			Help: "Runs that ended without posting, by reason",
		}, []string{"reason"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkpost_run_duration_seconds",
			Help:    "Wall time of one posting run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Handler serves the Prometheus exposition format for Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPage(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.PagesFetched++
		m.pages.WithLabelValues("ok").Inc()
		return
	}
	m.PagesFailed++
	m.pages.WithLabelValues("failed").Inc()
}

// RecordCheck counts one liveness check. verdict is "alive" or the reason
// the link was rejected.
func (m *Metrics) RecordCheck(alive bool, verdict string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LivenessChecks++
	if !alive {
		m.DeadLinks++
	}
	m.checks.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordSelected(primary, secondary int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PrimarySelected += int64(primary)
	m.SecondarySelected += int64(secondary)
	m.selected.WithLabelValues("gofile").Add(float64(primary))
	m.selected.WithLabelValues("twimg").Add(float64(secondary))
}

func (m *Metrics) IncrementDuplicatesSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesSkipped++
}

func (m *Metrics) IncrementPostsPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostsPublished++
	m.posts.Inc()
}

// RecordSkip notes a run that finished without posting. It is not an error.
func (m *Metrics) RecordSkip(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunsSkipped++
	m.LastSkip = reason
	m.skips.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++
	m.duration.Observe(duration.Seconds())

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

// AddStatsSource includes fn's snapshot under name in GetStats. A later
// source with the same name replaces the earlier one.
func (m *Metrics) AddStatsSource(name string, fn func() map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = fn
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	stats := map[string]interface{}{
		"pages_fetched":              m.PagesFetched,
		"pages_failed":               m.PagesFailed,
		"liveness_checks":            m.LivenessChecks,
		"dead_links":                 m.DeadLinks,
		"primary_selected":           m.PrimarySelected,
		"secondary_selected":         m.SecondarySelected,
		"duplicates_skipped":         m.DuplicatesSkipped,
		"posts_published":            m.PostsPublished,
		"runs_skipped":               m.RunsSkipped,
		"last_skip_reason":           m.LastSkip,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              m.LastRunTime.Format(time.RFC3339),
		"last_error_time":            m.LastErrorTime.Format(time.RFC3339),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
	sources := make(map[string]func() map[string]interface{}, len(m.sources))
	for name, fn := range m.sources {
		sources[name] = fn
	}
	m.mu.RUnlock()

	// Sources run unlocked so they may touch these metrics.
	for name, fn := range sources {
		stats[name] = fn()
	}
	return stats
}
