package observability

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters for the scraper. Global counters are
// atomics; per-source and per-job series live in mutex-guarded maps because
// the key space is small and updates are infrequent.
type Metrics struct {
	// Job metrics
	JobsStarted   atomic.Int64
	JobsSucceeded atomic.Int64
	JobsFailed    atomic.Int64
	JobsPartial   atomic.Int64

	// Item metrics
	EventsCreated   atomic.Int64
	EventsUpdated   atomic.Int64
	OddsUpdated     atomic.Int64
	ResolverMisses  atomic.Int64
	SettlementsSent atomic.Int64

	// Browser metrics
	ContextsMinted   atomic.Int64
	ContextsRecycled atomic.Int64

	mu      sync.RWMutex
	sources map[string]*SourceStats
	jobs    map[string]*JobStats
}

// SourceStats counts per-source scrape outcomes.
type SourceStats struct {
	Requests  int64
	Successes int64
	Blocked   int64
	NoData    int64
	Failures  int64
}

// JobStats records the last run of one job type.
type JobStats struct {
	LastDuration time.Duration
	RunCount     int64
	FailCount    int64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		sources: make(map[string]*SourceStats),
		jobs:    make(map[string]*JobStats),
	}
}

// RecordSource updates the per-source counters for one scrape attempt.
func (m *Metrics) RecordSource(source string, outcome SourceOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[source]
	if !ok {
		s = &SourceStats{}
		m.sources[source] = s
	}
	s.Requests++
	switch outcome {
	case OutcomeSuccess:
		s.Successes++
	case OutcomeBlocked:
		s.Blocked++
	case OutcomeNoData:
		s.NoData++
	case OutcomeFailure:
		s.Failures++
	}
}

// SourceOutcome classifies one scrape attempt for metrics.
type SourceOutcome int

const (
	OutcomeSuccess SourceOutcome = iota
	OutcomeBlocked
	OutcomeNoData
	OutcomeFailure
)

// RecordJob updates per-job duration and counts after a run completes.
func (m *Metrics) RecordJob(job string, duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[job]
	if !ok {
		j = &JobStats{}
		m.jobs[job] = j
	}
	j.LastDuration = duration
	j.RunCount++
	if failed {
		j.FailCount++
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := []struct {
		name  string
		help  string
		value int64
	}{
		{"scraper_jobs_started_total", "Total job runs started", m.JobsStarted.Load()},
		{"scraper_jobs_succeeded_total", "Total job runs succeeded", m.JobsSucceeded.Load()},
		{"scraper_jobs_failed_total", "Total job runs failed", m.JobsFailed.Load()},
		{"scraper_jobs_partial_total", "Total job runs finished partial", m.JobsPartial.Load()},
		{"scraper_events_created_total", "Total events created", m.EventsCreated.Load()},
		{"scraper_events_updated_total", "Total events updated", m.EventsUpdated.Load()},
		{"scraper_odds_updated_total", "Total outcome prices written", m.OddsUpdated.Load()},
		{"scraper_resolver_misses_total", "Total unresolved scraped pairs", m.ResolverMisses.Load()},
		{"scraper_settlements_sent_total", "Total settlement messages enqueued", m.SettlementsSent.Load()},
		{"scraper_contexts_minted_total", "Total browser contexts created", m.ContextsMinted.Load()},
		{"scraper_contexts_recycled_total", "Total browser contexts recycled", m.ContextsRecycled.Load()},
	}

	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sourceNames := make([]string, 0, len(m.sources))
	for name := range m.sources {
		sourceNames = append(sourceNames, name)
	}
	sort.Strings(sourceNames)

	fmt.Fprintf(w, "# HELP scraper_source_requests_total Scrape attempts per source\n")
	fmt.Fprintf(w, "# TYPE scraper_source_requests_total counter\n")
	for _, name := range sourceNames {
		fmt.Fprintf(w, "scraper_source_requests_total{source=%q} %d\n", name, m.sources[name].Requests)
	}
	fmt.Fprintf(w, "# HELP scraper_source_blocked_total Blocked scrape attempts per source\n")
	fmt.Fprintf(w, "# TYPE scraper_source_blocked_total counter\n")
	for _, name := range sourceNames {
		fmt.Fprintf(w, "scraper_source_blocked_total{source=%q} %d\n", name, m.sources[name].Blocked)
	}

	jobNames := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		jobNames = append(jobNames, name)
	}
	sort.Strings(jobNames)

	fmt.Fprintf(w, "# HELP scraper_job_last_duration_seconds Duration of the last run per job\n")
	fmt.Fprintf(w, "# TYPE scraper_job_last_duration_seconds gauge\n")
	for _, name := range jobNames {
		fmt.Fprintf(w, "scraper_job_last_duration_seconds{job=%q} %.3f\n", name, m.jobs[name].LastDuration.Seconds())
	}
}

// Snapshot returns all metrics as a map for the control surface.
func (m *Metrics) Snapshot() map[string]any {
	snap := map[string]any{
		"jobs_started":      m.JobsStarted.Load(),
		"jobs_succeeded":    m.JobsSucceeded.Load(),
		"jobs_failed":       m.JobsFailed.Load(),
		"jobs_partial":      m.JobsPartial.Load(),
		"events_created":    m.EventsCreated.Load(),
		"events_updated":    m.EventsUpdated.Load(),
		"odds_updated":      m.OddsUpdated.Load(),
		"resolver_misses":   m.ResolverMisses.Load(),
		"settlements_sent":  m.SettlementsSent.Load(),
		"contexts_minted":   m.ContextsMinted.Load(),
		"contexts_recycled": m.ContextsRecycled.Load(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make(map[string]SourceStats, len(m.sources))
	for name, s := range m.sources {
		sources[name] = *s
	}
	snap["sources"] = sources

	return snap
}

// SourceSnapshot returns a copy of one source's counters.
func (m *Metrics) SourceSnapshot(source string) (SourceStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[source]
	if !ok {
		return SourceStats{}, false
	}
	return *s, true
}
