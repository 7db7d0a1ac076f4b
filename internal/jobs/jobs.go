// Package jobs holds the four scraper jobs and the run framework around
// them. Every invocation writes a scraper_runs row, aggregates per-item
// failures into counters, and only lets whole-job errors escape to the
// scheduler.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/models"
	"github.com/matchday-live/scraper/internal/observability"
	"github.com/matchday-live/scraper/internal/queue"
	"github.com/matchday-live/scraper/internal/resolve"
	"github.com/matchday-live/scraper/internal/sources"
	"github.com/matchday-live/scraper/internal/store"
)

// JobType identifies one of the known jobs. The string values are the
// job_type spellings in scraper_runs.
type JobType string

const (
	SyncFixtures     JobType = "sync_fixtures"
	SyncOdds         JobType = "sync_odds"
	SyncLiveScores   JobType = "sync_live_scores"
	TransitionEvents JobType = "transition_events"
)

// All lists every known job in dispatch order.
func All() []JobType {
	return []JobType{SyncFixtures, SyncOdds, SyncLiveScores, TransitionEvents}
}

// Parse maps an external job name onto its JobType. Hyphen and underscore
// spellings are both accepted, so "sync-odds" from a URL path works.
func Parse(name string) (JobType, bool) {
	switch JobType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")) {
	case SyncFixtures:
		return SyncFixtures, true
	case SyncOdds:
		return SyncOdds, true
	case SyncLiveScores:
		return SyncLiveScores, true
	case TransitionEvents:
		return TransitionEvents, true
	}
	return "", false
}

// UsesBrowser reports whether the job may lease browser contexts. One-shot
// invocations of feed-only jobs skip launching Chromium entirely.
func (j JobType) UsesBrowser() bool {
	return j == SyncFixtures || j == SyncOdds
}

// consecutiveFailAlert is how many failed runs in a row of one job raise a
// critical alert. Fires once at the threshold; a successful run re-arms it.
const consecutiveFailAlert = 3

// SourceRegistry is the slice of the source catalog the jobs consume.
type SourceRegistry interface {
	Sources(kind sources.Kind) []*sources.Source
	Ready(src *sources.Source, sport string) bool
	Scrape(ctx context.Context, src *sources.Source, sport string) sources.Result
}

// Deps bundles the shared components jobs draw on. The composition root
// builds one set and hands it to a single Runner; tests inject fakes.
type Deps struct {
	Store    store.Store
	Registry SourceRegistry
	Resolver *resolve.Resolver
	Queue    queue.Queue
	Metrics  *observability.Metrics
}

// Runner executes jobs against the shared components.
type Runner struct {
	cfg    config.JobsConfig
	deps   Deps
	logger *slog.Logger

	mu           sync.Mutex
	failStreaks  map[JobType]int
	stuckAlerted map[int64]bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a Runner.
func NewRunner(cfg config.JobsConfig, deps Deps, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		failStreaks:  make(map[JobType]int),
		stuckAlerted: make(map[int64]bool),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Run executes one job invocation end to end: run row in, job body, run row
// updated exactly once. The returned error is non-nil only for whole-job
// failures; per-item errors stay inside the run counters.
func (r *Runner) Run(ctx context.Context, job JobType) error {
	logger, _ := observability.WithJob(r.logger, string(job))

	ctx, cancel := context.WithTimeout(ctx, r.timeout(job))
	defer cancel()

	run := &models.ScraperRun{
		JobType:        string(job),
		Status:         models.RunRunning,
		StartedAt:      r.now(),
		SportBreakdown: map[string]int{},
	}
	if err := r.deps.Store.InsertRun(ctx, run); err != nil {
		logger.Error("insert run row failed", "error", err)
		return fmt.Errorf("insert run for %s: %w", job, err)
	}
	r.deps.Metrics.JobsStarted.Add(1)
	logger.Info("job started", "run", run.ID)

	status, err := r.dispatch(ctx, logger, job, run)
	if err != nil {
		if ctx.Err() != nil {
			// The job's wall clock or the shutdown drain expired; whatever
			// was written before the cut stands.
			status = models.RunPartial
		} else {
			status = models.RunFailed
		}
	}

	finished := r.now()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(run.StartedAt).Milliseconds()
	run.Status = status
	if err != nil {
		run.Error = err.Error()
	}

	switch status {
	case models.RunSuccess:
		r.deps.Metrics.JobsSucceeded.Add(1)
	case models.RunPartial:
		r.deps.Metrics.JobsPartial.Add(1)
	case models.RunFailed:
		r.deps.Metrics.JobsFailed.Add(1)
	}
	r.deps.Metrics.RecordJob(string(job), finished.Sub(run.StartedAt), status == models.RunFailed)

	// The job ctx may be the very thing that expired, so the bookkeeping
	// writes ride an uncancelled context with the store's own timeout.
	if uerr := r.deps.Store.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
		logger.Error("update run row failed", "error", uerr)
	}
	r.trackFailures(ctx, job, run)

	logger.Info("job finished",
		"run", run.ID,
		"status", status,
		"duration_ms", run.DurationMS,
		"processed", run.ItemsProcessed,
		"created", run.ItemsCreated,
		"updated", run.ItemsUpdated,
		"failed", run.ItemsFailed,
	)

	if status == models.RunFailed {
		return err
	}
	return nil
}

// dispatch routes a JobType to its body. The compiler keeps this table in
// sync with the enum; Parse rejects unknown names at the edges.
func (r *Runner) dispatch(ctx context.Context, logger *slog.Logger, job JobType, run *models.ScraperRun) (models.RunStatus, error) {
	switch job {
	case SyncFixtures:
		return r.runSyncFixtures(ctx, logger, run)
	case SyncOdds:
		return r.runSyncOdds(ctx, logger, run)
	case SyncLiveScores:
		return r.runSyncLiveScores(ctx, logger, run)
	case TransitionEvents:
		return r.runTransitionEvents(ctx, logger, run)
	}
	return models.RunFailed, fmt.Errorf("unknown job %q", job)
}

func (r *Runner) timeout(job JobType) time.Duration {
	var d time.Duration
	switch job {
	case SyncFixtures:
		d = r.cfg.FixturesTimeout
	case SyncOdds:
		d = r.cfg.OddsTimeout
	case SyncLiveScores:
		d = r.cfg.LiveScoresTimeout
	case TransitionEvents:
		d = r.cfg.TransitionTimeout
	}
	if d <= 0 {
		d = time.Minute
	}
	return d
}

// scrapeWithRetry retries transient scrape errors inside the job's retry
// budget (2 s, then 6 s with the defaults). Blocked and no-data outcomes are
// final: retrying a site that just pushed back only digs the hole deeper.
func (r *Runner) scrapeWithRetry(ctx context.Context, src *sources.Source, sport string) sources.Result {
	res := r.deps.Registry.Scrape(ctx, src, sport)
	delay := r.cfg.RetryDelay
	for attempt := 0; attempt < r.cfg.MaxRetries && res.Status == sources.StatusError && ctx.Err() == nil; attempt++ {
		if err := r.sleep(ctx, delay); err != nil {
			return res
		}
		delay *= 3
		res = r.deps.Registry.Scrape(ctx, src, sport)
	}
	return res
}

// trackFailures maintains the per-job failure streak and raises a critical
// alert when a job keeps failing.
func (r *Runner) trackFailures(ctx context.Context, job JobType, run *models.ScraperRun) {
	r.mu.Lock()
	if run.Status == models.RunFailed {
		r.failStreaks[job]++
	} else {
		r.failStreaks[job] = 0
	}
	streak := r.failStreaks[job]
	r.mu.Unlock()

	if streak == consecutiveFailAlert {
		r.raiseAlert(ctx, models.SeverityCritical,
			fmt.Sprintf("%s failed %d times in a row: %s", job, streak, run.Error), &run.ID)
	}
}

// raiseAlert writes a scraper_alerts row. Alerts are best-effort; a failure
// to record one is logged and swallowed.
func (r *Runner) raiseAlert(ctx context.Context, severity models.AlertSeverity, message string, runID *int64) {
	alert := models.ScraperAlert{
		Severity:  severity,
		Message:   message,
		RunID:     runID,
		CreatedAt: r.now(),
	}
	if err := r.deps.Store.InsertAlert(context.WithoutCancel(ctx), alert); err != nil {
		r.logger.Error("insert alert failed", "severity", severity, "message", message, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
