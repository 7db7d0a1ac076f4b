package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchday-live/scraper/internal/models"
	"github.com/matchday-live/scraper/internal/store"
)

// stuckLiveAfter is how long an event may sit live before the sweep flags
// it. No real match runs this long; a stuck row means the finish was missed.
const stuckLiveAfter = 6 * time.Hour

// runTransitionEvents flips scheduled events whose kickoff has passed to
// live, then sweeps for events stuck live. The job runs every minute and is
// pure SQL; a quiet minute records zero updates.
func (r *Runner) runTransitionEvents(ctx context.Context, logger *slog.Logger, run *models.ScraperRun) (models.RunStatus, error) {
	count, err := r.deps.Store.TransitionScheduledToLive(ctx, r.now())
	if err != nil {
		// A dead database alerts; the job's own deadline expiring does not,
		// even though both surface as unavailability.
		if store.IsUnavailable(err) && ctx.Err() == nil {
			r.raiseAlert(ctx, models.SeverityCritical,
				fmt.Sprintf("database unavailable during %s: %v", TransitionEvents, err), &run.ID)
		}
		return models.RunFailed, err
	}
	run.ItemsProcessed = int(count)
	run.ItemsUpdated = int(count)
	if count > 0 {
		r.deps.Metrics.EventsUpdated.Add(count)
		logger.Info("events went live", "count", count)
	}

	r.sweepStuckLive(ctx, logger, run)
	return models.RunSuccess, nil
}

// sweepStuckLive raises a warning for each event live longer than any real
// match. Each event alerts once per process lifetime.
func (r *Runner) sweepStuckLive(ctx context.Context, logger *slog.Logger, run *models.ScraperRun) {
	stuck, err := r.deps.Store.StuckLiveEvents(ctx, stuckLiveAfter)
	if err != nil {
		logger.Warn("stuck live sweep failed", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.mu.Lock()
	fresh := stuck[:0]
	for _, ev := range stuck {
		if !r.stuckAlerted[ev.ID] {
			r.stuckAlerted[ev.ID] = true
			fresh = append(fresh, ev)
		}
	}
	r.mu.Unlock()

	for _, ev := range fresh {
		logger.Warn("event stuck live", "event", ev.ID, "home", ev.HomeTeam, "away", ev.AwayTeam, "since", ev.StartTime)
		r.raiseAlert(ctx, models.SeverityWarning,
			fmt.Sprintf("event %d (%s vs %s) has been live since %s", ev.ID, ev.HomeTeam, ev.AwayTeam, ev.StartTime.UTC().Format(time.RFC3339)), &run.ID)
	}
}
