package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/matchday-live/scraper/internal/models"
	"github.com/matchday-live/scraper/internal/resolve"
	"github.com/matchday-live/scraper/internal/sources"
	"github.com/matchday-live/scraper/internal/store"
)

// runSyncLiveScores updates scores for in-play events and flips finished
// ones. Finishing an event is the only path that enqueues a settlement
// message, and MarkFinished's status guard means it happens at most once
// per event.
func (r *Runner) runSyncLiveScores(ctx context.Context, logger *slog.Logger, run *models.ScraperRun) (models.RunStatus, error) {
	candidates, err := r.deps.Store.CandidatesForLive(ctx)
	if err != nil {
		if store.IsUnavailable(err) && ctx.Err() == nil {
			r.raiseAlert(ctx, models.SeverityCritical,
				fmt.Sprintf("database unavailable during %s: %v", SyncLiveScores, err), &run.ID)
		}
		return models.RunFailed, err
	}
	if len(candidates) == 0 {
		logger.Debug("no live candidates")
		return models.RunSuccess, nil
	}

	bySport := map[string][]models.Event{}
	for _, ev := range candidates {
		bySport[ev.Sport] = append(bySport[ev.Sport], ev)
	}
	sports := make([]string, 0, len(bySport))
	for sport := range bySport {
		sports = append(sports, sport)
	}
	sort.Strings(sports)

	sawBlocked := false
	for _, sport := range sports {
		if ctx.Err() != nil {
			return models.RunPartial, ctx.Err()
		}
		scores, srcName, blocked := r.liveScores(ctx, logger, sport)
		sawBlocked = sawBlocked || blocked
		if srcName == "" {
			run.ItemsFailed += len(bySport[sport])
			continue
		}
		if run.Source == "" {
			run.Source = srcName
		}
		if err := r.applyScores(ctx, logger, run, sport, srcName, bySport[sport], scores); err != nil {
			return models.RunFailed, err
		}
	}
	if sawBlocked {
		return models.RunPartial, nil
	}
	return models.RunSuccess, nil
}

// liveScores pulls one sport's in-play feed from the first live source that
// answers. The bool reports whether any source came back blocked.
func (r *Runner) liveScores(ctx context.Context, logger *slog.Logger, sport string) ([]sources.ScrapedScore, string, bool) {
	sawBlocked := false
	for _, src := range r.deps.Registry.Sources(sources.KindLiveScores) {
		if !r.deps.Registry.Ready(src, sport) {
			logger.Debug("live source cooling down", "source", src.Name, "sport", sport)
			continue
		}
		res := r.scrapeWithRetry(ctx, src, sport)
		switch res.Status {
		case sources.StatusOK:
			return res.Scores, src.Name, sawBlocked
		case sources.StatusNoData:
			// The feed answered and nothing is in play; trust it.
			return nil, src.Name, sawBlocked
		case sources.StatusBlocked:
			sawBlocked = true
			logger.Warn("live source blocked", "source", src.Name, "sport", sport, "marker", res.Marker)
		case sources.StatusError:
			logger.Warn("live source errored", "source", src.Name, "sport", sport, "error", res.Err)
		}
	}
	return nil, "", sawBlocked
}

// applyScores walks our tracked events and applies the feed rows that belong
// to them. Feed rows for events we never tracked are normal and ignored;
// tracked events missing from the feed just mean the feed lagged.
func (r *Runner) applyScores(ctx context.Context, logger *slog.Logger, run *models.ScraperRun, sport, srcName string, events []models.Event, scores []sources.ScrapedScore) error {
	rowByExt := make(map[string]sources.ScrapedScore, len(scores))
	rowByPair := make(map[string]sources.ScrapedScore, len(scores))
	for _, sc := range scores {
		if sc.ExternalID != "" {
			rowByExt[sc.ExternalID] = sc
		}
		rowByPair[pairKey(sc.HomeTeam, sc.AwayTeam)] = sc
	}

	for _, ev := range events {
		sc, ok := findScoreRow(ev, rowByExt, rowByPair)
		if !ok {
			logger.Debug("tracked event missing from feed", "event", ev.ID, "home", ev.HomeTeam, "away", ev.AwayTeam)
			continue
		}
		run.ItemsProcessed++

		if sc.Finished {
			flipped, err := r.deps.Store.MarkFinished(ctx, ev.ID, sc.HomeScore, sc.AwayScore, r.now())
			if err != nil {
				if store.IsUnavailable(err) {
					if ctx.Err() == nil {
						r.raiseAlert(ctx, models.SeverityCritical,
							fmt.Sprintf("database unavailable during %s: %v", SyncLiveScores, err), &run.ID)
					}
					return err
				}
				run.ItemsFailed++
				logger.Warn("mark finished failed", "event", ev.ID, "error", err)
				continue
			}
			if !flipped {
				// Already finished, or never went live. Nothing to settle.
				continue
			}
			run.ItemsUpdated++
			run.SportBreakdown[sport]++
			r.deps.Metrics.EventsUpdated.Add(1)
			logger.Info("event finished", "event", ev.ID, "home", ev.HomeTeam, "away", ev.AwayTeam,
				"score", fmt.Sprintf("%d-%d", sc.HomeScore, sc.AwayScore), "source", srcName)
			if err := r.deps.Queue.Send(ctx, ev.ID); err != nil {
				run.ItemsFailed++
				logger.Error("settlement enqueue failed", "event", ev.ID, "error", err)
				continue
			}
			r.deps.Metrics.SettlementsSent.Add(1)
			continue
		}

		if err := r.deps.Store.UpdateLiveScore(ctx, ev.ID, sc.HomeScore, sc.AwayScore, sc.Minute, sc.Period); err != nil {
			if store.IsUnavailable(err) {
				if ctx.Err() == nil {
					r.raiseAlert(ctx, models.SeverityCritical,
						fmt.Sprintf("database unavailable during %s: %v", SyncLiveScores, err), &run.ID)
				}
				return err
			}
			run.ItemsFailed++
			logger.Warn("live score update failed", "event", ev.ID, "error", err)
			continue
		}
		run.ItemsUpdated++
		run.SportBreakdown[sport]++
	}
	return nil
}

// findScoreRow locates the feed row for one tracked event. External ids win
// regardless of which source recorded them, since feed ids are unique enough
// across the catalog; name matching covers events whose feed id was never
// stored. Feed names and fixture names come from the same site family, so
// exact normalized equality is all the fuzz this needs.
func findScoreRow(ev models.Event, byExt, byPair map[string]sources.ScrapedScore) (sources.ScrapedScore, bool) {
	for _, id := range ev.ExternalIDs {
		if sc, ok := byExt[id]; ok {
			return sc, true
		}
	}
	sc, ok := byPair[pairKey(ev.HomeTeam, ev.AwayTeam)]
	return sc, ok
}

// pairKey builds the normalized home|away key used to match feed rows to
// events by name.
func pairKey(home, away string) string {
	return resolve.Normalize(home) + "|" + resolve.Normalize(away)
}
