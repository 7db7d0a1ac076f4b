package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchday-live/scraper/internal/models"
	"github.com/matchday-live/scraper/internal/resolve"
	"github.com/matchday-live/scraper/internal/sources"
	"github.com/matchday-live/scraper/internal/store"
)

// consecutiveBlockLimit is how many odds sources may come back blocked in a
// row for one sport before the job gives the whole sport up for this run
// and raises a critical alert.
const consecutiveBlockLimit = 3

// runSyncOdds refreshes match-winner prices for upcoming events. Sources
// are tried in priority order per sport; an event priced by one source this
// run is not re-priced by a cheaper one.
func (r *Runner) runSyncOdds(ctx context.Context, logger *slog.Logger, run *models.ScraperRun) (models.RunStatus, error) {
	sawBlocked := false
	for _, sport := range r.cfg.Sports {
		if ctx.Err() != nil {
			return models.RunPartial, ctx.Err()
		}
		blocked, err := r.syncOddsSport(ctx, logger, run, sport)
		if err != nil {
			return models.RunFailed, err
		}
		sawBlocked = sawBlocked || blocked
	}
	if sawBlocked {
		return models.RunPartial, nil
	}
	return models.RunSuccess, nil
}

// syncOddsSport prices one sport's candidates. The returned bool reports
// whether any source came back blocked; the error is fatal for the job.
func (r *Runner) syncOddsSport(ctx context.Context, logger *slog.Logger, run *models.ScraperRun, sport string) (bool, error) {
	candidates, err := r.deps.Store.CandidatesForOdds(ctx, sport, r.cfg.OddsWindow)
	if err != nil {
		if store.IsUnavailable(err) {
			if ctx.Err() == nil {
				r.raiseAlert(ctx, models.SeverityCritical,
					fmt.Sprintf("database unavailable during %s: %v", SyncOdds, err), &run.ID)
			}
			return false, err
		}
		logger.Warn("odds candidate query failed", "sport", sport, "error", err)
		return false, nil
	}
	if len(candidates) == 0 {
		logger.Debug("no odds candidates", "sport", sport)
		return false, nil
	}

	priced := make(map[int64]bool)
	sawBlocked := false
	blockedStreak := 0
	for _, src := range r.deps.Registry.Sources(sources.KindOdds) {
		if len(priced) >= r.cfg.TargetEvents {
			break
		}
		if ctx.Err() != nil {
			return sawBlocked, ctx.Err()
		}
		if !r.deps.Registry.Ready(src, sport) {
			logger.Debug("odds source cooling down", "source", src.Name, "sport", sport)
			continue
		}

		res := r.scrapeWithRetry(ctx, src, sport)
		switch res.Status {
		case sources.StatusBlocked:
			sawBlocked = true
			blockedStreak++
			if blockedStreak >= consecutiveBlockLimit {
				logger.Error("consecutive odds sources blocked, skipping sport",
					"sport", sport, "streak", blockedStreak, "marker", res.Marker)
				r.raiseAlert(ctx, models.SeverityCritical,
					fmt.Sprintf("%d consecutive odds sources blocked for %s, sport skipped this run", blockedStreak, sport), &run.ID)
				return sawBlocked, nil
			}
			continue
		case sources.StatusError:
			blockedStreak = 0
			run.ItemsFailed++
			logger.Warn("odds source errored", "source", src.Name, "sport", sport, "error", res.Err)
			continue
		case sources.StatusNoData:
			blockedStreak = 0
			logger.Debug("odds source had no rows", "source", src.Name, "sport", sport)
			continue
		}
		blockedStreak = 0

		if err := r.priceRows(ctx, logger, run, sport, src.Name, candidates, res.Odds, priced); err != nil {
			return sawBlocked, err
		}
	}
	return sawBlocked, nil
}

// priceRows resolves one source's scraped rows against the candidates and
// writes prices for the matches.
func (r *Runner) priceRows(ctx context.Context, logger *slog.Logger, run *models.ScraperRun, sport, srcName string, candidates []models.Event, rows []sources.ScrapedOdds, priced map[int64]bool) error {
	for _, row := range rows {
		if len(priced) >= r.cfg.TargetEvents {
			return nil
		}
		run.ItemsProcessed++
		m, ok := r.deps.Resolver.Resolve(ctx, resolve.Query{
			Source:    srcName,
			HomeTeam:  row.HomeTeam,
			AwayTeam:  row.AwayTeam,
			StartTime: row.StartTime,
		}, candidates)
		if !ok {
			run.ItemsFailed++
			r.deps.Metrics.ResolverMisses.Add(1)
			logger.Info("unmatched scraped pair",
				"source", srcName,
				"sport", sport,
				"home_raw", row.HomeTeam,
				"away_raw", row.AwayTeam,
				"home_norm", resolve.Normalize(row.HomeTeam),
				"away_norm", resolve.Normalize(row.AwayTeam),
			)
			continue
		}
		if priced[m.Event.ID] {
			continue
		}
		if err := r.writeOdds(ctx, m.Event.ID, row); err != nil {
			if store.IsUnavailable(err) {
				if ctx.Err() == nil {
					r.raiseAlert(ctx, models.SeverityCritical,
						fmt.Sprintf("database unavailable during %s: %v", SyncOdds, err), &run.ID)
				}
				return err
			}
			run.ItemsFailed++
			logger.Warn("odds write skipped", "event", m.Event.ID, "source", srcName, "error", err)
			continue
		}
		priced[m.Event.ID] = true
		run.ItemsUpdated++
		run.SportBreakdown[sport]++
		r.deps.Metrics.OddsUpdated.Add(1)
	}
	return nil
}

// writeOdds upserts the match-winner market and its priced outcomes in one
// transaction.
func (r *Runner) writeOdds(ctx context.Context, eventID int64, row sources.ScrapedOdds) error {
	prices := outcomePrices(row)
	if len(prices) == 0 {
		return fmt.Errorf("scraped row carries no prices")
	}
	return r.deps.Store.Batch(ctx, func(tx store.Store) error {
		marketID, err := tx.UpsertMarket(ctx, eventID, models.MarketMatchWinner, nil)
		if err != nil {
			return err
		}
		return tx.UpsertOutcomes(ctx, marketID, prices)
	})
}

// outcomePrices flattens a scraped row into named outcome prices. Two-way
// sports simply never fill Draw.
func outcomePrices(row sources.ScrapedOdds) []models.OutcomePrice {
	var out []models.OutcomePrice
	if row.HomeWin != nil {
		out = append(out, models.OutcomePrice{Name: "home", Odds: models.ClampOdds(*row.HomeWin)})
	}
	if row.Draw != nil {
		out = append(out, models.OutcomePrice{Name: "draw", Odds: models.ClampOdds(*row.Draw)})
	}
	if row.AwayWin != nil {
		out = append(out, models.OutcomePrice{Name: "away", Odds: models.ClampOdds(*row.AwayWin)})
	}
	return out
}
