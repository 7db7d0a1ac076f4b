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

// lowFixtureFloor is the per-run event count under which the fixture sync
// raises a warning: a near-empty sync usually means a feed changed shape.
const lowFixtureFloor = 5

// runSyncFixtures pulls upcoming fixtures for every configured sport from
// the highest-priority fixtures source that answers, and upserts events plus
// their supporting sport/competition/team rows.
func (r *Runner) runSyncFixtures(ctx context.Context, logger *slog.Logger, run *models.ScraperRun) (models.RunStatus, error) {
	var sportsFailed int
	for _, sport := range r.cfg.Sports {
		if ctx.Err() != nil {
			return models.RunPartial, ctx.Err()
		}
		rows, srcName := r.fixturesFromPrimary(ctx, logger, sport)
		if srcName == "" {
			sportsFailed++
			logger.Warn("no fixtures source answered", "sport", sport)
			continue
		}
		if run.Source == "" {
			run.Source = srcName
		}
		if err := r.writeFixtures(ctx, logger, run, sport, srcName, rows); err != nil {
			return models.RunFailed, err
		}
	}

	if sportsFailed > 0 && sportsFailed == len(r.cfg.Sports) {
		return models.RunFailed, fmt.Errorf("all fixtures sources failed for every sport")
	}

	if written := run.ItemsCreated + run.ItemsUpdated; written < lowFixtureFloor {
		r.raiseAlert(ctx, models.SeverityWarning,
			fmt.Sprintf("fixture sync produced %d events, expected at least %d", written, lowFixtureFloor), &run.ID)
	}

	if sportsFailed > 0 {
		return models.RunPartial, nil
	}
	return models.RunSuccess, nil
}

// fixturesFromPrimary walks fixtures sources in priority order and returns
// the first answer. No-data from a source that answered is trusted, not
// second-guessed by a lower-priority source; blocked and errored sources
// fall through to the next one.
func (r *Runner) fixturesFromPrimary(ctx context.Context, logger *slog.Logger, sport string) ([]sources.ScrapedFixture, string) {
	for _, src := range r.deps.Registry.Sources(sources.KindFixtures) {
		if !r.deps.Registry.Ready(src, sport) {
			logger.Debug("fixtures source cooling down", "source", src.Name, "sport", sport)
			continue
		}
		res := r.scrapeWithRetry(ctx, src, sport)
		switch res.Status {
		case sources.StatusOK:
			return res.Fixtures, src.Name
		case sources.StatusNoData:
			logger.Debug("no upcoming fixtures", "source", src.Name, "sport", sport)
			return nil, src.Name
		case sources.StatusBlocked:
			logger.Warn("fixtures source blocked", "source", src.Name, "sport", sport, "marker", res.Marker)
		case sources.StatusError:
			logger.Warn("fixtures source errored", "source", src.Name, "sport", sport, "error", res.Err)
		}
	}
	return nil, ""
}

// writeFixtures persists one sport's scraped rows. Rows outside the fixture
// window are dropped; per-row failures are counted and skipped. Only a dead
// database stops the whole job.
func (r *Runner) writeFixtures(ctx context.Context, logger *slog.Logger, run *models.ScraperRun, sport, srcName string, rows []sources.ScrapedFixture) error {
	now := r.now()
	horizon := now.Add(r.cfg.FixtureWindow)
	for _, f := range rows {
		if f.StartTime.Before(now) || f.StartTime.After(horizon) {
			continue
		}
		if f.Sport == "" {
			f.Sport = sport
		}
		run.ItemsProcessed++
		created, err := r.upsertFixture(ctx, srcName, f)
		if err != nil {
			if store.IsUnavailable(err) {
				if ctx.Err() == nil {
					r.raiseAlert(ctx, models.SeverityCritical,
						fmt.Sprintf("database unavailable during %s: %v", SyncFixtures, err), &run.ID)
				}
				return err
			}
			run.ItemsFailed++
			logger.Warn("fixture skipped", "sport", sport, "home", f.HomeTeam, "away", f.AwayTeam, "error", err)
			continue
		}
		if created {
			run.ItemsCreated++
			r.deps.Metrics.EventsCreated.Add(1)
		} else {
			run.ItemsUpdated++
			r.deps.Metrics.EventsUpdated.Add(1)
		}
		run.SportBreakdown[sport]++
	}
	return nil
}

// upsertFixture writes one fixture and its supporting rows inside a single
// short transaction, so a constraint violation poisons one fixture, not the
// batch. Alias rows are seeded from the source spelling to give later runs
// an exact-lookup hit.
func (r *Runner) upsertFixture(ctx context.Context, srcName string, f sources.ScrapedFixture) (created bool, err error) {
	err = r.deps.Store.Batch(ctx, func(tx store.Store) error {
		sportID, err := tx.EnsureSport(ctx, f.Sport)
		if err != nil {
			return err
		}
		var compID int64
		if f.Competition != "" {
			compID, err = tx.EnsureCompetition(ctx, sportID, f.Competition)
			if err != nil {
				return err
			}
		}
		homeID, err := tx.UpsertTeam(ctx, f.HomeTeam, "")
		if err != nil {
			return err
		}
		awayID, err := tx.UpsertTeam(ctx, f.AwayTeam, "")
		if err != nil {
			return err
		}
		if err := tx.InsertAlias(ctx, models.TeamAlias{TeamID: homeID, Alias: resolve.AliasText(f.HomeTeam), SourceName: srcName}); err != nil {
			return err
		}
		if err := tx.InsertAlias(ctx, models.TeamAlias{TeamID: awayID, Alias: resolve.AliasText(f.AwayTeam), SourceName: srcName}); err != nil {
			return err
		}

		ext := map[string]string{}
		if f.ExternalID != "" {
			ext[srcName] = f.ExternalID
		}
		eventID, wasCreated, err := tx.UpsertEvent(ctx, store.EventUpsert{
			SportID:       sportID,
			CompetitionID: compID,
			HomeTeamID:    homeID,
			AwayTeamID:    awayID,
			StartTime:     f.StartTime,
			ExternalIDs:   ext,
		})
		if err != nil {
			return err
		}
		// Every event carries a match-winner market from birth so the odds
		// job has a row to price.
		if _, err := tx.UpsertMarket(ctx, eventID, models.MarketMatchWinner, nil); err != nil {
			return err
		}
		created = wasCreated
		return nil
	})
	return created, err
}
