// Package store is the persistence adapter over the shared Postgres schema.
// All writes are idempotent upserts; jobs group them into short transactions
// via Batch and never hold one open across a scrape.
package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matchday-live/scraper/internal/models"
)

// EventUpsert is the write-side shape for one fixture. ExternalIDs carries
// per-source ids and is the preferred upsert key; (sport, start, teams) is
// the fallback.
type EventUpsert struct {
	SportID       int64
	CompetitionID int64
	HomeTeamID    int64
	AwayTeamID    int64
	StartTime     time.Time
	ExternalIDs   map[string]string
}

// Store is everything the jobs and the control surface need from Postgres.
type Store interface {
	EnsureSport(ctx context.Context, name string) (int64, error)
	EnsureCompetition(ctx context.Context, sportID int64, name string) (int64, error)
	UpsertTeam(ctx context.Context, displayName, shortName string) (int64, error)

	LookupAlias(ctx context.Context, source, alias string) (int64, bool, error)
	InsertAlias(ctx context.Context, alias models.TeamAlias) error

	UpsertEvent(ctx context.Context, up EventUpsert) (id int64, created bool, err error)
	NextScheduledStart(ctx context.Context, after time.Time) (time.Time, bool, error)
	TransitionScheduledToLive(ctx context.Context, now time.Time) (int64, error)
	MarkFinished(ctx context.Context, eventID int64, homeScore, awayScore int, endedAt time.Time) (bool, error)
	UpdateLiveScore(ctx context.Context, eventID int64, homeScore, awayScore int, minute *int, period string) error
	CandidatesForOdds(ctx context.Context, sport string, window time.Duration) ([]models.Event, error)
	CandidatesForLive(ctx context.Context) ([]models.Event, error)
	StuckLiveEvents(ctx context.Context, olderThan time.Duration) ([]models.Event, error)

	UpsertMarket(ctx context.Context, eventID int64, typ models.MarketType, line *float64) (int64, error)
	UpsertOutcomes(ctx context.Context, marketID int64, prices []models.OutcomePrice) error

	InsertRun(ctx context.Context, run *models.ScraperRun) error
	UpdateRun(ctx context.Context, run *models.ScraperRun) error
	InsertAlert(ctx context.Context, alert models.ScraperAlert) error

	// Batch runs fn inside one transaction; the Store handed to fn routes
	// every call through it.
	Batch(ctx context.Context, fn func(Store) error) error
}

// IsConstraint reports whether err is a per-row integrity or data error.
// Jobs log these and skip the item instead of aborting.
func IsConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")
}

// IsUnavailable reports whether err means the database itself is gone:
// connection classes, operator shutdown, or a network-level failure. These
// abort the running job with status failed and raise an alert.
func IsUnavailable(err error) bool {
	if err == nil || IsConstraint(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Slugify lowers a taxonomy name to its slug form: "Premier League" becomes
// "premier-league".
func Slugify(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "-")
}
