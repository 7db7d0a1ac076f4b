package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/models"
)

// querier is the slice of pgx shared by pgxpool.Pool and pgx.Tx, so the same
// method set runs inside and outside a Batch transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool    *pgxpool.Pool
	db      querier
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New connects, tunes and pings the pool. An unreachable database is fatal
// for the caller, so the error carries enough to log and exit.
func New(ctx context.Context, dsn string, cfg config.DatabaseConfig, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.ConnConfig.RuntimeParams = map[string]string{
		"application_name": "scraperd",
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Postgres{
		pool:    pool,
		db:      pool,
		timeout: timeout,
		logger:  logger.With("component", "store"),
		now:     time.Now,
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return s, nil
}

// Ping verifies the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Batch runs fn inside a single transaction. Calls on the Store passed to fn
// hit the transaction; nesting reuses the open one.
func (s *Postgres) Batch(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.db.(pgx.Tx); ok {
		return fn(s)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &Postgres{pool: s.pool, db: tx, timeout: s.timeout, logger: s.logger, now: s.now}
	if err := fn(batch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureSport(ctx context.Context, name string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO sports (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		name, Slugify(name)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure sport %q: %w", name, err)
	}
	return id, nil
}

func (s *Postgres) EnsureCompetition(ctx context.Context, sportID int64, name string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO competitions (sport_id, name) VALUES ($1, $2)
		ON CONFLICT (sport_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		sportID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure competition %q: %w", name, err)
	}
	return id, nil
}

func (s *Postgres) UpsertTeam(ctx context.Context, displayName, shortName string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO teams (display_name, short_name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (display_name) DO UPDATE
		SET short_name = COALESCE(NULLIF(EXCLUDED.short_name, ''), teams.short_name)
		RETURNING id`,
		displayName, shortName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert team %q: %w", displayName, err)
	}
	return id, nil
}

func (s *Postgres) LookupAlias(ctx context.Context, source, alias string) (int64, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var teamID int64
	err := s.db.QueryRow(ctx, `
		SELECT team_id FROM team_aliases WHERE source_name = $1 AND alias = $2`,
		source, alias).Scan(&teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup alias %q: %w", alias, err)
	}
	return teamID, true, nil
}

func (s *Postgres) InsertAlias(ctx context.Context, alias models.TeamAlias) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO team_aliases (team_id, alias, source_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (alias, source_name) DO NOTHING`,
		alias.TeamID, alias.Alias, alias.SourceName)
	if err != nil {
		return fmt.Errorf("insert alias %q: %w", alias.Alias, err)
	}
	return nil
}

// UpsertEvent finds a fixture by any of its external ids, falling back to
// the (sport, teams, start) tuple, and inserts it when nothing matches. The
// status column is owned by the transition and live-score paths and is never
// touched on update; kickoff may only move while still scheduled.
func (s *Postgres) UpsertEvent(ctx context.Context, up EventUpsert) (int64, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ext, err := json.Marshal(orEmptyIDs(up.ExternalIDs))
	if err != nil {
		return 0, false, fmt.Errorf("encode external ids: %w", err)
	}

	id, found, err := s.findEvent(ctx, up)
	if err != nil {
		return 0, false, err
	}
	if found {
		_, err = s.db.Exec(ctx, `
			UPDATE events SET
				competition_id = COALESCE(NULLIF($2::bigint, 0), competition_id),
				start_time = CASE WHEN status = 'scheduled' THEN $3 ELSE start_time END,
				external_ids = COALESCE(external_ids, '{}'::jsonb) || $4::jsonb,
				updated_at = now()
			WHERE id = $1`,
			id, up.CompetitionID, up.StartTime, ext)
		if err != nil {
			return 0, false, fmt.Errorf("update event %d: %w", id, err)
		}
		return id, false, nil
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO events (sport_id, competition_id, home_team_id, away_team_id, start_time, status, external_ids)
		VALUES ($1, NULLIF($2::bigint, 0), $3, $4, $5, 'scheduled', $6::jsonb)
		RETURNING id`,
		up.SportID, up.CompetitionID, up.HomeTeamID, up.AwayTeamID, up.StartTime, ext).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert event: %w", err)
	}
	return id, true, nil
}

func (s *Postgres) findEvent(ctx context.Context, up EventUpsert) (int64, bool, error) {
	var id int64
	for source, extID := range up.ExternalIDs {
		err := s.db.QueryRow(ctx, `
			SELECT id FROM events WHERE external_ids ->> $1 = $2`,
			source, extID).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("find event by external id: %w", err)
		}
	}

	err := s.db.QueryRow(ctx, `
		SELECT id FROM events
		WHERE sport_id = $1 AND home_team_id = $2 AND away_team_id = $3 AND start_time = $4`,
		up.SportID, up.HomeTeamID, up.AwayTeamID, up.StartTime).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find event by tuple: %w", err)
	}
	return id, true, nil
}

// NextScheduledStart returns the kickoff of the next scheduled event after
// the given instant. The adaptive odds timer classifies urgency from it.
func (s *Postgres) NextScheduledStart(ctx context.Context, after time.Time) (time.Time, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var start time.Time
	err := s.db.QueryRow(ctx, `
		SELECT start_time FROM events
		WHERE status = 'scheduled' AND start_time > $1
		ORDER BY start_time LIMIT 1`, after).Scan(&start)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next scheduled start: %w", err)
	}
	return start, true, nil
}

func (s *Postgres) TransitionScheduledToLive(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE events SET status = 'live', updated_at = now()
		WHERE status = 'scheduled' AND start_time <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("transition events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFinished flips a live event to finished. The status guard in the WHERE
// clause enforces the allowed transition; false means the event was not live.
func (s *Postgres) MarkFinished(ctx context.Context, eventID int64, homeScore, awayScore int, endedAt time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE events SET status = 'finished', home_score = $2, away_score = $3,
			ended_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'live'`,
		eventID, homeScore, awayScore, endedAt)
	if err != nil {
		return false, fmt.Errorf("mark finished %d: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) UpdateLiveScore(ctx context.Context, eventID int64, homeScore, awayScore int, minute *int, period string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		UPDATE events SET home_score = $2, away_score = $3, minute = $4,
			period = NULLIF($5, ''), updated_at = now()
		WHERE id = $1 AND status = 'live'`,
		eventID, homeScore, awayScore, minute, period)
	if err != nil {
		return fmt.Errorf("update live score %d: %w", eventID, err)
	}
	return nil
}

const eventColumns = `
	e.id, s.slug, COALESCE(e.competition_id, 0), COALESCE(c.name, ''),
	e.home_team_id, th.display_name, e.away_team_id, ta.display_name,
	e.start_time, e.status,
	e.home_score, e.away_score, COALESCE(e.period, ''), e.minute,
	COALESCE(e.external_ids, '{}'::jsonb), e.updated_at`

const eventFrom = `
	FROM events e
	JOIN sports s ON s.id = e.sport_id
	JOIN teams th ON th.id = e.home_team_id
	JOIN teams ta ON ta.id = e.away_team_id
	LEFT JOIN competitions c ON c.id = e.competition_id`

func (s *Postgres) CandidatesForOdds(ctx context.Context, sport string, window time.Duration) ([]models.Event, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.now()
	rows, err := s.db.Query(ctx, `SELECT`+eventColumns+eventFrom+`
		WHERE s.slug = $1 AND e.status = 'scheduled' AND e.start_time BETWEEN $2 AND $3
		ORDER BY e.start_time`,
		sport, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("candidates for odds: %w", err)
	}
	return scanEvents(rows)
}

func (s *Postgres) CandidatesForLive(ctx context.Context) ([]models.Event, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT`+eventColumns+eventFrom+`
		WHERE e.status = 'live' OR (e.status = 'scheduled' AND e.start_time <= $1)
		ORDER BY e.start_time`,
		s.now())
	if err != nil {
		return nil, fmt.Errorf("candidates for live: %w", err)
	}
	return scanEvents(rows)
}

// StuckLiveEvents returns events that have been live far longer than any
// real match lasts; the transition job raises an alert for them.
func (s *Postgres) StuckLiveEvents(ctx context.Context, olderThan time.Duration) ([]models.Event, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT`+eventColumns+eventFrom+`
		WHERE e.status = 'live' AND e.start_time < $1
		ORDER BY e.start_time`,
		s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("stuck live events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]models.Event, error) {
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev  models.Event
			ext []byte
		)
		err := rows.Scan(
			&ev.ID, &ev.Sport, &ev.CompetitionID, &ev.Competition,
			&ev.HomeTeamID, &ev.HomeTeam, &ev.AwayTeamID, &ev.AwayTeam,
			&ev.StartTime, &ev.Status,
			&ev.HomeScore, &ev.AwayScore, &ev.Period, &ev.Minute,
			&ext, &ev.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(ext, &ev.ExternalIDs); err != nil {
			return nil, fmt.Errorf("decode external ids for event %d: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *Postgres) UpsertMarket(ctx context.Context, eventID int64, typ models.MarketType, line *float64) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRow(ctx, `
		SELECT id FROM markets
		WHERE event_id = $1 AND type = $2 AND line IS NOT DISTINCT FROM $3`,
		eventID, typ, line).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("find market: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO markets (event_id, type, line) VALUES ($1, $2, $3)
		RETURNING id`,
		eventID, typ, line).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert market: %w", err)
	}
	return id, nil
}

// UpsertOutcomes writes current prices, moving the old price into
// previous_odds only when it actually changed so deltas survive repeated
// scrapes of the same number.
func (s *Postgres) UpsertOutcomes(ctx context.Context, marketID int64, prices []models.OutcomePrice) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	for _, p := range prices {
		_, err := s.db.Exec(ctx, `
			INSERT INTO outcomes (market_id, name, odds)
			VALUES ($1, $2, $3)
			ON CONFLICT (market_id, name) DO UPDATE SET
				previous_odds = CASE WHEN outcomes.odds IS DISTINCT FROM EXCLUDED.odds
					THEN outcomes.odds ELSE outcomes.previous_odds END,
				odds = EXCLUDED.odds,
				updated_at = now()`,
			marketID, p.Name, models.ClampOdds(p.Odds))
		if err != nil {
			return fmt.Errorf("upsert outcome %q: %w", p.Name, err)
		}
	}
	return nil
}

func (s *Postgres) InsertRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	breakdown, err := json.Marshal(orEmptyBreakdown(run.SportBreakdown))
	if err != nil {
		return fmt.Errorf("encode sport breakdown: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO scraper_runs (job_type, source, status, started_at, sport_breakdown)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5::jsonb)
		RETURNING id`,
		run.JobType, run.Source, run.Status, run.StartedAt, breakdown).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateRun(ctx context.Context, run *models.ScraperRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	breakdown, err := json.Marshal(orEmptyBreakdown(run.SportBreakdown))
	if err != nil {
		return fmt.Errorf("encode sport breakdown: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE scraper_runs SET
			source = NULLIF($2, ''), status = $3, finished_at = $4, duration_ms = $5,
			items_processed = $6, items_created = $7, items_updated = $8, items_failed = $9,
			sport_breakdown = $10::jsonb, error = NULLIF($11, '')
		WHERE id = $1`,
		run.ID, run.Source, run.Status, run.FinishedAt, run.DurationMS,
		run.ItemsProcessed, run.ItemsCreated, run.ItemsUpdated, run.ItemsFailed,
		breakdown, run.Error)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	return nil
}

func (s *Postgres) InsertAlert(ctx context.Context, alert models.ScraperAlert) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO scraper_alerts (severity, message, run_id, acknowledged, created_at)
		VALUES ($1, $2, $3, false, $4)`,
		alert.Severity, alert.Message, alert.RunID, createdAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func orEmptyIDs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyBreakdown(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
