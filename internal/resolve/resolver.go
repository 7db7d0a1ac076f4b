// Package resolve maps scraped team-name pairs onto stored events. Exact
// alias rows win outright; otherwise names are normalized and scored with
// Levenshtein similarity against the candidate window.
package resolve

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/matchday-live/scraper/internal/models"
)

// acceptThreshold is the minimum pair score for a similarity match. The pair
// score is the weaker of the two sides, so both names must clear it.
const acceptThreshold = 0.75

// AliasStore is the slice of the persistence layer the resolver needs.
type AliasStore interface {
	// LookupAlias returns the team id an alias row maps to for one source.
	LookupAlias(ctx context.Context, source, alias string) (int64, bool, error)
	// InsertAlias records a new alias; duplicate rows are a no-op.
	InsertAlias(ctx context.Context, alias models.TeamAlias) error
}

// Query is one scraped pair to resolve. StartTime, when the source printed
// one, breaks ties between candidates with equal scores.
type Query struct {
	Source    string
	HomeTeam  string
	AwayTeam  string
	StartTime *time.Time
}

// Match is an accepted resolution. ViaAlias means both sides resolved
// through alias rows and no similarity was computed.
type Match struct {
	Event     models.Event
	HomeScore float64
	AwayScore float64
	ViaAlias  bool
}

type Resolver struct {
	store  AliasStore
	logger *slog.Logger
}

func New(store AliasStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.With("component", "resolver")}
}

// Resolve matches one scraped pair against the candidate events. On a miss
// the caller decides what to log; Normalize is exported so it can include
// the normalized forms.
func (r *Resolver) Resolve(ctx context.Context, q Query, candidates []models.Event) (Match, bool) {
	if len(candidates) == 0 {
		return Match{}, false
	}

	homeID, homeByAlias := r.lookupAlias(ctx, q.Source, q.HomeTeam)
	awayID, awayByAlias := r.lookupAlias(ctx, q.Source, q.AwayTeam)
	if homeByAlias && awayByAlias {
		for _, ev := range candidates {
			if ev.HomeTeamID == homeID && ev.AwayTeamID == awayID {
				return Match{Event: ev, HomeScore: 1, AwayScore: 1, ViaAlias: true}, true
			}
		}
	}

	normHome := Normalize(q.HomeTeam)
	normAway := Normalize(q.AwayTeam)

	var (
		best  Match
		found bool
	)
	for _, ev := range candidates {
		hs := Similarity(normHome, Normalize(ev.HomeTeam))
		as := Similarity(normAway, Normalize(ev.AwayTeam))
		if hs < acceptThreshold || as < acceptThreshold {
			continue
		}
		cand := Match{Event: ev, HomeScore: hs, AwayScore: as}
		if !found || better(cand, best, q.StartTime) {
			best, found = cand, true
		}
	}
	if !found {
		return Match{}, false
	}

	if !homeByAlias {
		r.writeBackAlias(ctx, q.Source, q.HomeTeam, best.Event.HomeTeamID, best.Event.HomeTeam)
	}
	if !awayByAlias {
		r.writeBackAlias(ctx, q.Source, q.AwayTeam, best.Event.AwayTeamID, best.Event.AwayTeam)
	}
	return best, true
}

// better orders two accepted candidates: higher pair score wins, then the
// start time closest to the scraped kickoff, then the earlier event.
func better(a, b Match, hint *time.Time) bool {
	as, bs := pairScore(a), pairScore(b)
	if as != bs {
		return as > bs
	}
	if hint != nil {
		da := absDuration(a.Event.StartTime.Sub(*hint))
		db := absDuration(b.Event.StartTime.Sub(*hint))
		if da != db {
			return da < db
		}
	}
	return a.Event.StartTime.Before(b.Event.StartTime)
}

func pairScore(m Match) float64 {
	if m.HomeScore < m.AwayScore {
		return m.HomeScore
	}
	return m.AwayScore
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Similarity scores two normalized names in [0, 1] as 1 - lev/max(len).
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func (r *Resolver) lookupAlias(ctx context.Context, source, raw string) (int64, bool) {
	alias := AliasText(raw)
	if source == "" || alias == "" {
		return 0, false
	}
	id, ok, err := r.store.LookupAlias(ctx, source, alias)
	if err != nil {
		r.logger.Warn("alias lookup failed", "source", source, "alias", alias, "error", err)
		return 0, false
	}
	return id, ok
}

// writeBackAlias records the raw spelling so the next lookup hits the alias
// fast path. Spellings that only differ from the canonical name by case or
// spacing teach us nothing and are skipped.
func (r *Resolver) writeBackAlias(ctx context.Context, source, raw string, teamID int64, canonical string) {
	alias := AliasText(raw)
	if source == "" || alias == "" || teamID == 0 {
		return
	}
	if alias == AliasText(canonical) {
		return
	}
	row := models.TeamAlias{TeamID: teamID, Alias: alias, SourceName: source}
	if err := r.store.InsertAlias(ctx, row); err != nil {
		r.logger.Warn("alias write-back failed",
			"source", source, "alias", alias, "team_id", teamID, "error", err)
		return
	}
	r.logger.Info("alias learned", "source", source, "alias", alias, "team_id", teamID)
}
