package sources

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matchday-live/scraper/internal/observability"
)

// blockedCooldownFloor is the minimum rest a source gets after the site
// pushed back. Cheaper to wait than to burn proxies on a hot site.
const blockedCooldownFloor = 90 * time.Minute

// Registry owns the source catalog, per-source/per-sport cooldowns, and
// outcome recording. Scrape functions themselves are re-entrant; the
// registry only locks around its own counters.
type Registry struct {
	mu        sync.Mutex
	sources   []*Source
	cooldowns map[string]time.Time

	env     *Env
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// DefaultSources builds the production source catalog. The odds API
// fallback stays disabled without a key.
func DefaultSources(oddsAPIKey string) []*Source {
	return []*Source{
		oddsportalSource(),
		oddscheckerSource(),
		flashscoreFixturesSource(),
		flashscoreLiveSource(),
		oddsAPISource(oddsAPIKey),
	}
}

// NewRegistry wires the default catalog against the given environment.
func NewRegistry(env *Env, metrics *observability.Metrics, logger *slog.Logger) *Registry {
	return newRegistry(env, metrics, logger, DefaultSources(env.OddsAPIKey))
}

func newRegistry(env *Env, metrics *observability.Metrics, logger *slog.Logger, srcs []*Source) *Registry {
	r := &Registry{
		sources:   srcs,
		cooldowns: make(map[string]time.Time),
		env:       env,
		metrics:   metrics,
		logger:    logger.With("component", "sources"),
		now:       time.Now,
	}
	sort.SliceStable(r.sources, func(i, j int) bool {
		return r.sources[i].Priority < r.sources[j].Priority
	})
	return r
}

// Sources returns the enabled sources of one kind in priority order.
func (r *Registry) Sources(kind Kind) []*Source {
	var out []*Source
	for _, src := range r.sources {
		if src.Enabled && src.Kind == kind {
			out = append(out, src)
		}
	}
	return out
}

func cooldownKey(source, sport string) string {
	return source + "/" + sport
}

// Ready reports whether the source may be scraped for the sport right now.
func (r *Registry) Ready(src *Source, sport string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().After(r.cooldowns[cooldownKey(src.Name, sport)])
}

// CooldownUntil returns when the source next becomes available for the
// sport; the zero time means no cooldown is active.
func (r *Registry) CooldownUntil(source, sport string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldowns[cooldownKey(source, sport)]
}

// Scrape runs one source for one sport and records the outcome. Blocked
// sources rest for at least 90 minutes, plain failures for the source's
// configured window, and no-data costs nothing.
func (r *Registry) Scrape(ctx context.Context, src *Source, sport string) Result {
	start := r.now()
	res := src.Scrape(ctx, r.env, src, sport)
	elapsed := r.now().Sub(start)

	switch res.Status {
	case StatusOK:
		r.metrics.RecordSource(src.Name, observability.OutcomeSuccess)
		r.logger.Info("source scraped",
			"source", src.Name, "sport", sport, "rows", res.Count(), "elapsed", elapsed)
	case StatusNoData:
		r.metrics.RecordSource(src.Name, observability.OutcomeNoData)
		r.logger.Info("source has no data",
			"source", src.Name, "sport", sport, "marker", res.Marker)
	case StatusBlocked:
		until := r.coolDown(src, sport, true)
		r.metrics.RecordSource(src.Name, observability.OutcomeBlocked)
		r.logger.Warn("source blocked",
			"source", src.Name, "sport", sport, "marker", res.Marker, "cooldown_until", until)
	case StatusError:
		until := r.coolDown(src, sport, false)
		r.metrics.RecordSource(src.Name, observability.OutcomeFailure)
		r.logger.Warn("source failed",
			"source", src.Name, "sport", sport, "error", res.Err, "cooldown_until", until)
	}
	return res
}

func (r *Registry) coolDown(src *Source, sport string, blocked bool) time.Time {
	d := time.Duration(src.CooldownMinutes) * time.Minute
	if blocked && d < blockedCooldownFloor {
		d = blockedCooldownFloor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(d)
	r.cooldowns[cooldownKey(src.Name, sport)] = until
	return until
}

// SourceStatus is the per-source view for the control surface.
type SourceStatus struct {
	Name      string               `json:"name"`
	Kind      string               `json:"kind"`
	Priority  int                  `json:"priority"`
	Enabled   bool                 `json:"enabled"`
	Cooldowns map[string]time.Time `json:"cooldowns,omitempty"`
}

// Stats snapshots the catalog with any active cooldowns.
func (r *Registry) Stats() []SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]SourceStatus, 0, len(r.sources))
	for _, src := range r.sources {
		st := SourceStatus{
			Name:     src.Name,
			Kind:     string(src.Kind),
			Priority: src.Priority,
			Enabled:  src.Enabled,
		}
		for key, until := range r.cooldowns {
			name, sport, _ := strings.Cut(key, "/")
			if name != src.Name || !until.After(now) {
				continue
			}
			if st.Cooldowns == nil {
				st.Cooldowns = make(map[string]time.Time)
			}
			st.Cooldowns[sport] = until
		}
		out = append(out, st)
	}
	return out
}
