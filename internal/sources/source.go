package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/matchday-live/scraper/internal/browser"
	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/ratelimit"
)

// Kind classifies what a source produces.
type Kind string

const (
	KindOdds       Kind = "odds"
	KindFixtures   Kind = "fixtures"
	KindLiveScores Kind = "live_scores"
)

const (
	// maxFallbackURLs bounds how many alternate listing pages one scrape
	// attempt may walk.
	maxFallbackURLs = 3
	// targetEventRows is the row count at which a scrape stops walking
	// fallback URLs.
	targetEventRows = 20
)

// Status is the outcome class of one scrape attempt. Blocked and no-data
// are ordinary outcomes rather than errors; the registry penalizes them
// differently.
type Status int

const (
	StatusOK Status = iota
	StatusNoData
	StatusBlocked
	StatusError
)

// Result is what a scrape attempt produced. Exactly one payload slice is
// populated, matching the source's Kind.
type Result struct {
	Status   Status
	Odds     []ScrapedOdds
	Fixtures []ScrapedFixture
	Scores   []ScrapedScore
	Marker   string
	Err      error
}

func OkOdds(rows []ScrapedOdds) Result { return Result{Status: StatusOK, Odds: rows} }

func OkFixtures(rows []ScrapedFixture) Result { return Result{Status: StatusOK, Fixtures: rows} }

func OkScores(rows []ScrapedScore) Result { return Result{Status: StatusOK, Scores: rows} }

func NoData(marker string) Result { return Result{Status: StatusNoData, Marker: marker} }

func Blocked(marker string) Result { return Result{Status: StatusBlocked, Marker: marker} }

func Errored(err error) Result { return Result{Status: StatusError, Err: err} }

// Count returns the number of rows in whichever payload is populated.
func (r Result) Count() int {
	return len(r.Odds) + len(r.Fixtures) + len(r.Scores)
}

// ScrapedOdds is one priced match row as it came off a source, before
// entity resolution. Two-way sports leave Draw nil.
type ScrapedOdds struct {
	HomeTeam       string
	AwayTeam       string
	HomeWin        *float64
	Draw           *float64
	AwayWin        *float64
	BookmakerCount *int
	StartTime      *time.Time
	ScrapedAt      time.Time
}

// ScrapedFixture is one upcoming event from a fixtures source.
type ScrapedFixture struct {
	ExternalID  string
	Sport       string
	Competition string
	HomeTeam    string
	AwayTeam    string
	StartTime   time.Time
}

// ScrapedScore is one in-play or just-finished event from a live source.
type ScrapedScore struct {
	ExternalID string
	HomeTeam   string
	AwayTeam   string
	HomeScore  int
	AwayScore  int
	Minute     *int
	Period     string
	Finished   bool
}

// ScrapeFunc runs one scrape attempt for one sport.
type ScrapeFunc func(ctx context.Context, env *Env, src *Source, sport string) Result

// Source describes one scrapable site and how to scrape it.
type Source struct {
	Name            string
	Domain          string
	Kind            Kind
	Enabled         bool
	Priority        int // lower is preferred
	CooldownMinutes int
	JSHeavy         bool
	RowSelector     string
	SportURLs       map[string][]string
	Scrape          ScrapeFunc
}

// Env bundles the shared clients scrape functions work with.
type Env struct {
	Pool       *browser.Pool
	Limiter    *ratelimit.Limiter
	HTTP       *http.Client
	Logger     *slog.Logger
	OddsAPIKey string

	navTimeout time.Duration
	jsTimeout  time.Duration

	// fetchPage is the browser-backed page loader; tests swap it out.
	fetchPage func(ctx context.Context, src *Source, pageURL string) (string, error)
}

// NewEnv wires the scrape environment. The browser pool loads pages for
// browser-backed sources; the HTTP client serves feed-style sources.
func NewEnv(cfg config.BrowserConfig, pool *browser.Pool, limiter *ratelimit.Limiter, client *http.Client, logger *slog.Logger, oddsAPIKey string) *Env {
	e := &Env{
		Pool:       pool,
		Limiter:    limiter,
		HTTP:       client,
		Logger:     logger.With("component", "sources"),
		OddsAPIKey: oddsAPIKey,
		navTimeout: cfg.NavigationTimeout,
		jsTimeout:  cfg.JSHeavyTimeout,
	}
	e.fetchPage = e.browserHTML
	return e
}

// browserHTML loads one page on a pooled stealth context and returns its
// HTML after consent handling and lazy hydration.
func (e *Env) browserHTML(ctx context.Context, src *Source, pageURL string) (string, error) {
	if err := e.Limiter.Wait(ctx, ratelimit.Key(src.Domain)); err != nil {
		return "", err
	}

	timeout := e.navTimeout
	if src.JSHeavy {
		timeout = e.jsTimeout
	}

	var html string
	err := e.Pool.Execute(ctx, browser.ExecuteOptions{Humanize: true, Timeout: timeout}, func(page *rod.Page) error {
		if err := page.Navigate(pageURL); err != nil {
			return fmt.Errorf("navigate %s: %w", pageURL, err)
		}
		if err := page.WaitStable(300 * time.Millisecond); err != nil {
			return fmt.Errorf("wait stable: %w", err)
		}
		dismissConsent(page)
		_ = browser.ScrollForHydration(page, 3)
		if src.RowSelector != "" {
			waitForRows(page, src.RowSelector, 10*time.Second)
		}
		h, err := page.HTML()
		if err != nil {
			return fmt.Errorf("read html: %w", err)
		}
		html = h
		return nil
	})
	return html, err
}

// waitForRows blocks until the row selector shows up or the wait elapses.
// Absence is the parser's problem, not a fetch failure.
func waitForRows(page *rod.Page, selector string, wait time.Duration) {
	_, _ = page.Timeout(wait).Element(selector)
}

// collectOdds walks a source's fallback URLs for one sport, parsing each
// page until enough rows are gathered. Zero-row pages are classified
// against the marker catalogs; a blocked page stops the walk immediately.
func collectOdds(ctx context.Context, env *Env, src *Source, sport string, parse func(html string, at time.Time) []ScrapedOdds) Result {
	urls := src.SportURLs[sport]
	if len(urls) == 0 {
		return NoData("no urls configured for " + sport)
	}
	if len(urls) > maxFallbackURLs {
		urls = urls[:maxFallbackURLs]
	}

	seen := make(map[string]bool)
	var rows []ScrapedOdds
	var lastErr error
	noDataMarker := ""

	for _, pageURL := range urls {
		html, err := env.fetchPage(ctx, src, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return Errored(ctx.Err())
			}
			lastErr = err
			env.Logger.Warn("page fetch failed", "source", src.Name, "url", pageURL, "error", err)
			continue
		}

		parsed := parse(html, time.Now())
		if len(parsed) == 0 {
			class, marker := Classify(html)
			switch class {
			case ClassBlocked:
				env.Limiter.RecordFailure(ratelimit.Key(src.Domain))
				return Blocked(marker)
			case ClassNoData:
				noDataMarker = marker
			}
			continue
		}

		env.Limiter.RecordSuccess(ratelimit.Key(src.Domain))
		for _, row := range parsed {
			key := pairKey(row.HomeTeam, row.AwayTeam)
			if seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, row)
		}
		if len(rows) >= targetEventRows {
			break
		}
	}

	if len(rows) == 0 {
		if noDataMarker != "" {
			return NoData(noDataMarker)
		}
		if lastErr != nil {
			return Errored(lastErr)
		}
		return Errored(fmt.Errorf("%s/%s: no rows parsed from %d urls", src.Name, sport, len(urls)))
	}
	return OkOdds(rows)
}

// pairKey builds the case-folded dedup/merge key for a team pair.
func pairKey(home, away string) string {
	return strings.ToLower(strings.TrimSpace(home)) + "|" + strings.ToLower(strings.TrimSpace(away))
}

// parseOddsValue reads a decimal or fractional price. Fractional odds
// convert to decimal (5/2 is 3.5); "evens" is 2.0.
func parseOddsValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false
	}
	switch strings.ToLower(s) {
	case "evens", "evs":
		return 2.0, true
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return 1 + n/d, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 1 {
		return 0, false
	}
	return v, true
}
