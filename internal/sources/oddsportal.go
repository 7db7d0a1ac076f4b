package sources

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func oddsportalSource() *Source {
	return &Source{
		Name:            "oddsportal",
		Domain:          "oddsportal.com",
		Kind:            KindOdds,
		Enabled:         true,
		Priority:        1,
		CooldownMinutes: 30,
		JSHeavy:         true,
		RowSelector:     `div[data-testid="game-row"]`,
		SportURLs: map[string][]string{
			"football": {
				"https://www.oddsportal.com/matches/football/",
				"https://www.oddsportal.com/football/england/premier-league/",
				"https://www.oddsportal.com/football/spain/laliga/",
			},
			"basketball": {
				"https://www.oddsportal.com/matches/basketball/",
				"https://www.oddsportal.com/basketball/usa/nba/",
			},
			"tennis": {
				"https://www.oddsportal.com/matches/tennis/",
			},
		},
		Scrape: scrapeOddsportal,
	}
}

func scrapeOddsportal(ctx context.Context, env *Env, src *Source, sport string) Result {
	return collectOdds(ctx, env, src, sport, parseOddsportal)
}

// parseOddsportal extracts priced match rows from a hydrated listing page.
// Start times come from the page's JSON-LD SportsEvent blocks when present.
func parseOddsportal(html string, at time.Time) []ScrapedOdds {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	starts := jsonLDStartTimes(doc)

	var rows []ScrapedOdds
	doc.Find(`div[data-testid="game-row"], div.eventRow`).Each(func(_ int, sel *goquery.Selection) {
		names := sel.Find(`p[data-testid="participant-name"], .participant-name`)
		if names.Length() < 2 {
			return
		}
		home := strings.TrimSpace(names.Eq(0).Text())
		away := strings.TrimSpace(names.Eq(1).Text())
		if home == "" || away == "" {
			return
		}

		var odds []float64
		sel.Find(`p[data-testid="odd-container-default"], .odds-value`).Each(func(_ int, o *goquery.Selection) {
			if len(odds) >= 3 {
				return
			}
			if v, ok := parseOddsValue(o.Text()); ok {
				odds = append(odds, v)
			}
		})

		row := ScrapedOdds{HomeTeam: home, AwayTeam: away, ScrapedAt: at}
		switch len(odds) {
		case 3:
			row.HomeWin, row.Draw, row.AwayWin = &odds[0], &odds[1], &odds[2]
		case 2:
			// two-way market for sports without a draw
			row.HomeWin, row.AwayWin = &odds[0], &odds[1]
		default:
			return
		}
		if t, ok := starts[pairKey(home, away)]; ok {
			row.StartTime = &t
		}
		rows = append(rows, row)
	})
	return rows
}

type jsonLDEvent struct {
	Type      string `json:"@type"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	HomeTeam  struct {
		Name string `json:"name"`
	} `json:"homeTeam"`
	AwayTeam struct {
		Name string `json:"name"`
	} `json:"awayTeam"`
}

// jsonLDStartTimes pulls start times for team pairs out of ld+json script
// blocks. Both single objects and arrays appear in the wild.
func jsonLDStartTimes(doc *goquery.Document) map[string]time.Time {
	times := make(map[string]time.Time)
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		var one jsonLDEvent
		if err := json.Unmarshal([]byte(raw), &one); err == nil {
			addJSONLDEvent(times, one)
			return
		}
		var many []jsonLDEvent
		if err := json.Unmarshal([]byte(raw), &many); err == nil {
			for _, ev := range many {
				addJSONLDEvent(times, ev)
			}
		}
	})
	return times
}

func addJSONLDEvent(times map[string]time.Time, ev jsonLDEvent) {
	if ev.Type != "SportsEvent" {
		return
	}
	home, away := ev.HomeTeam.Name, ev.AwayTeam.Name
	if home == "" || away == "" {
		// some pages carry only "Home - Away" in the event name
		parts := strings.SplitN(ev.Name, " - ", 2)
		if len(parts) != 2 {
			return
		}
		home, away = parts[0], parts[1]
	}
	t, err := time.Parse(time.RFC3339, ev.StartDate)
	if err != nil {
		return
	}
	times[pairKey(home, away)] = t
}
