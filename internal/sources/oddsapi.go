package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// oddsAPIBase is a var so tests can point the client at a local server.
var oddsAPIBase = "https://api.the-odds-api.com/v4/sports"

// oddsAPISportKeys maps our sport names onto the API's per-competition
// keys. The free tier only covers the headline competitions, which is fine
// for a fallback source.
var oddsAPISportKeys = map[string]string{
	"football":   "soccer_epl",
	"basketball": "basketball_nba",
	"tennis":     "tennis_atp",
}

func oddsAPISource(apiKey string) *Source {
	return &Source{
		Name:            "oddsapi",
		Domain:          "the-odds-api.com",
		Kind:            KindOdds,
		Enabled:         apiKey != "",
		Priority:        9,
		CooldownMinutes: 60,
		Scrape:          scrapeOddsAPI,
	}
}

type oddsAPIEvent struct {
	ID           string    `json:"id"`
	CommenceTime time.Time `json:"commence_time"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	Bookmakers   []struct {
		Key     string `json:"key"`
		Markets []struct {
			Key      string `json:"key"`
			Outcomes []struct {
				Name  string  `json:"name"`
				Price float64 `json:"price"`
			} `json:"outcomes"`
		} `json:"markets"`
	} `json:"bookmakers"`
}

func scrapeOddsAPI(ctx context.Context, env *Env, src *Source, sport string) Result {
	sportKey, ok := oddsAPISportKeys[sport]
	if !ok {
		return NoData("unsupported sport " + sport)
	}
	if env.OddsAPIKey == "" {
		return NoData("no api key configured")
	}

	endpoint := fmt.Sprintf("%s/%s/odds/?apiKey=%s&regions=uk&markets=h2h&oddsFormat=decimal",
		oddsAPIBase, sportKey, url.QueryEscape(env.OddsAPIKey))
	body, status, err := fetchText(ctx, env, src.Domain, endpoint, nil)
	if err != nil {
		return Errored(err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Errored(errors.New("odds api rejected the key"))
	case http.StatusTooManyRequests:
		return Blocked("odds api quota exhausted")
	default:
		return Errored(fmt.Errorf("odds api returned http %d", status))
	}

	var events []oddsAPIEvent
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		return Errored(fmt.Errorf("decode odds api payload: %w", err))
	}

	at := time.Now()
	var rows []ScrapedOdds
	for _, ev := range events {
		if row, ok := oddsAPIRow(ev, at); ok {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return NoData("odds api returned no priced events")
	}
	return OkOdds(rows)
}

// oddsAPIRow flattens one API event to a scraped row using the first
// bookmaker's h2h prices. The bookmaker count rides along for market
// confidence.
func oddsAPIRow(ev oddsAPIEvent, at time.Time) (ScrapedOdds, bool) {
	row := ScrapedOdds{HomeTeam: ev.HomeTeam, AwayTeam: ev.AwayTeam, ScrapedAt: at}
	if ev.HomeTeam == "" || ev.AwayTeam == "" || len(ev.Bookmakers) == 0 {
		return row, false
	}
	if !ev.CommenceTime.IsZero() {
		t := ev.CommenceTime
		row.StartTime = &t
	}
	n := len(ev.Bookmakers)
	row.BookmakerCount = &n

	for _, m := range ev.Bookmakers[0].Markets {
		if m.Key != "h2h" {
			continue
		}
		for _, o := range m.Outcomes {
			price := o.Price
			switch {
			case strings.EqualFold(o.Name, ev.HomeTeam):
				row.HomeWin = &price
			case strings.EqualFold(o.Name, ev.AwayTeam):
				row.AwayWin = &price
			case strings.EqualFold(o.Name, "Draw"):
				row.Draw = &price
			}
		}
	}
	if row.HomeWin == nil || row.AwayWin == nil {
		return row, false
	}
	return row, true
}
