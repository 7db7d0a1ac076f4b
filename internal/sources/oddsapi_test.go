package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const oddsAPIPayload = `[
  {
    "id": "evt1",
    "sport_key": "soccer_epl",
    "commence_time": "2026-08-26T15:00:00Z",
    "home_team": "Arsenal",
    "away_team": "Liverpool",
    "bookmakers": [
      {
        "key": "bet365",
        "markets": [
          {
            "key": "h2h",
            "outcomes": [
              {"name": "Arsenal", "price": 2.1},
              {"name": "Draw", "price": 3.4},
              {"name": "Liverpool", "price": 3.6}
            ]
          }
        ]
      },
      {"key": "williamhill", "markets": []}
    ]
  },
  {
    "id": "evt2",
    "home_team": "Chelsea",
    "away_team": "Everton",
    "bookmakers": []
  }
]`

func oddsAPITestEnv(t *testing.T, handler http.HandlerFunc) *Env {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	oldBase := oddsAPIBase
	oddsAPIBase = ts.URL
	t.Cleanup(func() { oddsAPIBase = oldBase })

	env := testEnv(nil)
	env.HTTP = NewHTTPClient(10 * time.Second)
	env.OddsAPIKey = "k-test"
	return env
}

func TestScrapeOddsAPI(t *testing.T) {
	env := oddsAPITestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "soccer_epl") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("apiKey") != "k-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(oddsAPIPayload))
	})

	res := scrapeOddsAPI(context.Background(), env, oddsAPISource("k-test"), "football")
	if res.Status != StatusOK {
		t.Fatalf("status = %d (err=%v)", res.Status, res.Err)
	}
	if len(res.Odds) != 1 {
		t.Fatalf("rows = %d, want 1 (unpriced event dropped)", len(res.Odds))
	}

	row := res.Odds[0]
	if row.HomeTeam != "Arsenal" || row.AwayTeam != "Liverpool" {
		t.Fatalf("teams = %s v %s", row.HomeTeam, row.AwayTeam)
	}
	if !priceIs(row.HomeWin, 2.1) || !priceIs(row.Draw, 3.4) || !priceIs(row.AwayWin, 3.6) {
		t.Errorf("prices = %v/%v/%v", row.HomeWin, row.Draw, row.AwayWin)
	}
	if row.BookmakerCount == nil || *row.BookmakerCount != 2 {
		t.Errorf("bookmaker count = %v, want 2", row.BookmakerCount)
	}
	if row.StartTime == nil || !row.StartTime.Equal(time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("start time = %v", row.StartTime)
	}
}

func TestScrapeOddsAPIQuotaExhausted(t *testing.T) {
	env := oddsAPITestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := scrapeOddsAPI(context.Background(), env, oddsAPISource("k-test"), "football")
	if res.Status != StatusBlocked {
		t.Fatalf("status = %d, want blocked on quota exhaustion", res.Status)
	}
}

func TestScrapeOddsAPIBadKey(t *testing.T) {
	env := oddsAPITestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	res := scrapeOddsAPI(context.Background(), env, oddsAPISource("k-test"), "football")
	if res.Status != StatusError {
		t.Fatalf("status = %d, want error on rejected key", res.Status)
	}
}

func TestOddsAPISourceDisabledWithoutKey(t *testing.T) {
	if src := oddsAPISource(""); src.Enabled {
		t.Error("source should be disabled without an api key")
	}
	if src := oddsAPISource("k"); !src.Enabled {
		t.Error("source should be enabled with an api key")
	}
}
