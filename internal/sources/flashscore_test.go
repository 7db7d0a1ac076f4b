package sources

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
)

const flashscoreFeed = "SA÷1¬~" +
	"ZA÷ENGLAND: Premier League¬ZEE÷lAkHuyP3¬~" +
	"AA÷jBXtEem1¬AD÷1787050800¬AB÷1¬AC÷1¬AE÷Arsenal¬AF÷Liverpool¬~" +
	"AA÷pQ9rT2x7¬AD÷1787043600¬AB÷2¬AC÷13¬AE÷Chelsea¬AF÷Everton¬AG÷2¬AH÷1¬AS÷67¬~" +
	"ZA÷SPAIN: LaLiga¬ZEE÷QVcFCIgp¬~" +
	"AA÷zX4kW8m2¬AD÷1787036400¬AB÷3¬AC÷45¬AE÷Real Madrid¬AF÷Barcelona¬AG÷1¬AH÷1¬"

func TestParseFlashscoreFeed(t *testing.T) {
	events := parseFlashscoreFeed(flashscoreFeed)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	scheduled := events[0]
	if scheduled.id != "jBXtEem1" {
		t.Errorf("id = %q", scheduled.id)
	}
	if scheduled.league != "ENGLAND: Premier League" {
		t.Errorf("league = %q", scheduled.league)
	}
	if scheduled.home != "Arsenal" || scheduled.away != "Liverpool" {
		t.Errorf("teams = %s v %s", scheduled.home, scheduled.away)
	}
	if scheduled.stage != feedStageScheduled {
		t.Errorf("stage = %q, want scheduled", scheduled.stage)
	}
	if want := time.Unix(1787050800, 0).UTC(); !scheduled.start.Equal(want) {
		t.Errorf("start = %v, want %v", scheduled.start, want)
	}

	live := events[1]
	if live.stage != feedStageLive {
		t.Errorf("stage = %q, want live", live.stage)
	}
	if live.homeScore != 2 || live.awayScore != 1 {
		t.Errorf("score = %d-%d, want 2-1", live.homeScore, live.awayScore)
	}
	if live.minute == nil || *live.minute != 67 {
		t.Errorf("minute = %v, want 67", live.minute)
	}
	if live.periodLabel() != "second_half" {
		t.Errorf("period = %q, want second_half", live.periodLabel())
	}

	finished := events[2]
	if finished.stage != feedStageFinished {
		t.Errorf("stage = %q, want finished", finished.stage)
	}
	if finished.league != "SPAIN: LaLiga" {
		t.Errorf("league = %q (header should advance)", finished.league)
	}
	if finished.periodLabel() != "penalties" {
		t.Errorf("period = %q, want penalties", finished.periodLabel())
	}
}

func TestFetchTextDecodesEncodings(t *testing.T) {
	const payload = "AA÷abc¬AB÷1¬AE÷Home¬AF÷Away¬"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = bw.Write([]byte(payload))
			_ = bw.Close()
		case "/gz":
			w.Header().Set("Content-Encoding", "gzip")
			gw := gzip.NewWriter(w)
			_, _ = gw.Write([]byte(payload))
			_ = gw.Close()
		default:
			_, _ = w.Write([]byte(payload))
		}
	}))
	defer ts.Close()

	env := testEnv(nil)
	env.HTTP = NewHTTPClient(10 * time.Second)

	for _, path := range []string{"/br", "/gz", "/plain"} {
		body, status, err := fetchText(context.Background(), env, "example.com", ts.URL+path, nil)
		if err != nil {
			t.Fatalf("fetchText %s: %v", path, err)
		}
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if body != payload {
			t.Errorf("%s body = %q, want %q", path, body, payload)
		}
	}
}

func TestScrapeFlashscoreLive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-fsign") != flashscoreSign {
			t.Errorf("missing feed signature header")
		}
		if !strings.HasPrefix(r.URL.Path, "/l_1_") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(flashscoreFeed))
	}))
	defer ts.Close()

	oldBase := flashscoreBase
	flashscoreBase = ts.URL
	defer func() { flashscoreBase = oldBase }()

	env := testEnv(nil)
	env.HTTP = NewHTTPClient(10 * time.Second)
	src := flashscoreLiveSource()

	res := scrapeFlashscoreLive(context.Background(), env, src, "football")
	if res.Status != StatusOK {
		t.Fatalf("status = %d (err=%v)", res.Status, res.Err)
	}
	if len(res.Scores) != 2 {
		t.Fatalf("scores = %d, want 2 (scheduled row excluded)", len(res.Scores))
	}

	if res.Scores[0].Finished {
		t.Error("live event marked finished")
	}
	if !res.Scores[1].Finished {
		t.Error("finished event not marked finished")
	}
	if res.Scores[1].ExternalID != "zX4kW8m2" {
		t.Errorf("external id = %q", res.Scores[1].ExternalID)
	}
}

func TestScrapeFlashscoreLiveBlocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	oldBase := flashscoreBase
	flashscoreBase = ts.URL
	defer func() { flashscoreBase = oldBase }()

	env := testEnv(nil)
	env.HTTP = NewHTTPClient(10 * time.Second)

	res := scrapeFlashscoreLive(context.Background(), env, flashscoreLiveSource(), "football")
	if res.Status != StatusBlocked {
		t.Fatalf("status = %d, want blocked", res.Status)
	}
}

func TestScrapeFlashscoreLiveUnsupportedSport(t *testing.T) {
	env := testEnv(nil)
	res := scrapeFlashscoreLive(context.Background(), env, flashscoreLiveSource(), "curling")
	if res.Status != StatusNoData {
		t.Fatalf("status = %d, want no-data", res.Status)
	}
}
