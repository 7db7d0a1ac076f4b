package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/ratelimit"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testEnv(fetch func(ctx context.Context, src *Source, pageURL string) (string, error)) *Env {
	limiter := ratelimit.New(config.RateLimitConfig{
		MinSpacing:   time.Millisecond,
		CooldownBase: time.Minute,
		CooldownMax:  30 * time.Minute,
	}, testLogger)
	return &Env{
		Limiter:   limiter,
		Logger:    testLogger,
		fetchPage: fetch,
	}
}

// rowsHTML fabricates a page that parses into n distinct priced rows.
func rowsHTML(n, offset int) string {
	var b []byte
	for i := 0; i < n; i++ {
		b = fmt.Appendf(b, `<div class="eventRow">`+
			`<p class="participant-name">Home %[1]d</p>`+
			`<p class="participant-name">Away %[1]d</p>`+
			`<p class="odds-value">2.10</p><p class="odds-value">3.40</p><p class="odds-value">3.60</p>`+
			`</div>`, offset+i)
	}
	return "<html><body>" + string(b) + "</body></html>"
}

func oddsTestSource(urls ...string) *Source {
	return &Source{
		Name:            "testsource",
		Domain:          "example.com",
		Kind:            KindOdds,
		Enabled:         true,
		Priority:        1,
		CooldownMinutes: 30,
		SportURLs:       map[string][]string{"football": urls},
		Scrape: func(ctx context.Context, env *Env, src *Source, sport string) Result {
			return collectOdds(ctx, env, src, sport, parseOddsportal)
		},
	}
}

func TestCollectOddsStopsAtTarget(t *testing.T) {
	var fetched []string
	env := testEnv(func(_ context.Context, _ *Source, pageURL string) (string, error) {
		fetched = append(fetched, pageURL)
		switch pageURL {
		case "u1":
			return rowsHTML(5, 0), nil
		case "u2":
			return rowsHTML(20, 100), nil
		}
		return rowsHTML(20, 200), nil
	})
	src := oddsTestSource("u1", "u2", "u3")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusOK {
		t.Fatalf("status = %d, want ok (err=%v)", res.Status, res.Err)
	}
	if len(res.Odds) < targetEventRows {
		t.Errorf("rows = %d, want >= %d", len(res.Odds), targetEventRows)
	}
	if len(fetched) != 2 {
		t.Errorf("fetched %d urls, want 2 (target reached on the second)", len(fetched))
	}
}

func TestCollectOddsDeduplicatesPairs(t *testing.T) {
	env := testEnv(func(_ context.Context, _ *Source, _ string) (string, error) {
		return rowsHTML(3, 0), nil
	})
	src := oddsTestSource("u1", "u2")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusOK {
		t.Fatalf("status = %d, want ok", res.Status)
	}
	if len(res.Odds) != 3 {
		t.Errorf("rows = %d, want 3 after dedup across urls", len(res.Odds))
	}
}

func TestCollectOddsBlockedStopsWalk(t *testing.T) {
	var fetched int
	env := testEnv(func(_ context.Context, _ *Source, _ string) (string, error) {
		fetched++
		return "<html><body>Access denied: unusual traffic from your network</body></html>", nil
	})
	src := oddsTestSource("u1", "u2", "u3")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusBlocked {
		t.Fatalf("status = %d, want blocked", res.Status)
	}
	if res.Marker == "" {
		t.Error("blocked result should carry the marker that fired")
	}
	if fetched != 1 {
		t.Errorf("fetched %d urls, want 1 (blocked page stops the walk)", fetched)
	}
}

func TestCollectOddsNoData(t *testing.T) {
	env := testEnv(func(_ context.Context, _ *Source, _ string) (string, error) {
		return "<html><body>No upcoming matches scheduled.</body></html>", nil
	})
	src := oddsTestSource("u1", "u2")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusNoData {
		t.Fatalf("status = %d, want no-data", res.Status)
	}
	if res.Marker != "no upcoming matches" {
		t.Errorf("marker = %q", res.Marker)
	}
}

func TestCollectOddsAllFetchesFail(t *testing.T) {
	env := testEnv(func(_ context.Context, _ *Source, _ string) (string, error) {
		return "", errors.New("navigation timeout")
	})
	src := oddsTestSource("u1", "u2")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusError {
		t.Fatalf("status = %d, want error", res.Status)
	}
	if res.Err == nil {
		t.Error("error result should carry the last fetch error")
	}
}

func TestCollectOddsHonorsURLCap(t *testing.T) {
	var fetched int
	env := testEnv(func(_ context.Context, _ *Source, _ string) (string, error) {
		fetched++
		return rowsHTML(1, fetched*10), nil
	})
	src := oddsTestSource("u1", "u2", "u3", "u4", "u5")

	res := collectOdds(context.Background(), env, src, "football", parseOddsportal)
	if res.Status != StatusOK {
		t.Fatalf("status = %d, want ok", res.Status)
	}
	if fetched != maxFallbackURLs {
		t.Errorf("fetched %d urls, want %d", fetched, maxFallbackURLs)
	}
}

func TestParseOddsValue(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"2.10", 2.10, true},
		{" 3.40 ", 3.40, true},
		{"5/2", 3.5, true},
		{"1/2", 1.5, true},
		{"evens", 2.0, true},
		{"EVS", 2.0, true},
		{"-", 0, false},
		{"", 0, false},
		{"SUSP", 0, false},
		{"1.00", 0, false},
		{"5/0", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseOddsValue(tc.in)
		if ok != tc.ok {
			t.Errorf("parseOddsValue(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("parseOddsValue(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
