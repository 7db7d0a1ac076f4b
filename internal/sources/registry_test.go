package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matchday-live/scraper/internal/observability"
)

func scriptedSource(name string, priority, cooldownMinutes int, res Result) *Source {
	return &Source{
		Name:            name,
		Domain:          name + ".test",
		Kind:            KindOdds,
		Enabled:         true,
		Priority:        priority,
		CooldownMinutes: cooldownMinutes,
		Scrape: func(ctx context.Context, env *Env, src *Source, sport string) Result {
			return res
		},
	}
}

func registryHarness(srcs ...*Source) (*Registry, time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r := newRegistry(testEnv(nil), observability.NewMetrics(), testLogger, srcs)
	r.now = func() time.Time { return now }
	return r, now
}

func TestRegistryBlockedCooldownFloor(t *testing.T) {
	src := scriptedSource("oddsportal", 1, 30, Blocked("verify you are human"))
	r, now := registryHarness(src)

	res := r.Scrape(context.Background(), src, "football")
	if res.Status != StatusBlocked {
		t.Fatalf("status = %d, want blocked", res.Status)
	}

	until := r.CooldownUntil("oddsportal", "football")
	if want := now.Add(blockedCooldownFloor); until.Before(want) {
		t.Errorf("cooldown until %v, want at least %v", until, want)
	}
	if r.Ready(src, "football") {
		t.Error("blocked source should not be ready, even at priority 1")
	}
}

func TestRegistryBlockedKeepsLongerConfiguredCooldown(t *testing.T) {
	src := scriptedSource("slow", 1, 240, Blocked("captcha"))
	r, now := registryHarness(src)

	r.Scrape(context.Background(), src, "football")
	if until, want := r.CooldownUntil("slow", "football"), now.Add(4*time.Hour); !until.Equal(want) {
		t.Errorf("cooldown until %v, want %v", until, want)
	}
}

func TestRegistryNoDataCostsNothing(t *testing.T) {
	src := scriptedSource("oddsportal", 1, 30, NoData("no upcoming matches"))
	r, _ := registryHarness(src)

	res := r.Scrape(context.Background(), src, "tennis")
	if res.Status != StatusNoData {
		t.Fatalf("status = %d, want no-data", res.Status)
	}
	if !r.CooldownUntil("oddsportal", "tennis").IsZero() {
		t.Error("no-data must not start a cooldown")
	}
	if !r.Ready(src, "tennis") {
		t.Error("source should remain ready after an empty page")
	}
}

func TestRegistryErrorUsesConfiguredCooldown(t *testing.T) {
	src := scriptedSource("oddschecker", 2, 30, Errored(errors.New("tls handshake timeout")))
	r, now := registryHarness(src)

	r.Scrape(context.Background(), src, "football")
	if until, want := r.CooldownUntil("oddschecker", "football"), now.Add(30*time.Minute); !until.Equal(want) {
		t.Errorf("cooldown until %v, want %v", until, want)
	}
}

func TestRegistryCooldownIsPerSport(t *testing.T) {
	src := scriptedSource("oddsportal", 1, 30, Blocked("access denied"))
	r, _ := registryHarness(src)

	r.Scrape(context.Background(), src, "football")
	if r.Ready(src, "football") {
		t.Error("blocked sport should be cooling down")
	}
	if !r.Ready(src, "basketball") {
		t.Error("other sports should be unaffected")
	}
}

func TestRegistrySourcesPriorityOrder(t *testing.T) {
	fallback := scriptedSource("fallback", 9, 60, OkOdds(nil))
	primary := scriptedSource("primary", 1, 30, OkOdds(nil))
	secondary := scriptedSource("secondary", 2, 30, OkOdds(nil))
	disabled := scriptedSource("disabled", 1, 30, OkOdds(nil))
	disabled.Enabled = false
	fixtures := scriptedSource("fixtures", 1, 15, OkFixtures(nil))
	fixtures.Kind = KindFixtures

	r, _ := registryHarness(fallback, primary, secondary, disabled, fixtures)

	got := r.Sources(KindOdds)
	want := []string{"primary", "secondary", "fallback"}
	if len(got) != len(want) {
		t.Fatalf("sources = %d, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("sources[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
}

func TestRegistryStatsReportsActiveCooldowns(t *testing.T) {
	blocked := scriptedSource("oddsportal", 1, 30, Blocked("challenge"))
	clean := scriptedSource("oddschecker", 2, 30, OkOdds(nil))
	r, now := registryHarness(blocked, clean)

	r.Scrape(context.Background(), blocked, "football")
	r.Scrape(context.Background(), clean, "football")

	for _, st := range r.Stats() {
		switch st.Name {
		case "oddsportal":
			until, ok := st.Cooldowns["football"]
			if !ok {
				t.Fatal("blocked source missing cooldown in stats")
			}
			if want := now.Add(blockedCooldownFloor); !until.Equal(want) {
				t.Errorf("stats cooldown = %v, want %v", until, want)
			}
		case "oddschecker":
			if st.Cooldowns != nil {
				t.Errorf("clean source should have no cooldowns, got %v", st.Cooldowns)
			}
		}
	}
}

func TestDefaultSourcesCatalog(t *testing.T) {
	r, _ := registryHarness(DefaultSources("")...)

	odds := r.Sources(KindOdds)
	if len(odds) != 2 {
		t.Fatalf("odds sources = %d, want 2 with the api fallback disabled", len(odds))
	}
	if odds[0].Name != "oddsportal" || odds[1].Name != "oddschecker" {
		t.Errorf("odds order = %s, %s", odds[0].Name, odds[1].Name)
	}
	if got := r.Sources(KindFixtures); len(got) != 1 || got[0].Name != "flashscore" {
		t.Errorf("fixtures sources = %v", got)
	}
	if got := r.Sources(KindLiveScores); len(got) != 1 || got[0].Name != "flashscore_live" {
		t.Errorf("live sources = %v", got)
	}
}
