package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/matchday-live/scraper/internal/models"
	"github.com/matchday-live/scraper/internal/sources"
)

func candidate(id int64, home, away string, start time.Time) models.Event {
	return models.Event{
		ID:         id,
		Sport:      "football",
		HomeTeamID: id*10 + 1,
		HomeTeam:   home,
		AwayTeamID: id*10 + 2,
		AwayTeam:   away,
		StartTime:  start,
		Status:     models.StatusScheduled,
	}
}

func oddsRow(home, away string, hw, draw, aw float64) sources.ScrapedOdds {
	row := sources.ScrapedOdds{HomeTeam: home, AwayTeam: away}
	row.HomeWin = &hw
	if draw > 0 {
		row.Draw = &draw
	}
	row.AwayWin = &aw
	return row
}

func TestSyncOddsPricesMatchedEvents(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	kickoff := h.now.Add(4 * time.Hour)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", kickoff),
		candidate(2, "Liverpool", "Everton", kickoff.Add(time.Hour)),
	}
	h.reg.script("oddsportal", "football", sources.OkOdds([]sources.ScrapedOdds{
		oddsRow("Arsenal", "Chelsea", 1.95, 3.40, 4.10),
		oddsRow("Liverpool", "Everton", 1.50, 4.20, 6.50),
	}))

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := h.store.lastUpdatedRun(t)
	if final.Status != models.RunSuccess {
		t.Errorf("status = %q, want success", final.Status)
	}
	if final.ItemsUpdated != 2 || final.ItemsFailed != 0 {
		t.Errorf("updated=%d failed=%d, want 2/0", final.ItemsUpdated, final.ItemsFailed)
	}
	if len(h.store.outcomeCalls) != 2 {
		t.Fatalf("outcome writes = %d, want 2", len(h.store.outcomeCalls))
	}
	prices := h.store.outcomeCalls[0].prices
	if len(prices) != 3 || prices[0].Name != "home" || prices[1].Name != "draw" || prices[2].Name != "away" {
		t.Errorf("prices = %v, want home/draw/away", prices)
	}
	if prices[0].Odds != 1.95 {
		t.Errorf("home odds = %v, want 1.95", prices[0].Odds)
	}
	if h.metrics.OddsUpdated.Load() != 2 {
		t.Errorf("odds updated metric = %d, want 2", h.metrics.OddsUpdated.Load())
	}
}

func TestSyncOddsSecondSourceSkipsPricedEvents(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	h.reg.add(sources.KindOdds, "oddschecker", 2)
	kickoff := h.now.Add(4 * time.Hour)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", kickoff),
	}
	h.reg.script("oddsportal", "football", sources.OkOdds([]sources.ScrapedOdds{
		oddsRow("Arsenal", "Chelsea", 1.95, 3.40, 4.10),
	}))
	h.reg.script("oddschecker", "football", sources.OkOdds([]sources.ScrapedOdds{
		oddsRow("Arsenal", "Chelsea", 1.90, 3.50, 4.30),
	}))

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.store.outcomeCalls) != 1 {
		t.Fatalf("outcome writes = %d, want 1 (higher priority source already priced the event)", len(h.store.outcomeCalls))
	}
	if got := h.store.outcomeCalls[0].prices[0].Odds; got != 1.95 {
		t.Errorf("kept odds = %v, want the priority-1 price 1.95", got)
	}
	final := h.store.lastUpdatedRun(t)
	if final.ItemsProcessed != 2 || final.ItemsUpdated != 1 {
		t.Errorf("processed=%d updated=%d, want 2/1", final.ItemsProcessed, final.ItemsUpdated)
	}
}

func TestSyncOddsStopsAtTargetEvents(t *testing.T) {
	cfg := testJobsConfig()
	cfg.TargetEvents = 1
	h := newHarness(cfg)
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	kickoff := h.now.Add(4 * time.Hour)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", kickoff),
		candidate(2, "Liverpool", "Everton", kickoff),
	}
	h.reg.script("oddsportal", "football", sources.OkOdds([]sources.ScrapedOdds{
		oddsRow("Arsenal", "Chelsea", 1.95, 3.40, 4.10),
		oddsRow("Liverpool", "Everton", 1.50, 4.20, 6.50),
	}))

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.store.outcomeCalls) != 1 {
		t.Errorf("outcome writes = %d, want 1 (target reached)", len(h.store.outcomeCalls))
	}
}

func TestSyncOddsBlockedSourceMakesRunPartial(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", h.now.Add(4*time.Hour)),
	}
	h.reg.script("oddsportal", "football", sources.Blocked("verify you are human"))

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v (blocked is not a job failure)", err)
	}

	final := h.store.lastUpdatedRun(t)
	if final.Status != models.RunPartial {
		t.Errorf("status = %q, want partial", final.Status)
	}
	for _, a := range h.store.alerts {
		if a.Severity == models.SeverityCritical {
			t.Errorf("unexpected critical alert for a single blocked source: %s", a.Message)
		}
	}
}

func TestSyncOddsConsecutiveBlocksSkipSport(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	h.reg.add(sources.KindOdds, "oddschecker", 2)
	h.reg.add(sources.KindOdds, "betexplorer", 3)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", h.now.Add(4*time.Hour)),
	}
	for _, name := range []string{"oddsportal", "oddschecker", "betexplorer"} {
		h.reg.script(name, "football", sources.Blocked("access denied"))
	}

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.reg.calls) != 3 {
		t.Errorf("scrape calls = %v, want all three sources tried once", h.reg.calls)
	}
	critical := 0
	for _, a := range h.store.alerts {
		if a.Severity == models.SeverityCritical {
			critical++
		}
	}
	if critical != 1 {
		t.Errorf("critical alerts = %d, want 1 after three consecutive blocks", critical)
	}
	if final := h.store.lastUpdatedRun(t); final.Status != models.RunPartial {
		t.Errorf("status = %q, want partial", final.Status)
	}
}

func TestSyncOddsUnmatchedRowIsCountedNotFatal(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)
	h.store.oddsCandidates["football"] = []models.Event{
		candidate(1, "Arsenal", "Chelsea", h.now.Add(4*time.Hour)),
	}
	h.reg.script("oddsportal", "football", sources.OkOdds([]sources.ScrapedOdds{
		oddsRow("Bayern München", "Borussia Dortmund", 1.70, 4.00, 4.50),
	}))

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := h.store.lastUpdatedRun(t)
	if final.Status != models.RunSuccess {
		t.Errorf("status = %q, want success", final.Status)
	}
	if final.ItemsFailed != 1 || final.ItemsUpdated != 0 {
		t.Errorf("failed=%d updated=%d, want 1/0", final.ItemsFailed, final.ItemsUpdated)
	}
	if h.metrics.ResolverMisses.Load() != 1 {
		t.Errorf("resolver misses = %d, want 1", h.metrics.ResolverMisses.Load())
	}
	if len(h.store.outcomeCalls) != 0 {
		t.Errorf("outcome writes = %d, want none", len(h.store.outcomeCalls))
	}
}

func TestSyncOddsNoCandidatesSkipsScraping(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.reg.add(sources.KindOdds, "oddsportal", 1)

	if err := h.runner.Run(context.Background(), SyncOdds); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.reg.calls) != 0 {
		t.Errorf("scrape calls = %v, want none without candidates", h.reg.calls)
	}
	if final := h.store.lastUpdatedRun(t); final.Status != models.RunSuccess {
		t.Errorf("status = %q, want success", final.Status)
	}
}
