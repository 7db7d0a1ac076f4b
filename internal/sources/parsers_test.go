package sources

import (
	"math"
	"testing"
	"time"
)

func priceIs(p *float64, want float64) bool {
	return p != nil && math.Abs(*p-want) < 1e-9
}

const oddsportalHTML = `<!DOCTYPE html>
<html>
<head>
<script type="application/ld+json">
[
  {"@context":"https://schema.org","@type":"SportsEvent","name":"Arsenal - Liverpool",
   "startDate":"2026-08-26T15:00:00Z",
   "homeTeam":{"@type":"SportsTeam","name":"Arsenal"},
   "awayTeam":{"@type":"SportsTeam","name":"Liverpool"}},
  {"@context":"https://schema.org","@type":"Organization","name":"Oddsportal"}
]
</script>
</head>
<body>
<div data-testid="game-row">
  <p data-testid="participant-name">Arsenal</p>
  <p data-testid="participant-name">Liverpool</p>
  <p data-testid="odd-container-default">2.10</p>
  <p data-testid="odd-container-default">3.40</p>
  <p data-testid="odd-container-default">3.60</p>
</div>
<div data-testid="game-row">
  <p data-testid="participant-name">Djokovic N.</p>
  <p data-testid="participant-name">Alcaraz C.</p>
  <p data-testid="odd-container-default">2.35</p>
  <p data-testid="odd-container-default">1.61</p>
</div>
<div data-testid="game-row">
  <p data-testid="participant-name">Chelsea</p>
  <p data-testid="participant-name">Everton</p>
  <p data-testid="odd-container-default">-</p>
</div>
</body>
</html>`

func TestParseOddsportal(t *testing.T) {
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rows := parseOddsportal(oddsportalHTML, at)

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (unpriced row dropped)", len(rows))
	}

	three := rows[0]
	if three.HomeTeam != "Arsenal" || three.AwayTeam != "Liverpool" {
		t.Fatalf("unexpected teams: %s v %s", three.HomeTeam, three.AwayTeam)
	}
	if three.HomeWin == nil || *three.HomeWin != 2.10 {
		t.Errorf("home win = %v, want 2.10", three.HomeWin)
	}
	if three.Draw == nil || *three.Draw != 3.40 {
		t.Errorf("draw = %v, want 3.40", three.Draw)
	}
	if three.AwayWin == nil || *three.AwayWin != 3.60 {
		t.Errorf("away win = %v, want 3.60", three.AwayWin)
	}
	if three.StartTime == nil {
		t.Fatal("start time should come from the JSON-LD block")
	}
	want := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	if !three.StartTime.Equal(want) {
		t.Errorf("start time = %v, want %v", three.StartTime, want)
	}
	if !three.ScrapedAt.Equal(at) {
		t.Errorf("scraped at = %v, want %v", three.ScrapedAt, at)
	}

	two := rows[1]
	if two.Draw != nil {
		t.Error("two-way row should have no draw price")
	}
	if two.HomeWin == nil || *two.HomeWin != 2.35 || two.AwayWin == nil || *two.AwayWin != 1.61 {
		t.Errorf("two-way prices = %v / %v", two.HomeWin, two.AwayWin)
	}
	if two.StartTime != nil {
		t.Error("row without a JSON-LD entry should have no start time")
	}
}

func TestParseOddsportalGarbage(t *testing.T) {
	if rows := parseOddsportal("not html at all", time.Now()); len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
	if rows := parseOddsportal("<html><body><p>hello</p></body></html>", time.Now()); len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

const oddscheckerHTML = `<!DOCTYPE html>
<html>
<body>
<table class="at-hda">
<tbody>
<tr class="match-on" data-mid="101">
  <td class="all-odds-click"><span class="fixtures-bet-name">Man United</span></td>
  <td class="all-odds-click"><span class="fixtures-bet-name">Draw</span></td>
  <td class="all-odds-click"><span class="fixtures-bet-name">Newcastle</span></td>
  <td class="basket-add bs-7/4">7/4</td>
  <td class="basket-add bs-12/5">12/5</td>
  <td class="basket-add bs-6/4">6/4</td>
</tr>
<tr class="match-on" data-mid="102">
  <td class="all-odds-click"><span class="fixtures-bet-name">Raptors</span></td>
  <td class="all-odds-click"><span class="fixtures-bet-name">Celtics</span></td>
  <td class="basket-add">evens</td>
  <td class="basket-add">4/5</td>
</tr>
<tr class="match-header">
  <td colspan="6">Premier League</td>
</tr>
</tbody>
</table>
</body>
</html>`

func TestParseOddschecker(t *testing.T) {
	rows := parseOddschecker(oddscheckerHTML, time.Now())
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	football := rows[0]
	if football.HomeTeam != "Man United" || football.AwayTeam != "Newcastle" {
		t.Fatalf("unexpected teams: %s v %s", football.HomeTeam, football.AwayTeam)
	}
	if !priceIs(football.HomeWin, 2.75) {
		t.Errorf("home win = %v, want 2.75 (7/4)", football.HomeWin)
	}
	if !priceIs(football.Draw, 3.4) {
		t.Errorf("draw = %v, want 3.4 (12/5)", football.Draw)
	}
	if !priceIs(football.AwayWin, 2.5) {
		t.Errorf("away win = %v, want 2.5 (6/4)", football.AwayWin)
	}

	hoops := rows[1]
	if hoops.Draw != nil {
		t.Error("two-way row should have no draw price")
	}
	if !priceIs(hoops.HomeWin, 2.0) {
		t.Errorf("home win = %v, want 2.0 (evens)", hoops.HomeWin)
	}
	if !priceIs(hoops.AwayWin, 1.8) {
		t.Errorf("away win = %v, want 1.8 (4/5)", hoops.AwayWin)
	}
}
