package sources

import (
	"context"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
)

func oddscheckerSource() *Source {
	return &Source{
		Name:            "oddschecker",
		Domain:          "oddschecker.com",
		Kind:            KindOdds,
		Enabled:         true,
		Priority:        2,
		CooldownMinutes: 30,
		RowSelector:     "tr.match-on",
		SportURLs: map[string][]string{
			"football": {
				"https://www.oddschecker.com/football",
				"https://www.oddschecker.com/football/english/premier-league",
			},
			"basketball": {
				"https://www.oddschecker.com/basketball",
			},
			"tennis": {
				"https://www.oddschecker.com/tennis",
			},
		},
		Scrape: scrapeOddschecker,
	}
}

func scrapeOddschecker(ctx context.Context, env *Env, src *Source, sport string) Result {
	return collectOdds(ctx, env, src, sport, parseOddschecker)
}

// parseOddschecker extracts match rows from the coupon table. Football rows
// carry three bet names with "Draw" in the middle; two-way sports carry
// two. Prices are fractional and converted to decimal.
func parseOddschecker(html string, at time.Time) []ScrapedOdds {
	doc, err := htmlquery.Parse(strings.NewReader(html))
	if err != nil {
		return nil
	}
	trs, err := htmlquery.QueryAll(doc, `//tr[contains(@class, "match-on")]`)
	if err != nil {
		return nil
	}

	var rows []ScrapedOdds
	for _, tr := range trs {
		names, _ := htmlquery.QueryAll(tr, `.//span[@class="fixtures-bet-name"]`)
		cells, _ := htmlquery.QueryAll(tr, `.//td[contains(@class, "basket-add")]`)

		row := ScrapedOdds{ScrapedAt: at}
		switch len(names) {
		case 3:
			if !strings.EqualFold(strings.TrimSpace(htmlquery.InnerText(names[1])), "draw") {
				continue
			}
			row.HomeTeam = strings.TrimSpace(htmlquery.InnerText(names[0]))
			row.AwayTeam = strings.TrimSpace(htmlquery.InnerText(names[2]))
		case 2:
			row.HomeTeam = strings.TrimSpace(htmlquery.InnerText(names[0]))
			row.AwayTeam = strings.TrimSpace(htmlquery.InnerText(names[1]))
		default:
			continue
		}
		if row.HomeTeam == "" || row.AwayTeam == "" {
			continue
		}

		var odds []float64
		for _, cell := range cells {
			if len(odds) >= 3 {
				break
			}
			if v, ok := parseOddsValue(htmlquery.InnerText(cell)); ok {
				odds = append(odds, v)
			}
		}
		switch {
		case len(names) == 3 && len(odds) == 3:
			row.HomeWin, row.Draw, row.AwayWin = &odds[0], &odds[1], &odds[2]
		case len(names) == 2 && len(odds) >= 2:
			row.HomeWin, row.AwayWin = &odds[0], &odds[1]
		default:
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
