package sources

import "strings"

// BlockedMarkers are page-text fragments that mean the site pushed back
// rather than showing data. Checked before the no-data catalog: several
// anti-bot pages word themselves like empty listings, and "too many
// requests" lives in both worlds.
var BlockedMarkers = []string{
	"captcha",
	"challenge",
	"access denied",
	"unusual traffic",
	"too many requests",
	"verify you are human",
	"verify you are a human",
	"attention required",
	"pardon our interruption",
	"are you a robot",
	"enable javascript and cookies",
	"ddos protection",
}

// NoDataMarkers are fragments of legitimately empty listing pages.
var NoDataMarkers = []string{
	"no upcoming matches",
	"no matches found",
	"odds will feature here",
	"no events found",
	"no odds available",
	"there are no games",
	"nothing to display",
	"matches will appear here",
	"check back soon",
}

// Classification is what a zero-row page looks like once the catalogs run.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassBlocked
	ClassNoData
)

// Classify inspects page text for block and no-data markers and returns
// the class plus the marker that fired. Blocked wins when both match.
func Classify(pageText string) (Classification, string) {
	t := strings.ToLower(pageText)
	for _, m := range BlockedMarkers {
		if strings.Contains(t, m) {
			return ClassBlocked, m
		}
	}
	for _, m := range NoDataMarkers {
		if strings.Contains(t, m) {
			return ClassNoData, m
		}
	}
	return ClassUnknown, ""
}
