package sources

import (
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// consentSelectors covers the cookie banners seen across the odds sites.
// Order matters loosely; the specific vendor buttons come before the
// generic attribute matches.
var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#cookiescript_accept",
	".fc-cta-consent",
	`button[mode="primary"]`,
	`[aria-label="Accept all"]`,
	`button[id*="accept-all"]`,
	`button[class*="accept"]`,
}

// dismissConsent clicks the first known consent button if one is present.
// Absence is the common case and not an error.
func dismissConsent(page *rod.Page) bool {
	for _, sel := range consentSelectors {
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		time.Sleep(400 * time.Millisecond)
		return true
	}
	return false
}
