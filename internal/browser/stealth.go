package browser

import (
	"fmt"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// userAgents is a small pool of recent desktop Chrome strings. Keep these
// current; stale UA versions are themselves a bot signal.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// RandomUserAgent returns one of the pool's desktop user agents. The
// plain-HTTP sources share the pool so headless and feed traffic look
// alike.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// viewports is the whitelist of plausible desktop resolutions.
var viewports = []struct{ W, H int }{
	{1920, 1080},
	{1536, 864},
	{1366, 768},
	{1440, 900},
	{2560, 1440},
}

// Profile is the fingerprint applied to every page of a context. The locale
// and timezone are fixed to the product's audience; everything else is
// sampled per context.
type Profile struct {
	UserAgent           string
	ViewportW           int
	ViewportH           int
	Locale              string
	Timezone            string
	HardwareConcurrency int
	DeviceMemory        int

	// noiseSeed keeps canvas/audio noise identical across every page of the
	// context; per-page variation is itself a fingerprint signal.
	noiseSeed int
}

// NewProfile samples a fresh stealth profile.
func NewProfile() *Profile {
	vp := viewports[rand.Intn(len(viewports))]
	return &Profile{
		UserAgent:           userAgents[rand.Intn(len(userAgents))],
		ViewportW:           vp.W,
		ViewportH:           vp.H,
		Locale:              "en-GB",
		Timezone:            "Europe/London",
		HardwareConcurrency: []int{4, 8, 12, 16}[rand.Intn(4)],
		DeviceMemory:        8,
		noiseSeed:           rand.Intn(251) + 1,
	}
}

// Apply patches a page before navigation: UA, viewport, locale, timezone,
// the stealth bundle and the local fingerprint-noise patches.
func (pr *Profile) Apply(page *rod.Page) error {
	err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      pr.UserAgent,
		AcceptLanguage: "en-GB,en;q=0.9",
	})
	if err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             pr.ViewportW,
		Height:            pr.ViewportH,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: pr.Timezone}).Call(page); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: pr.Locale}).Call(page); err != nil {
		return fmt.Errorf("set locale: %w", err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("inject stealth js: %w", err)
	}
	if _, err := page.EvalOnNewDocument(pr.patchJS()); err != nil {
		return fmt.Errorf("inject fingerprint patches: %w", err)
	}

	if _, err := page.SetExtraHeaders([]string{
		"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language", "en-GB,en;q=0.9",
		"Sec-Fetch-Dest", "document",
		"Sec-Fetch-Mode", "navigate",
		"Sec-Fetch-Site", "none",
		"Sec-Fetch-User", "?1",
		"Upgrade-Insecure-Requests", "1",
	}); err != nil {
		return fmt.Errorf("set headers: %w", err)
	}

	return nil
}

// patchJS returns the page-level patches layered on top of the stealth
// bundle: navigator shape plus small deterministic-per-context noise in
// canvas, WebGL and audio reads.
func (pr *Profile) patchJS() string {
	return fmt.Sprintf(`
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
Object.defineProperty(navigator, 'language', { get: () => 'en-GB' });
Object.defineProperty(navigator, 'languages', { get: () => ['en-GB', 'en'] });

Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const plugins = [
			{ name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
			{ name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
			{ name: 'Native Client', filename: 'internal-nacl-plugin' },
		];
		plugins.length = 3;
		return plugins;
	}
});

// Canvas noise: nudge one channel of one pixel per read.
const noiseSeed = %d;
const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
HTMLCanvasElement.prototype.toDataURL = function(...args) {
	const ctx = this.getContext('2d');
	if (ctx && this.width > 4 && this.height > 4) {
		const px = ctx.getImageData(0, 0, 1, 1);
		px.data[noiseSeed %% 3] = (px.data[noiseSeed %% 3] + 1) %% 256;
		ctx.putImageData(px, 0, 0);
	}
	return origToDataURL.apply(this, args);
};

// WebGL: stable consumer-grade identifiers plus jittered precision reads.
const getParameter = WebGLRenderingContext.prototype.getParameter;
WebGLRenderingContext.prototype.getParameter = function(param) {
	if (param === 37445) return 'Google Inc. (Intel)';
	if (param === 37446) return 'ANGLE (Intel, Intel(R) UHD Graphics 630, OpenGL 4.1)';
	return getParameter.call(this, param);
};

// Audio noise: sub-audible offset on channel reads.
const origGetChannelData = AudioBuffer.prototype.getChannelData;
AudioBuffer.prototype.getChannelData = function(channel) {
	const data = origGetChannelData.call(this, channel);
	if (data.length > 0) {
		data[noiseSeed %% data.length] += 1e-7;
	}
	return data;
};
`, pr.HardwareConcurrency, pr.DeviceMemory, pr.noiseSeed)
}
