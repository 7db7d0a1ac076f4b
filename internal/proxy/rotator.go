package proxy

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matchday-live/scraper/internal/config"
)

const (
	// attemptWindow is how many recent attempts feed the success ratio.
	attemptWindow = 50

	// healthyRatio is the success ratio a provider must hold to keep
	// receiving traffic at its cost tier.
	healthyRatio = 0.6

	maxConsecutiveFailures = 5
	quarantineDuration     = 10 * time.Minute
)

// Rotator selects a proxy endpoint per browser context and tracks
// per-provider health. With no providers configured the rotator is disabled
// and Select reports no proxy.
type Rotator struct {
	mu        sync.Mutex
	providers []*provider // sorted by cost weight ascending
	logger    *slog.Logger
	now       func() time.Time
}

type provider struct {
	name       string
	url        string
	costWeight float64

	// Ring of the last attemptWindow outcomes (true = success).
	window    [attemptWindow]bool
	windowPos int
	windowLen int

	consecutiveFailures int
	quarantinedUntil    time.Time
	lastFailure         time.Time
	lastUse             time.Time
}

// NewRotator creates a Rotator from the configured providers.
func NewRotator(providers []config.ProxyProvider, logger *slog.Logger) *Rotator {
	r := &Rotator{
		logger: logger.With("component", "proxy_rotator"),
		now:    time.Now,
	}

	for _, p := range providers {
		r.providers = append(r.providers, &provider{
			name:       p.Name,
			url:        expandTemplate(p),
			costWeight: p.CostWeight,
		})
	}
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].costWeight < r.providers[j].costWeight
	})

	if len(r.providers) == 0 {
		r.logger.Info("no proxy providers configured, rotator disabled")
	} else {
		names := make([]string, len(r.providers))
		for i, p := range r.providers {
			names[i] = p.name
		}
		r.logger.Info("proxy rotator initialized", "providers", names)
	}
	return r
}

// expandTemplate fills {username}, {password} and {country} into the
// provider's gateway URL.
func expandTemplate(p config.ProxyProvider) string {
	rep := strings.NewReplacer(
		"{username}", p.Username,
		"{password}", p.Password,
		"{country}", p.CountryCode,
	)
	return rep.Replace(p.URLTemplate)
}

// Enabled reports whether any provider is configured.
func (r *Rotator) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers) > 0
}

// Select picks a proxy URL. Providers are walked cheapest first; a provider
// keeps its slot while its recent success ratio exceeds healthyRatio.
// Quarantined providers are skipped, but when every provider is quarantined
// the least-recently-failed one is returned so callers never stall.
func (r *Rotator) Select() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.providers) == 0 {
		return "", false
	}
	now := r.now()

	active := make([]*provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.quarantinedUntil.After(now) {
			continue
		}
		active = append(active, p)
	}

	if len(active) == 0 {
		p := r.providers[0]
		for _, q := range r.providers[1:] {
			if q.lastFailure.Before(p.lastFailure) {
				p = q
			}
		}
		r.logger.Warn("all proxy providers quarantined, degrading",
			"provider", p.name)
		p.lastUse = now
		return p.url, true
	}

	// Cheapest provider above the health threshold wins; equal-cost
	// providers rotate by least recent use.
	var pick *provider
	for _, p := range active {
		if p.successRatio() <= healthyRatio {
			continue
		}
		if pick == nil {
			pick = p
			continue
		}
		if p.costWeight < pick.costWeight ||
			(p.costWeight == pick.costWeight && p.lastUse.Before(pick.lastUse)) {
			pick = p
		}
	}

	// Every active provider is below threshold: take the best ratio.
	if pick == nil {
		pick = active[0]
		for _, p := range active[1:] {
			if p.successRatio() > pick.successRatio() {
				pick = p
			}
		}
	}

	pick.lastUse = now
	return pick.url, true
}

// RecordSuccess updates the moving window for the provider owning proxyURL.
func (r *Rotator) RecordSuccess(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byURL(proxyURL)
	if p == nil {
		return
	}
	p.push(true)
	p.consecutiveFailures = 0
}

// RecordFailure updates the moving window and quarantines the provider
// after maxConsecutiveFailures in a row.
func (r *Rotator) RecordFailure(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byURL(proxyURL)
	if p == nil {
		return
	}
	now := r.now()
	p.push(false)
	p.consecutiveFailures++
	p.lastFailure = now

	if p.consecutiveFailures >= maxConsecutiveFailures {
		p.quarantinedUntil = now.Add(quarantineDuration)
		p.consecutiveFailures = 0
		r.logger.Warn("proxy provider quarantined",
			"provider", p.name,
			"until", p.quarantinedUntil,
		)
	}
}

// ProviderStatus is one provider's health for the control surface.
type ProviderStatus struct {
	Name         string  `json:"name"`
	SuccessRatio float64 `json:"success_ratio"`
	Quarantined  bool    `json:"quarantined"`
}

// Snapshot returns per-provider health.
func (r *Rotator) Snapshot() []ProviderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, ProviderStatus{
			Name:         p.name,
			SuccessRatio: p.successRatio(),
			Quarantined:  p.quarantinedUntil.After(now),
		})
	}
	return out
}

func (r *Rotator) byURL(proxyURL string) *provider {
	for _, p := range r.providers {
		if p.url == proxyURL {
			return p
		}
	}
	return nil
}

func (p *provider) push(success bool) {
	p.window[p.windowPos] = success
	p.windowPos = (p.windowPos + 1) % attemptWindow
	if p.windowLen < attemptWindow {
		p.windowLen++
	}
}

// successRatio over the recorded window. A provider with no history is
// treated as healthy so fresh providers get traffic.
func (p *provider) successRatio() float64 {
	if p.windowLen == 0 {
		return 1.0
	}
	var ok int
	for i := 0; i < p.windowLen; i++ {
		if p.window[i] {
			ok++
		}
	}
	return float64(ok) / float64(p.windowLen)
}
