package ratelimit

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/matchday-live/scraper/internal/config"
)

// Limiter enforces per-domain request spacing and exponential cooldowns on
// block signals. State is keyed by registrable domain so subdomains of one
// site share a budget.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState

	minSpacing   time.Duration
	cooldownBase time.Duration
	cooldownMax  time.Duration
	logger       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type domainState struct {
	lastRequest   time.Time
	failureStreak int
	cooldownUntil time.Time
}

// New creates a Limiter from config.
func New(cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		domains:      make(map[string]*domainState),
		minSpacing:   cfg.MinSpacing,
		cooldownBase: cfg.CooldownBase,
		cooldownMax:  cfg.CooldownMax,
		logger:       logger.With("component", "ratelimit"),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Key reduces a hostname to its registrable domain. Unknown hosts fall back
// to the input so the limiter still keys on something.
func Key(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// Wait blocks until the domain's cooldown has passed and the minimum
// spacing since the previous request has elapsed. The spacing is jittered
// ±30% so request timing does not form a detectable rhythm.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	l.mu.Lock()
	st := l.state(domain)
	now := l.now()

	var until time.Time
	if !st.lastRequest.IsZero() {
		spacing := jitter(l.minSpacing)
		until = st.lastRequest.Add(spacing)
	}
	if st.cooldownUntil.After(until) {
		until = st.cooldownUntil
	}
	l.mu.Unlock()

	if wait := until.Sub(now); wait > 0 {
		l.logger.Debug("rate limit wait", "domain", domain, "wait", wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	st.lastRequest = l.now()
	l.mu.Unlock()
	return nil
}

// RecordSuccess clears the failure streak and halves any remaining
// cooldown toward baseline.
func (l *Limiter) RecordSuccess(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(domain)
	st.failureStreak = 0
	now := l.now()
	if remaining := st.cooldownUntil.Sub(now); remaining > 0 {
		st.cooldownUntil = now.Add(remaining / 2)
	}
}

// RecordFailure widens the domain cooldown exponentially: base·2^streak,
// clamped to [cooldownBase, cooldownMax].
func (l *Limiter) RecordFailure(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(domain)
	cooldown := l.cooldownBase << uint(st.failureStreak)
	if cooldown > l.cooldownMax || cooldown <= 0 {
		cooldown = l.cooldownMax
	}
	st.failureStreak++
	st.cooldownUntil = l.now().Add(cooldown)

	l.logger.Warn("domain cooldown widened",
		"domain", domain,
		"streak", st.failureStreak,
		"cooldown", cooldown,
	)
}

// Observe inspects an HTTP status code for block signals. 403 and 429
// count as failures; 2xx counts as success. Other codes leave the state
// untouched so transient 5xx retries do not widen cooldowns twice.
func (l *Limiter) Observe(domain string, statusCode int) {
	switch {
	case statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests:
		l.RecordFailure(domain)
	case statusCode >= 200 && statusCode < 300:
		l.RecordSuccess(domain)
	}
}

// CooldownUntil reports when the domain's cooldown lapses.
func (l *Limiter) CooldownUntil(domain string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(domain).cooldownUntil
}

// state returns the domain's record, creating it if needed. Callers hold mu.
func (l *Limiter) state(domain string) *domainState {
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{}
		l.domains[domain] = st
	}
	return st
}

// jitter spreads a duration uniformly across ±30%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
