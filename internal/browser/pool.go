package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/observability"
	"github.com/matchday-live/scraper/internal/proxy"
)

// Sentinel errors for pool lifecycle.
var (
	ErrPoolClosed   = errors.New("browser pool is closed")
	ErrLaunchFailed = errors.New("browser launch failed")
)

// Pool owns one headless browser process and a bounded set of isolated
// browser contexts. Contexts carry their own cookies, storage and proxy;
// jobs get short-lived page handles and never hold a context across jobs.
type Pool struct {
	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	contexts []*browserContext
	closed   bool

	cfg     config.BrowserConfig
	rotator *proxy.Rotator
	metrics *observability.Metrics
	logger  *slog.Logger

	minted   int64
	recycled int64

	now     func() time.Time
	create  func() (*browserContext, error)
	dispose func(id proto.BrowserBrowserContextID) error
}

// browserContext is one isolated CDP browser context owned by the pool.
type browserContext struct {
	id      proto.BrowserBrowserContextID
	browser *rod.Browser // clone bound to this context
	profile *Profile

	createdAt    time.Time
	lastUsedAt   time.Time
	requestCount int
	failureCount int

	proxyURL  string // full URL, credentials included; reported to the rotator
	proxyHost string // scheme://host:port handed to CDP
	proxyUser string
	proxyPass string

	inUse  bool
	retire bool
}

// NewPool launches the browser and prepares an empty context set. Launch is
// retried; exhausting the attempts is fatal for the process.
func NewPool(cfg config.BrowserConfig, rotator *proxy.Rotator, metrics *observability.Metrics, logger *slog.Logger) (*Pool, error) {
	p := &Pool{
		cfg:     cfg,
		rotator: rotator,
		metrics: metrics,
		logger:  logger.With("component", "browser_pool"),
		now:     time.Now,
	}
	p.create = p.createContext
	p.dispose = p.disposeContext

	var lastErr error
	for attempt := 1; attempt <= cfg.LaunchAttempts; attempt++ {
		if err := p.launch(); err != nil {
			lastErr = err
			p.logger.Warn("browser launch failed",
				"attempt", attempt,
				"max_attempts", cfg.LaunchAttempts,
				"error", err,
			)
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
			continue
		}
		p.logger.Info("browser pool ready", "max_contexts", cfg.MaxContexts)
		return p, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrLaunchFailed, cfg.LaunchAttempts, lastErr)
}

// launch starts a Chromium instance with the hardened flag set.
func (p *Pool) launch() error {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect browser: %w", err)
	}

	p.browser = browser
	p.launcher = l
	return nil
}

// ExecuteOptions tunes a single Execute call.
type ExecuteOptions struct {
	// Humanize performs a short mouse/scroll sequence before fn runs.
	Humanize bool
	// Timeout bounds fn's page work; zero uses the configured navigation
	// timeout.
	Timeout time.Duration
}

// Execute leases a healthy context, opens a fresh stealth page on it, runs
// fn and releases everything. A failure from fn counts against the context
// and its proxy.
func (p *Pool) Execute(ctx context.Context, opts ExecuteOptions, fn func(page *rod.Page) error) error {
	page, release, err := p.LeasePage(ctx)
	if err != nil {
		return err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.cfg.NavigationTimeout
	}
	page = page.Timeout(timeout).Context(ctx)

	if opts.Humanize {
		humanize(page)
	}

	err = fn(page)
	release(err)
	return err
}

// LeasePage acquires a context and opens a prepared page on it. The
// returned release closes the page, reports the outcome and frees the
// context; it must be called exactly once.
func (p *Pool) LeasePage(ctx context.Context) (*rod.Page, func(scrapeErr error), error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	page, err := p.openPage(c)
	if err != nil {
		p.releaseContext(c, err)
		return nil, nil, err
	}

	release := func(scrapeErr error) {
		_ = page.Close()
		p.releaseContext(c, scrapeErr)
	}
	return page, release, nil
}

// openPage creates a page on the context and applies the stealth profile.
func (p *Pool) openPage(c *browserContext) (*rod.Page, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	if c.proxyUser != "" {
		waitAuth := c.browser.HandleAuth(c.proxyUser, c.proxyPass)
		go func() { _ = waitAuth() }()
	}

	if err := c.profile.Apply(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// acquire leases an idle healthy context, minting one when the pool is not
// full. When the pool is saturated it polls until a context frees up or ctx
// is cancelled.
func (p *Pool) acquire(ctx context.Context) (*browserContext, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		now := p.now()
		p.sweepLocked(now)

		for _, c := range p.contexts {
			if c.inUse || p.needsRecycle(c, now) {
				continue
			}
			c.inUse = true
			c.lastUsedAt = now
			p.mu.Unlock()
			return c, nil
		}

		if len(p.contexts) < p.cfg.MaxContexts {
			c, err := p.mintLocked(now)
			p.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// mintLocked adds a freshly created context to the pool. Callers hold mu;
// the returned context is already leased.
func (p *Pool) mintLocked(now time.Time) (*browserContext, error) {
	c, err := p.create()
	if err != nil {
		return nil, err
	}
	c.createdAt = now
	c.lastUsedAt = now
	c.inUse = true

	p.contexts = append(p.contexts, c)
	p.minted++
	p.metrics.ContextsMinted.Add(1)
	p.logger.Info("browser context minted",
		"contexts", len(p.contexts),
		"proxy", c.proxyHost,
		"viewport", fmt.Sprintf("%dx%d", c.profile.ViewportW, c.profile.ViewportH),
	)
	return c, nil
}

// createContext mints an isolated CDP browser context with a proxy from the
// rotator and a fresh stealth profile.
func (p *Pool) createContext() (*browserContext, error) {
	c := &browserContext{profile: NewProfile()}

	create := proto.TargetCreateBrowserContext{}
	if proxyURL, ok := p.rotator.Select(); ok {
		host, user, pass, err := splitProxyCredentials(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		c.proxyURL = proxyURL
		c.proxyHost = host
		c.proxyUser = user
		c.proxyPass = pass
		create.ProxyServer = host
	}

	res, err := create.Call(p.browser)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	c.id = res.BrowserContextID

	bb := *p.browser
	bb.BrowserContextID = res.BrowserContextID
	c.browser = &bb
	return c, nil
}

func (p *Pool) disposeContext(id proto.BrowserBrowserContextID) error {
	return proto.TargetDisposeBrowserContext{BrowserContextID: id}.Call(p.browser)
}

// releaseContext returns a leased context and applies outcome bookkeeping.
func (p *Pool) releaseContext(c *browserContext, scrapeErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.inUse = false
	c.requestCount++
	c.lastUsedAt = p.now()

	if scrapeErr != nil && !errors.Is(scrapeErr, context.Canceled) {
		c.failureCount++
		if c.proxyURL != "" {
			p.rotator.RecordFailure(c.proxyURL)
		}
	} else if scrapeErr == nil && c.proxyURL != "" {
		p.rotator.RecordSuccess(c.proxyURL)
	}

	if p.needsRecycle(c, p.now()) {
		p.disposeLocked(c, "lifecycle")
	}
}

// needsRecycle applies the context lifecycle rules. The request bound fires
// once the budget is spent so the next lease lands on a fresh context.
func (p *Pool) needsRecycle(c *browserContext, now time.Time) bool {
	switch {
	case c.retire:
		return true
	case now.Sub(c.createdAt) > p.cfg.MaxContextAge:
		return true
	case c.requestCount >= p.cfg.MaxContextRequests:
		return true
	case c.failureCount >= p.cfg.MaxContextFailures:
		return true
	}
	return false
}

// sweepLocked disposes idle contexts that hit a lifecycle bound. Victims
// are collected first; disposeLocked mutates p.contexts.
func (p *Pool) sweepLocked(now time.Time) {
	var expired []*browserContext
	for _, c := range p.contexts {
		if !c.inUse && p.needsRecycle(c, now) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		p.disposeLocked(c, "lifecycle")
	}
}

// disposeLocked closes one context. Callers hold mu.
func (p *Pool) disposeLocked(c *browserContext, reason string) {
	if err := p.dispose(c.id); err != nil {
		p.logger.Warn("dispose browser context", "error", err)
	}

	for i, other := range p.contexts {
		if other == c {
			p.contexts = append(p.contexts[:i], p.contexts[i+1:]...)
			break
		}
	}
	p.recycled++
	p.metrics.ContextsRecycled.Add(1)
	p.logger.Info("browser context recycled",
		"reason", reason,
		"age", p.now().Sub(c.createdAt).Round(time.Second),
		"requests", c.requestCount,
		"failures", c.failureCount,
	)
}

// RecycleAll retires every context and eagerly warms a fresh one. In-use
// contexts are disposed when their current lease is released.
func (p *Pool) RecycleAll(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.logger.Info("recycling all browser contexts", "reason", reason, "count", len(p.contexts))
	for _, c := range append([]*browserContext(nil), p.contexts...) {
		if c.inUse {
			c.retire = true
			continue
		}
		p.disposeLocked(c, reason)
	}

	if len(p.contexts) == 0 {
		if c, err := p.mintLocked(p.now()); err != nil {
			p.logger.Warn("warm context after recycle", "error", err)
		} else {
			c.inUse = false
		}
	}
}

// ContextStats describes one live context for the control surface.
type ContextStats struct {
	AgeSeconds   int64  `json:"age_seconds"`
	RequestCount int    `json:"request_count"`
	FailureCount int    `json:"failure_count"`
	Proxy        string `json:"proxy,omitempty"`
	InUse        bool   `json:"in_use"`
}

// PoolStats is the pool snapshot for the control surface.
type PoolStats struct {
	MaxContexts int            `json:"max_contexts"`
	Active      int            `json:"active"`
	Minted      int64          `json:"minted"`
	Recycled    int64          `json:"recycled"`
	Contexts    []ContextStats `json:"contexts"`
}

// Stats returns the current pool state.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := PoolStats{
		MaxContexts: p.cfg.MaxContexts,
		Active:      len(p.contexts),
		Minted:      p.minted,
		Recycled:    p.recycled,
	}
	for _, c := range p.contexts {
		stats.Contexts = append(stats.Contexts, ContextStats{
			AgeSeconds:   int64(now.Sub(c.createdAt).Seconds()),
			RequestCount: c.requestCount,
			FailureCount: c.failureCount,
			Proxy:        c.proxyHost,
			InUse:        c.inUse,
		})
	}
	return stats
}

// Close disposes all contexts and shuts the browser down.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	contexts := p.contexts
	p.contexts = nil
	p.mu.Unlock()

	for _, c := range contexts {
		_ = p.dispose(c.id)
	}

	var err error
	if p.browser != nil {
		err = p.browser.Close()
	}
	if p.launcher != nil {
		p.launcher.Kill()
	}
	p.logger.Info("browser pool closed")
	return err
}

// splitProxyCredentials separates embedded credentials from a proxy URL.
// CDP takes the bare scheme://host:port; credentials are answered through
// the auth handler.
func splitProxyCredentials(proxyURL string) (host, user, pass string, err error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", "", "", err
	}
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		u.User = nil
	}
	return u.String(), user, pass, nil
}
