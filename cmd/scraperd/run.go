package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matchday-live/scraper/internal/browser"
	"github.com/matchday-live/scraper/internal/jobs"
	"github.com/matchday-live/scraper/internal/observability"
	"github.com/matchday-live/scraper/internal/proxy"
	"github.com/matchday-live/scraper/internal/queue"
	"github.com/matchday-live/scraper/internal/ratelimit"
	"github.com/matchday-live/scraper/internal/resolve"
	"github.com/matchday-live/scraper/internal/sources"
	"github.com/matchday-live/scraper/internal/store"
)

// runCmd creates the "run" subcommand for one-shot job execution.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [job]",
		Short: "Run one job to completion and exit",
		Long:  "Run a single job outside the scheduler. Valid jobs: " + jobNames() + ".",
		Args:  cobra.ExactArgs(1),
		RunE:  runOnce,
	}
}

func jobNames() string {
	names := make([]string, 0, len(jobs.All()))
	for _, j := range jobs.All() {
		names = append(names, string(j))
	}
	return strings.Join(names, ", ")
}

// runOnce executes a single job. A signal cancels the job's context, which
// the runner records as a partial run before exiting.
func runOnce(cmd *cobra.Command, args []string) error {
	job, ok := jobs.Parse(args[0])
	if !ok {
		return fmt.Errorf("unknown job %q (valid: %s)", args[0], jobNames())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	dsn, err := store.ResolveDSN(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("resolve database credentials: %w", err)
	}
	st, err := store.New(ctx, dsn, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	q, err := queue.New(ctx, cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("settlement queue: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit, logger)

	// Only fixtures and odds pay the browser launch cost.
	var pool *browser.Pool
	if job.UsesBrowser() {
		rotator := proxy.NewRotator(cfg.Proxy.Providers(), logger)
		pool, err = browser.NewPool(cfg.Browser, rotator, metrics, logger)
		if err != nil {
			return fmt.Errorf("browser pool: %w", err)
		}
		defer pool.Close()
	}

	env := sources.NewEnv(cfg.Browser, pool, limiter, sources.NewHTTPClient(feedTimeout), logger, cfg.Sources.OddsAPIKey)
	registry := sources.NewRegistry(env, metrics, logger)

	runner := jobs.NewRunner(cfg.Jobs, jobs.Deps{
		Store:    st,
		Registry: registry,
		Resolver: resolve.New(st, logger),
		Queue:    q,
		Metrics:  metrics,
	}, logger)

	start := time.Now()
	if err := runner.Run(ctx, job); err != nil {
		return fmt.Errorf("%s: %w", job, err)
	}
	fmt.Printf("✅ %s complete in %s\n", job, time.Since(start).Round(time.Millisecond))
	return nil
}
