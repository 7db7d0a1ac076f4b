// Command scraperd keeps the matchday database fresh: it scrapes fixtures,
// match odds and live scores from public sports sites on an adaptive
// schedule, resolves scraped team names onto canonical entities, and hands
// finished events to the settlement queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/matchday-live/scraper/internal/api"
	"github.com/matchday-live/scraper/internal/browser"
	"github.com/matchday-live/scraper/internal/config"
	"github.com/matchday-live/scraper/internal/jobs"
	"github.com/matchday-live/scraper/internal/observability"
	"github.com/matchday-live/scraper/internal/proxy"
	"github.com/matchday-live/scraper/internal/queue"
	"github.com/matchday-live/scraper/internal/ratelimit"
	"github.com/matchday-live/scraper/internal/resolve"
	"github.com/matchday-live/scraper/internal/scheduler"
	"github.com/matchday-live/scraper/internal/sources"
	"github.com/matchday-live/scraper/internal/store"
)

// feedTimeout bounds requests from the plain-HTTP feed sources. Feeds
// answer fast or not at all; browser-backed sources have their own budgets.
const feedTimeout = 20 * time.Second

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scraperd",
		Short: "Matchday scraper — fixtures, odds and live scores",
		Long: `scraperd is the scraping daemon behind the matchday database.

Modes:
  • serve — run the cron scheduler, adaptive odds timer and control API
  • run   — execute a single job once and exit

Jobs scrape public sports sites through a pooled stealth browser or plain
HTTP, resolve team names onto canonical entities, and write fixtures, odds
and live scores to Postgres. Finished events go to the settlement queue.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scraper daemon",
		Long:  "Run all scheduled jobs under the cron scheduler and serve the control API until signalled.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// runServe wires the full daemon and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Logging)

	ctx := context.Background()
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

	rotator := proxy.NewRotator(cfg.Proxy.Providers(), logger)
	limiter := ratelimit.New(cfg.RateLimit, logger)

	pool, err := browser.NewPool(cfg.Browser, rotator, metrics, logger)
	if err != nil {
		return fmt.Errorf("browser pool: %w", err)
	}
	defer pool.Close()

	env := sources.NewEnv(cfg.Browser, pool, limiter, sources.NewHTTPClient(feedTimeout), logger, cfg.Sources.OddsAPIKey)
	registry := sources.NewRegistry(env, metrics, logger)

	runner := jobs.NewRunner(cfg.Jobs, jobs.Deps{
		Store:    st,
		Registry: registry,
		Resolver: resolve.New(st, logger),
		Queue:    q,
		Metrics:  metrics,
	}, logger)

	sched, err := scheduler.New(cfg.Scheduler, runner, st, pool, logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	apiSrv := api.NewServer(cfg.Server.ListenAddr, api.Deps{
		Jobs:    sched,
		Pool:    pool,
		Proxies: rotator,
		Sources: registry,
		Metrics: metrics,
	}, logger)
	if err := apiSrv.Start(); err != nil {
		sched.Stop(0)
		return err
	}

	logger.Info("scraperd started",
		"version", config.Version,
		"listen", cfg.Server.ListenAddr,
		"cron", cfg.Scheduler.EnableCron,
		"sports", cfg.Jobs.Sports,
		"proxies", rotator.Enabled(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	sched.Stop(cfg.Jobs.DrainTimeout)

	logger.Info("shutdown complete")
	return nil
}

// loadConfig loads and validates configuration with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scraperd %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
// It loads without validating so it works on an unconfigured machine.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Server:\n")
			fmt.Printf("  Listen Addr:      %s\n", cfg.Server.ListenAddr)
			fmt.Printf("\nDatabase:\n")
			fmt.Printf("  Mode:             %s\n", databaseMode(cfg.Database))
			fmt.Printf("  Query Timeout:    %s\n", cfg.Database.QueryTimeout)
			fmt.Printf("  Max Conns:        %d\n", cfg.Database.MaxConns)
			fmt.Printf("\nQueue:\n")
			fmt.Printf("  Settlement:       %s\n", setOrUnset(cfg.Queue.SettlementURL != ""))
			fmt.Printf("\nScheduler:\n")
			fmt.Printf("  Cron Enabled:     %v\n", cfg.Scheduler.EnableCron)
			fmt.Printf("  Timezone:         %s\n", cfg.Scheduler.Timezone)
			fmt.Printf("  Fixtures:         %s\n", cfg.Scheduler.FixturesSpec)
			fmt.Printf("  Live Scores:      %s\n", cfg.Scheduler.LiveScoresSpec)
			fmt.Printf("  Transition:       %s\n", cfg.Scheduler.TransitionSpec)
			fmt.Printf("  Rotation:         %s\n", cfg.Scheduler.RotationSpec)
			fmt.Printf("\nJobs:\n")
			fmt.Printf("  Sports:           %s\n", strings.Join(cfg.Jobs.Sports, ", "))
			fmt.Printf("  Fixture Window:   %s\n", cfg.Jobs.FixtureWindow)
			fmt.Printf("  Odds Window:      %s\n", cfg.Jobs.OddsWindow)
			fmt.Printf("  Target Events:    %d\n", cfg.Jobs.TargetEvents)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Max Contexts:     %d\n", cfg.Browser.MaxContexts)
			fmt.Printf("  Context Age:      %s\n", cfg.Browser.MaxContextAge)
			fmt.Printf("  Nav Timeout:      %s\n", cfg.Browser.NavigationTimeout)
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Country:          %s\n", cfg.Proxy.Country)
			fmt.Printf("  Providers:        %d configured\n", len(cfg.Proxy.Providers()))
			fmt.Printf("\nSources:\n")
			fmt.Printf("  Odds API Key:     %s\n", setOrUnset(cfg.Sources.OddsAPIKey != ""))
			return nil
		},
	}
}

func databaseMode(cfg config.DatabaseConfig) string {
	switch {
	case cfg.URL != "":
		return "direct url"
	case cfg.SecretARN != "":
		return "secrets manager"
	default:
		return "unconfigured"
	}
}

func setOrUnset(set bool) string {
	if set {
		return "set"
	}
	return "unset"
}
