package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for invalid values. A validation error
// is fatal at startup (exit code 1).
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}

	if cfg.Database.URL == "" {
		if cfg.Database.ResourceARN == "" || cfg.Database.SecretARN == "" {
			return fmt.Errorf("either DATABASE_URL or both DATABASE_RESOURCE_ARN and DATABASE_SECRET_ARN must be set")
		}
	}
	if cfg.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout must be > 0")
	}
	if cfg.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1, got %d", cfg.Database.MaxConns)
	}

	if cfg.Browser.MaxContexts < 1 || cfg.Browser.MaxContexts > 3 {
		return fmt.Errorf("browser.max_contexts must be 1-3, got %d", cfg.Browser.MaxContexts)
	}
	if cfg.Browser.MaxContextAge <= 0 {
		return fmt.Errorf("browser.max_context_age must be > 0")
	}
	if cfg.Browser.MaxContextRequests < 1 {
		return fmt.Errorf("browser.max_context_requests must be >= 1")
	}
	if cfg.Browser.MaxContextFailures < 1 {
		return fmt.Errorf("browser.max_context_failures must be >= 1")
	}
	if cfg.Browser.LaunchAttempts < 1 {
		return fmt.Errorf("browser.launch_attempts must be >= 1")
	}

	if cfg.RateLimit.MinSpacing < 0 {
		return fmt.Errorf("ratelimit.min_spacing must be >= 0")
	}
	if cfg.RateLimit.CooldownBase <= 0 || cfg.RateLimit.CooldownMax < cfg.RateLimit.CooldownBase {
		return fmt.Errorf("ratelimit cooldown bounds invalid: base=%s max=%s",
			cfg.RateLimit.CooldownBase, cfg.RateLimit.CooldownMax)
	}

	for name, spec := range map[string]string{
		"scheduler.fixtures_spec":    cfg.Scheduler.FixturesSpec,
		"scheduler.live_scores_spec": cfg.Scheduler.LiveScoresSpec,
		"scheduler.transition_spec":  cfg.Scheduler.TransitionSpec,
		"scheduler.rotation_spec":    cfg.Scheduler.RotationSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: invalid cron spec %q: %w", name, spec, err)
		}
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}

	if cfg.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must be >= 0, got %d", cfg.Jobs.MaxRetries)
	}
	if cfg.Jobs.TargetEvents < 1 {
		return fmt.Errorf("jobs.target_events must be >= 1")
	}
	if len(cfg.Jobs.Sports) == 0 {
		return fmt.Errorf("jobs.sports must not be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}
