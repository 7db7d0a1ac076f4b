package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variable names that are
// part of the deployment contract. These names are fixed; renaming them
// breaks the infra templates.
var envBindings = map[string]string{
	"database.url":               "DATABASE_URL",
	"database.resource_arn":      "DATABASE_RESOURCE_ARN",
	"database.secret_arn":        "DATABASE_SECRET_ARN",
	"queue.settlement_url":       "SETTLEMENT_QUEUE_URL",
	"proxy.country":              "PROXY_COUNTRY",
	"proxy.dataimpulse_username": "DATAIMPULSE_USERNAME",
	"proxy.dataimpulse_password": "DATAIMPULSE_PASSWORD",
	"proxy.iproyal_username":     "IPROYAL_USERNAME",
	"proxy.iproyal_password":     "IPROYAL_PASSWORD",
	"scheduler.enable_cron":      "ENABLE_CRON",
	"sources.odds_api_key":       "ODDS_API_KEY",
}

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// Generic SCRAPER_* overrides plus the fixed contract names.
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("scraper")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)

	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)

	v.SetDefault("proxy.country", cfg.Proxy.Country)

	v.SetDefault("browser.max_contexts", cfg.Browser.MaxContexts)
	v.SetDefault("browser.max_context_age", cfg.Browser.MaxContextAge)
	v.SetDefault("browser.max_context_requests", cfg.Browser.MaxContextRequests)
	v.SetDefault("browser.max_context_failures", cfg.Browser.MaxContextFailures)
	v.SetDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
	v.SetDefault("browser.js_heavy_timeout", cfg.Browser.JSHeavyTimeout)
	v.SetDefault("browser.launch_attempts", cfg.Browser.LaunchAttempts)

	v.SetDefault("ratelimit.min_spacing", cfg.RateLimit.MinSpacing)
	v.SetDefault("ratelimit.cooldown_base", cfg.RateLimit.CooldownBase)
	v.SetDefault("ratelimit.cooldown_max", cfg.RateLimit.CooldownMax)

	v.SetDefault("scheduler.enable_cron", cfg.Scheduler.EnableCron)
	v.SetDefault("scheduler.fixtures_spec", cfg.Scheduler.FixturesSpec)
	v.SetDefault("scheduler.live_scores_spec", cfg.Scheduler.LiveScoresSpec)
	v.SetDefault("scheduler.transition_spec", cfg.Scheduler.TransitionSpec)
	v.SetDefault("scheduler.rotation_spec", cfg.Scheduler.RotationSpec)
	v.SetDefault("scheduler.timezone", cfg.Scheduler.Timezone)

	v.SetDefault("jobs.fixtures_timeout", cfg.Jobs.FixturesTimeout)
	v.SetDefault("jobs.odds_timeout", cfg.Jobs.OddsTimeout)
	v.SetDefault("jobs.live_scores_timeout", cfg.Jobs.LiveScoresTimeout)
	v.SetDefault("jobs.transition_timeout", cfg.Jobs.TransitionTimeout)
	v.SetDefault("jobs.drain_timeout", cfg.Jobs.DrainTimeout)
	v.SetDefault("jobs.max_retries", cfg.Jobs.MaxRetries)
	v.SetDefault("jobs.retry_delay", cfg.Jobs.RetryDelay)
	v.SetDefault("jobs.fixture_window", cfg.Jobs.FixtureWindow)
	v.SetDefault("jobs.odds_window", cfg.Jobs.OddsWindow)
	v.SetDefault("jobs.target_events", cfg.Jobs.TargetEvents)
	v.SetDefault("jobs.sports", cfg.Jobs.Sports)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
