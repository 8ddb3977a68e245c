// Package config loads the service configuration from a YAML file with
// environment-variable overrides. Every field has a default, so an empty
// or missing file yields a runnable (sqlite-backed) configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database selects the backing store.
type Database struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Definitions points at the asset definition feed.
type Definitions struct {
	Path string `mapstructure:"path"`
	// Watch re-runs discovery when the definitions file changes on disk.
	Watch bool `mapstructure:"watch"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen string `mapstructure:"listen"`
	// CacheTTL bounds the response cache on the list endpoints. Zero or
	// negative disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Jobs sets the cadence of the background maintenance jobs.
type Jobs struct {
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	AlertsInterval    time.Duration `mapstructure:"alerts_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBackoffFactor  int           `mapstructure:"max_backoff_factor"`
}

// Discovery tunes the miss-counting hysteresis.
type Discovery struct {
	StaleAfterMisses  int `mapstructure:"stale_after_misses"`
	RetireAfterMisses int `mapstructure:"retire_after_misses"`
}

// Health tunes the anomaly heuristics.
type Health struct {
	LookbackRuns        int           `mapstructure:"lookback_runs"`
	LookbackWindow      time.Duration `mapstructure:"lookback_window"`
	MissedRunMultiplier float64       `mapstructure:"missed_run_multiplier"`
	OverdueCriticalMult float64       `mapstructure:"overdue_critical_multiplier"`
	VolumeRatio         float64       `mapstructure:"volume_deviation_ratio"`
	TimingRatio         float64       `mapstructure:"timing_deviation_ratio"`
	MinSamples          int           `mapstructure:"min_samples"`
}

// Config is the full service configuration.
type Config struct {
	Database    Database    `mapstructure:"database"`
	Definitions Definitions `mapstructure:"definitions"`
	Server      Server      `mapstructure:"server"`
	Jobs        Jobs        `mapstructure:"jobs"`
	Discovery   Discovery   `mapstructure:"discovery"`
	Health      Health      `mapstructure:"health"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: "sqlite",
			DSN:    "pipewatch.db",
		},
		Definitions: Definitions{
			Path:  "assets.yaml",
			Watch: false,
		},
		Server: Server{
			Listen:   ":8080",
			CacheTTL: 30 * time.Second,
		},
		Jobs: Jobs{
			DiscoveryInterval: time.Hour,
			HealthInterval:    15 * time.Minute,
			AlertsInterval:    5 * time.Minute,
			Timeout:           10 * time.Minute,
			MaxBackoffFactor:  5,
		},
		Discovery: Discovery{
			StaleAfterMisses:  3,
			RetireAfterMisses: 10,
		},
		Health: Health{
			LookbackRuns:        10,
			LookbackWindow:      24 * time.Hour,
			MissedRunMultiplier: 2,
			OverdueCriticalMult: 4,
			VolumeRatio:         0.5,
			TimingRatio:         1.0,
			MinSamples:          3,
		},
	}
}

// Load reads the configuration from path. An empty path loads defaults
// plus environment overrides (PIPEWATCH_ prefix, dots become
// underscores, e.g. PIPEWATCH_DATABASE_DSN).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, Default())

	v.SetEnvPrefix("pipewatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("definitions.path", d.Definitions.Path)
	v.SetDefault("definitions.watch", d.Definitions.Watch)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.cache_ttl", d.Server.CacheTTL)
	v.SetDefault("jobs.discovery_interval", d.Jobs.DiscoveryInterval)
	v.SetDefault("jobs.health_interval", d.Jobs.HealthInterval)
	v.SetDefault("jobs.alerts_interval", d.Jobs.AlertsInterval)
	v.SetDefault("jobs.timeout", d.Jobs.Timeout)
	v.SetDefault("jobs.max_backoff_factor", d.Jobs.MaxBackoffFactor)
	v.SetDefault("discovery.stale_after_misses", d.Discovery.StaleAfterMisses)
	v.SetDefault("discovery.retire_after_misses", d.Discovery.RetireAfterMisses)
	v.SetDefault("health.lookback_runs", d.Health.LookbackRuns)
	v.SetDefault("health.lookback_window", d.Health.LookbackWindow)
	v.SetDefault("health.missed_run_multiplier", d.Health.MissedRunMultiplier)
	v.SetDefault("health.overdue_critical_multiplier", d.Health.OverdueCriticalMult)
	v.SetDefault("health.volume_deviation_ratio", d.Health.VolumeRatio)
	v.SetDefault("health.timing_deviation_ratio", d.Health.TimingRatio)
	v.SetDefault("health.min_samples", d.Health.MinSamples)
}

// Validate checks the configuration for values that would misbehave at
// runtime and collects every problem into one error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf(
			"database.driver %q is invalid, must be one of: sqlite, postgres, mysql", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn must not be empty")
	}
	if c.Definitions.Path == "" {
		errs = append(errs, "definitions.path must not be empty")
	}
	if c.Jobs.DiscoveryInterval <= 0 {
		errs = append(errs, "jobs.discovery_interval must be positive")
	}
	if c.Jobs.HealthInterval <= 0 {
		errs = append(errs, "jobs.health_interval must be positive")
	}
	if c.Jobs.AlertsInterval <= 0 {
		errs = append(errs, "jobs.alerts_interval must be positive")
	}
	if c.Jobs.MaxBackoffFactor <= 0 {
		errs = append(errs, "jobs.max_backoff_factor must be positive")
	}
	if c.Discovery.StaleAfterMisses <= 0 {
		errs = append(errs, "discovery.stale_after_misses must be positive")
	}
	if c.Discovery.RetireAfterMisses <= c.Discovery.StaleAfterMisses {
		errs = append(errs, fmt.Sprintf(
			"discovery.retire_after_misses (%d) must exceed stale_after_misses (%d)",
			c.Discovery.RetireAfterMisses, c.Discovery.StaleAfterMisses))
	}
	if c.Health.MinSamples < 2 {
		errs = append(errs, "health.min_samples must be at least 2")
	}
	if c.Health.VolumeRatio <= 0 || c.Health.VolumeRatio >= 1 {
		errs = append(errs, "health.volume_deviation_ratio must be in (0, 1)")
	}
	if c.Health.TimingRatio <= 0 {
		errs = append(errs, "health.timing_deviation_ratio must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
