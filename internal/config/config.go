package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// Viper keys for the authorizer settings. No command-line flags are bound
// to them; they are read from the viper config file and, through the
// AutomaticEnv setup in cmd, from GRANTLY_* environment variables.
const (
	GrantsRefreshPeriodKey = "grants.refresh_period_seconds"
	GrantsRefreshPoolKey   = "grants.refresh_pool_size"
	GrantsMaxIdleKey       = "grants.max_idle_time_seconds"
	HTTPRetriesKey         = "http.retries"
	GCPeriodKey            = "grants.gc_period_seconds"
)

// Authorizer holds the tuning options of the grants cache.
type Authorizer struct {
	// GrantsRefreshPeriodSeconds is the background refresh cadence.
	// Zero disables background refresh entirely.
	GrantsRefreshPeriodSeconds int `yaml:"grants_refresh_period_seconds"`

	// GrantsRefreshPoolSize bounds the number of concurrent refresh
	// fetches per refresh run.
	GrantsRefreshPoolSize int `yaml:"grants_refresh_pool_size"`

	// GrantsMaxIdleTimeSeconds is how long a cache entry may go without
	// being consulted before it is skipped by refresh and evicted.
	GrantsMaxIdleTimeSeconds int `yaml:"grants_max_idle_time_seconds"`

	// HTTPRetries is the number of immediate retries after a failed
	// grants fetch (total attempts = HTTPRetries + 1).
	HTTPRetries int `yaml:"http_retries"`

	// GCPeriodSeconds is the cadence of the cache garbage collector.
	GCPeriodSeconds int `yaml:"gc_period_seconds"`
}

// Default returns the authorizer settings used when nothing is configured.
func Default() Authorizer {
	return Authorizer{
		GrantsRefreshPeriodSeconds: 60,
		GrantsRefreshPoolSize:      5,
		GrantsMaxIdleTimeSeconds:   300,
		HTTPRetries:                0,
		GCPeriodSeconds:            300,
	}
}

func (a *Authorizer) Validate() error {
	if a.GrantsRefreshPeriodSeconds < 0 {
		return fmt.Errorf("grants_refresh_period_seconds must be >= 0, got %d", a.GrantsRefreshPeriodSeconds)
	}
	if a.GrantsRefreshPoolSize < 1 {
		return fmt.Errorf("grants_refresh_pool_size must be >= 1, got %d", a.GrantsRefreshPoolSize)
	}
	if a.GrantsMaxIdleTimeSeconds <= 0 {
		return fmt.Errorf("grants_max_idle_time_seconds must be > 0, got %d", a.GrantsMaxIdleTimeSeconds)
	}
	if a.HTTPRetries < 0 {
		return fmt.Errorf("http_retries must be >= 0, got %d", a.HTTPRetries)
	}
	if a.GCPeriodSeconds <= 0 {
		return fmt.Errorf("gc_period_seconds must be > 0, got %d", a.GCPeriodSeconds)
	}
	return nil
}

// Load reads and validates an authorizer configuration file. Missing fields
// keep their defaults.
func Load(path string) (*Authorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

// FromViper assembles the authorizer settings from viper (config file and
// environment), falling back to defaults for unset keys.
func FromViper() (*Authorizer, error) {
	cfg := Default()
	if viper.IsSet(GrantsRefreshPeriodKey) {
		cfg.GrantsRefreshPeriodSeconds = viper.GetInt(GrantsRefreshPeriodKey)
	}
	if viper.IsSet(GrantsRefreshPoolKey) {
		cfg.GrantsRefreshPoolSize = viper.GetInt(GrantsRefreshPoolKey)
	}
	if viper.IsSet(GrantsMaxIdleKey) {
		cfg.GrantsMaxIdleTimeSeconds = viper.GetInt(GrantsMaxIdleKey)
	}
	if viper.IsSet(HTTPRetriesKey) {
		cfg.HTTPRetries = viper.GetInt(HTTPRetriesKey)
	}
	if viper.IsSet(GCPeriodKey) {
		cfg.GCPeriodSeconds = viper.GetInt(GCPeriodKey)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}
