// Package config provides configuration management for the reconciliation
// service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Matcher defaults. These are empirical tunables carried over from
// production reconciliation runs; they are configuration, not invariants.
const (
	defaultSameSecondWindow     = time.Second
	defaultSameMinuteWindow     = time.Minute
	defaultRapidExecutionWindow = 5 * time.Minute
	defaultSameSessionWindow    = time.Hour
	defaultSameDayWindow        = 24 * time.Hour
	defaultRollFusionWindow     = 8 * time.Hour

	defaultClosingMatchThreshold = 0.7
	defaultStaleCloseDiscount    = 0.5 // applied past staleCloseAfter
	defaultAgingCloseDiscount    = 0.8 // applied past agingCloseAfter
	defaultUnparsableDiscount    = 0.7 // applied when timestamps cannot be parsed

	defaultStaleCloseAfter = 7 * 24 * time.Hour
	defaultAgingCloseAfter = 3 * 24 * time.Hour

	defaultExchangeTimezone = "America/New_York"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Feed        FeedConfig        `yaml:"feed"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// MatcherConfig holds the matching engine tunables. All durations are
// YAML duration strings ("1s", "5m", "24h").
type MatcherConfig struct {
	// Timing-grouper windows, chosen by current group composition.
	SameSecondWindow     Duration `yaml:"same_second_window"`
	SameMinuteWindow     Duration `yaml:"same_minute_window"`
	RapidExecutionWindow Duration `yaml:"rapid_execution_window"`
	SameSessionWindow    Duration `yaml:"same_session_window"`
	SameDayWindow        Duration `yaml:"same_day_window"`

	// Cross-order closing matcher scoring.
	ClosingMatchThreshold float64  `yaml:"closing_match_threshold"`
	StaleCloseDiscount    float64  `yaml:"stale_close_discount"`
	AgingCloseDiscount    float64  `yaml:"aging_close_discount"`
	UnparsableDiscount    float64  `yaml:"unparsable_discount"`
	StaleCloseAfter       Duration `yaml:"stale_close_after"`
	AgingCloseAfter       Duration `yaml:"aging_close_after"`

	// Same-day roll fusion window.
	RollFusionWindow Duration `yaml:"roll_fusion_window"`

	// ExchangeTimezone normalizes timestamps for same-trading-day decisions.
	ExchangeTimezone string `yaml:"exchange_timezone"`
}

// FeedConfig defines the brokerage transaction feed settings.
type FeedConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	APIToken  string   `yaml:"api_token"`
	Accounts  []string `yaml:"accounts"`
	Timeout   Duration `yaml:"timeout"`
	PageLimit int      `yaml:"page_limit"`
}

// StorageConfig defines storage settings for reconciliation results.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only results server settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Duration wraps time.Duration for YAML duration strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns a Config with every matcher tunable at its default.
// Used when running without a config file and by tests.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	m := &c.Matcher
	if m.SameSecondWindow == 0 {
		m.SameSecondWindow = Duration(defaultSameSecondWindow)
	}
	if m.SameMinuteWindow == 0 {
		m.SameMinuteWindow = Duration(defaultSameMinuteWindow)
	}
	if m.RapidExecutionWindow == 0 {
		m.RapidExecutionWindow = Duration(defaultRapidExecutionWindow)
	}
	if m.SameSessionWindow == 0 {
		m.SameSessionWindow = Duration(defaultSameSessionWindow)
	}
	if m.SameDayWindow == 0 {
		m.SameDayWindow = Duration(defaultSameDayWindow)
	}
	if m.RollFusionWindow == 0 {
		m.RollFusionWindow = Duration(defaultRollFusionWindow)
	}
	if m.ClosingMatchThreshold == 0 {
		m.ClosingMatchThreshold = defaultClosingMatchThreshold
	}
	if m.StaleCloseDiscount == 0 {
		m.StaleCloseDiscount = defaultStaleCloseDiscount
	}
	if m.AgingCloseDiscount == 0 {
		m.AgingCloseDiscount = defaultAgingCloseDiscount
	}
	if m.UnparsableDiscount == 0 {
		m.UnparsableDiscount = defaultUnparsableDiscount
	}
	if m.StaleCloseAfter == 0 {
		m.StaleCloseAfter = Duration(defaultStaleCloseAfter)
	}
	if m.AgingCloseAfter == 0 {
		m.AgingCloseAfter = Duration(defaultAgingCloseAfter)
	}
	if m.ExchangeTimezone == "" {
		m.ExchangeTimezone = defaultExchangeTimezone
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = Duration(30 * time.Second)
	}
	if c.Feed.PageLimit == 0 {
		c.Feed.PageLimit = 250
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn, or error")
	}

	m := c.Matcher
	if m.SameSecondWindow <= 0 || m.SameMinuteWindow <= 0 || m.RapidExecutionWindow <= 0 ||
		m.SameSessionWindow <= 0 || m.SameDayWindow <= 0 {
		return fmt.Errorf("matcher timing windows must all be > 0")
	}
	if m.SameSecondWindow > m.SameMinuteWindow ||
		m.SameMinuteWindow > m.RapidExecutionWindow ||
		m.RapidExecutionWindow > m.SameSessionWindow ||
		m.SameSessionWindow > m.SameDayWindow {
		return fmt.Errorf("matcher timing windows must be ordered second <= minute <= rapid <= session <= day")
	}
	if m.ClosingMatchThreshold <= 0 || m.ClosingMatchThreshold > 1 {
		return fmt.Errorf("matcher.closing_match_threshold must be in (0,1]")
	}
	for name, d := range map[string]float64{
		"matcher.stale_close_discount": m.StaleCloseDiscount,
		"matcher.aging_close_discount": m.AgingCloseDiscount,
		"matcher.unparsable_discount":  m.UnparsableDiscount,
	} {
		if d <= 0 || d > 1 {
			return fmt.Errorf("%s must be in (0,1]", name)
		}
	}
	if m.AgingCloseAfter >= m.StaleCloseAfter {
		return fmt.Errorf("matcher.aging_close_after (%s) must be < matcher.stale_close_after (%s)",
			m.AgingCloseAfter.Std(), m.StaleCloseAfter.Std())
	}
	if m.RollFusionWindow <= 0 {
		return fmt.Errorf("matcher.roll_fusion_window must be > 0")
	}
	if _, err := time.LoadLocation(m.ExchangeTimezone); err != nil {
		return fmt.Errorf("matcher.exchange_timezone invalid: %w", err)
	}

	if c.Feed.Endpoint != "" {
		if c.Feed.APIToken == "" {
			return fmt.Errorf("feed.api_token is required when feed.endpoint is set")
		}
		if len(c.Feed.Accounts) == 0 {
			return fmt.Errorf("feed.accounts is required when feed.endpoint is set")
		}
	}
	if c.Feed.PageLimit <= 0 {
		return fmt.Errorf("feed.page_limit must be > 0")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}

	return nil
}

// ExchangeLocation loads the configured exchange timezone, falling back to
// a DST-agnostic Eastern zone for minimal containers.
func (c *Config) ExchangeLocation() *time.Location {
	loc, err := time.LoadLocation(c.Matcher.ExchangeTimezone)
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}
