package llmrouter

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/llm-router/internal/scoring"
	"github.com/ferro-labs/llm-router/providers"
)

// Config is the top-level router configuration.
type Config struct {
	Server    ServerConfig         `json:"server" yaml:"server"`
	Providers []providers.Provider `json:"providers" yaml:"providers"`
	Channels  []providers.Channel  `json:"channels" yaml:"channels"`
	Routing   RoutingConfig        `json:"routing,omitempty" yaml:"routing,omitempty"`
	Scheduler SchedulerConfig      `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	// CacheDir is where snapshots and health files are persisted. Empty
	// disables persistence.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	// KeyStore configures caller-key storage for ingress auth.
	KeyStore KeyStoreConfig `json:"key_store,omitempty" yaml:"key_store,omitempty"`
}

// ServerConfig holds the HTTP ingress settings.
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	// RequestTimeout is the end-to-end budget per request.
	RequestTimeout Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// ConnectTimeout bounds each upstream dial.
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	EnableCORS     bool     `json:"enable_cors,omitempty" yaml:"enable_cors,omitempty"`
	// RateLimit throttles callers; zero disables it.
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimitConfig is the caller token-bucket setting.
type RateLimitConfig struct {
	PerSecond float64 `json:"per_second,omitempty" yaml:"per_second,omitempty"`
	Burst     float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// RoutingConfig tunes the routing core.
type RoutingConfig struct {
	// DefaultStrategy names the preset used when a request carries none.
	DefaultStrategy string `json:"default_strategy,omitempty" yaml:"default_strategy,omitempty"`
	// MaxRetryAttempts bounds dispatch failover.
	MaxRetryAttempts int `json:"max_retry_attempts,omitempty" yaml:"max_retry_attempts,omitempty"`
	// HealthThreshold drops channels scoring below it at filter time.
	HealthThreshold float64 `json:"health_threshold,omitempty" yaml:"health_threshold,omitempty"`
	CacheTTL        Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	CacheSize       int      `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
	// ModelAliases rewrites virtual model names before discovery, on top of
	// any per-channel aliases.
	ModelAliases map[string]string `json:"model_aliases,omitempty" yaml:"model_aliases,omitempty"`
	// Strategies defines named strategies beyond the presets. A name that
	// shadows a preset is a config error.
	Strategies []scoring.Strategy `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	// Referer and Title feed openrouter attribution headers.
	Referer string `json:"referer,omitempty" yaml:"referer,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
}

// SchedulerConfig tunes the periodic tasks.
type SchedulerConfig struct {
	Concurrency int64 `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// Disabled lists task names that are never registered.
	Disabled              []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	DiscoveryInterval     Duration `json:"discovery_interval,omitempty" yaml:"discovery_interval,omitempty"`
	PricingInterval       Duration `json:"pricing_interval,omitempty" yaml:"pricing_interval,omitempty"`
	HealthInterval        Duration `json:"health_interval,omitempty" yaml:"health_interval,omitempty"`
	KeyValidationInterval Duration `json:"key_validation_interval,omitempty" yaml:"key_validation_interval,omitempty"`
	CleanupInterval       Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
}

// KeyStoreConfig selects the caller-key backend: "" (auth disabled),
// "memory", "sqlite", or "postgres".
type KeyStoreConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Default timeouts and intervals.
const (
	DefaultAddr           = ":8080"
	DefaultRequestTimeout = 300 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	DefaultDiscoveryInterval     = 6 * time.Hour
	DefaultPricingInterval       = 12 * time.Hour
	DefaultHealthInterval        = 30 * time.Minute
	DefaultKeyValidationInterval = 6 * time.Hour
	DefaultCleanupInterval       = 24 * time.Hour

	DefaultHealthThreshold = 0.3
)

// withDefaults fills unset fields in place.
func (c *Config) withDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.Routing.DefaultStrategy == "" {
		c.Routing.DefaultStrategy = "balanced"
	}
	if c.Routing.MaxRetryAttempts == 0 {
		c.Routing.MaxRetryAttempts = 3
	}
	if c.Routing.HealthThreshold == 0 {
		c.Routing.HealthThreshold = DefaultHealthThreshold
	}
	if c.Scheduler.DiscoveryInterval == 0 {
		c.Scheduler.DiscoveryInterval = Duration(DefaultDiscoveryInterval)
	}
	if c.Scheduler.PricingInterval == 0 {
		c.Scheduler.PricingInterval = Duration(DefaultPricingInterval)
	}
	if c.Scheduler.HealthInterval == 0 {
		c.Scheduler.HealthInterval = Duration(DefaultHealthInterval)
	}
	if c.Scheduler.KeyValidationInterval == 0 {
		c.Scheduler.KeyValidationInterval = Duration(DefaultKeyValidationInterval)
	}
	if c.Scheduler.CleanupInterval == 0 {
		c.Scheduler.CleanupInterval = Duration(DefaultCleanupInterval)
	}
}

// Duration is a time.Duration that unmarshals from "30s" / "6h" strings in
// both YAML and JSON.
type Duration time.Duration

// D converts to time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
