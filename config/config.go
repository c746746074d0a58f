// Package config provides configuration loading for QuotaGuard: quota
// rules and backoff parameters per provider, limiter tuning, state store
// selection, and logging. Values come from an optional YAML file with
// environment overrides under the QUOTAGUARD_ prefix.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quotaguard/quotaguard/core"
	"github.com/quotaguard/quotaguard/core/engine"
)

// Config is the complete application configuration.
type Config struct {
	Logging   LoggingConfig             `mapstructure:"logging"`
	Store     StoreConfig               `mapstructure:"store"`
	Limiter   LimiterConfig             `mapstructure:"limiter"`
	Backoff   BackoffConfig             `mapstructure:"backoff"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Server    ServerConfig              `mapstructure:"server"`
}

// LoggingConfig controls log verbosity and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects and configures the limiter state store.
type StoreConfig struct {
	// Driver is one of memory, libsql, redis.
	Driver    string      `mapstructure:"driver"`
	Path      string      `mapstructure:"path"`
	URL       string      `mapstructure:"url"`
	AuthToken string      `mapstructure:"auth_token"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis state store used for cross-process
// deployments.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LimiterConfig tunes the admission engine.
type LimiterConfig struct {
	// MaxWait bounds how long one acquire may block. Zero leaves the
	// caller's context deadline as the only bound.
	MaxWait time.Duration `mapstructure:"max_wait"`
	// PollInterval is the base poll while waiting on a concurrency slot.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BackoffConfig carries the recognized retry/backoff options.
type BackoffConfig struct {
	Strategy   string        `mapstructure:"strategy"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
	Jitter     bool          `mapstructure:"jitter"`
	JitterType string        `mapstructure:"jitter_type"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Step       time.Duration `mapstructure:"step"`
}

// StrategyConfig converts to the engine's strategy options.
func (b BackoffConfig) StrategyConfig() engine.StrategyConfig {
	return engine.StrategyConfig{
		Strategy:   b.Strategy,
		MaxDelay:   b.MaxDelay,
		MaxRetries: b.MaxRetries,
		Jitter:     b.Jitter,
		JitterType: engine.JitterType(strings.ToLower(strings.TrimSpace(b.JitterType))),
		BaseDelay:  b.BaseDelay,
		Multiplier: b.Multiplier,
		Step:       b.Step,
	}
}

// ProviderConfig configures one remote provider.
type ProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	// APIKeyEnv names an environment variable to read the key from when
	// no literal key is set.
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
	// Backoff overrides the top-level backoff for this provider.
	Backoff *BackoffConfig `mapstructure:"backoff"`
	// Resources maps a resource key (usually a model name) to explicit
	// rules, overriding the adapter's built-in defaults.
	Resources map[string][]RuleConfig `mapstructure:"resources"`
}

// ResolveAPIKey returns the literal key or the value of APIKeyEnv.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// RuleConfig is the configuration shape of one rate limit rule.
type RuleConfig struct {
	Kind         string        `mapstructure:"kind"`
	Limit        float64       `mapstructure:"limit"`
	Window       time.Duration `mapstructure:"window"`
	SafetyMargin float64       `mapstructure:"safety_margin"`
}

// Rule converts to a validated core rule.
func (r RuleConfig) Rule() (core.RateLimitRule, error) {
	rule := core.RateLimitRule{
		Kind:         core.RuleKind(strings.ToLower(strings.TrimSpace(r.Kind))),
		Limit:        r.Limit,
		Window:       r.Window,
		SafetyMargin: r.SafetyMargin,
	}
	if err := rule.Validate(); err != nil {
		return core.RateLimitRule{}, err
	}
	return rule, nil
}

// Rules converts a resource's rule list, failing on the first invalid one.
func Rules(configs []RuleConfig) ([]core.RateLimitRule, error) {
	rules := make([]core.RateLimitRule, 0, len(configs))
	for i, rc := range configs {
		rule, err := rc.Rule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ServerConfig configures the optional introspection HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
