package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quotaguard/quotaguard/core/engine"
)

// Load reads configuration from the given file path (optional; a missing
// default file is not an error), applies defaults, environment overrides
// (QUOTAGUARD_ prefix, dots replaced by underscores), and validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("QUOTAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("quotaguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/quotaguard")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "quotaguard.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.ttl", "24h")

	v.SetDefault("limiter.max_wait", "2m")
	v.SetDefault("limiter.poll_interval", "25ms")

	v.SetDefault("backoff.strategy", "fibonacci")
	v.SetDefault("backoff.max_delay", "5m")
	v.SetDefault("backoff.max_retries", 3)
	v.SetDefault("backoff.jitter", true)
	v.SetDefault("backoff.jitter_type", "equal")
	v.SetDefault("backoff.base_delay", "1s")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8750)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Validate checks cross-field constraints that mapstructure cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory", "libsql", "redis":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	if _, err := engine.NewStrategy(c.Backoff.StrategyConfig()); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}

	for id, pc := range c.Providers {
		if pc.Backoff != nil {
			if _, err := engine.NewStrategy(pc.Backoff.StrategyConfig()); err != nil {
				return fmt.Errorf("provider %s backoff: %w", id, err)
			}
		}
		for resource, ruleConfigs := range pc.Resources {
			if _, err := Rules(ruleConfigs); err != nil {
				return fmt.Errorf("provider %s resource %s: %w", id, resource, err)
			}
		}
	}
	return nil
}
