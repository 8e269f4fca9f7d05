package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader. Values set in
// the environment override both defaults and file values.
const (
	EnvJWTSecret  = "GATEWAY_JWT_SECRET"
	EnvServerAddr = "GATEWAY_SERVER_ADDR"
	EnvLogLevel   = "GATEWAY_LOG_LEVEL"
	EnvLogFormat  = "GATEWAY_LOG_FORMAT"
	EnvRedisAddr  = "GATEWAY_REDIS_ADDR"
	EnvClockSkew  = "GATEWAY_JWT_CLOCK_SKEW_SECONDS"
)

// Load reads configuration from the given YAML file, applies
// environment overrides, and validates the result. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies recognized environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		if cfg.RateLimit.Redis == nil {
			cfg.RateLimit.Redis = &RedisConfig{}
		}
		cfg.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv(EnvClockSkew); v != "" {
		skew, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvClockSkew, v, err)
		}
		cfg.JWT.ClockSkewSeconds = skew
	}
	return nil
}
