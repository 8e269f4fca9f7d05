// Package config defines the configuration surface for the gateway
// request-filter pipeline. All recognized options are enumerated here
// with explicit defaults; the resulting Config value is immutable once
// constructed and passed to components at wiring time.
package config

import (
	"fmt"
	"time"
)

// Minimum symmetric signing secret length in bytes (256 bits).
const MinSecretBytes = 32

// Default values for recognized options.
const (
	DefaultClockSkewSeconds       = 30
	DefaultCacheFallbackTTLMins   = 5
	DefaultCacheMaxEntries        = 10000
	DefaultSlowRequestThresholdMS = 1000
	DefaultFallbackAuthHeader     = "X-Auth-Token"
	DefaultServerAddr             = ":8080"
)

// Config is the root configuration for the pipeline.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	JWT       JWTConfig       `yaml:"jwt" json:"jwt"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// JWTConfig holds token validation and claims cache settings.
type JWTConfig struct {
	// Secret is the pre-shared symmetric signing key. Required, >=256-bit.
	Secret string `yaml:"secret" json:"secret"`

	// ClockSkewSeconds is the tolerance applied to exp/iat/nbf comparisons.
	ClockSkewSeconds int `yaml:"clockSkewSeconds" json:"clockSkewSeconds"`

	// FallbackHeader is consulted when the Authorization header is absent.
	FallbackHeader string `yaml:"fallbackHeader" json:"fallbackHeader"`

	Cache ClaimsCacheConfig `yaml:"cache" json:"cache"`
}

// ClaimsCacheConfig holds claims cache settings.
type ClaimsCacheConfig struct {
	// MaxEntries bounds the cache size; LRU eviction applies above it.
	MaxEntries int `yaml:"maxEntries" json:"maxEntries"`

	// FallbackTTLMinutes is the entry lifetime for tokens without an
	// exp claim.
	FallbackTTLMinutes int `yaml:"fallbackTTLMinutes" json:"fallbackTTLMinutes"`
}

// PathsConfig holds path classification lists.
type PathsConfig struct {
	// PublicPrefixes bypass authentication entirely.
	PublicPrefixes []string `yaml:"publicPrefixes" json:"publicPrefixes"`

	// AdminPrefixes require the ROLE_ADMIN role.
	AdminPrefixes []string `yaml:"adminPrefixes" json:"adminPrefixes"`
}

// RateLimitConfig holds key resolution and bucket settings.
type RateLimitConfig struct {
	// Strategy selects the key resolver: api-key-first, user-first,
	// device-first, or ip-only.
	Strategy string `yaml:"strategy" json:"strategy"`

	// Profile selects the active limiter profile by name.
	Profile string `yaml:"profile" json:"profile"`

	// Profiles are named token-bucket parameter sets.
	Profiles map[string]LimiterProfile `yaml:"profiles" json:"profiles"`

	// Redis enables the distributed limiter backend when set.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// LimiterProfile holds token-bucket parameters for one named profile.
type LimiterProfile struct {
	// ReplenishRate is the number of tokens added per second.
	ReplenishRate int `yaml:"replenishRate" json:"replenishRate"`

	// BurstCapacity is the maximum bucket size.
	BurstCapacity int `yaml:"burstCapacity" json:"burstCapacity"`

	// RequestedTokens is the cost of a single request.
	RequestedTokens int `yaml:"requestedTokens" json:"requestedTokens"`
}

// RedisConfig holds Redis connection settings for the distributed limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// MetricsConfig holds metrics recorder settings.
type MetricsConfig struct {
	// SlowRequestThresholdMillis flags requests slower than this for
	// diagnostic logging.
	SlowRequestThresholdMillis int `yaml:"slowRequestThresholdMillis" json:"slowRequestThresholdMillis"`
}

// Default returns a Config with every option set to its default value.
// The JWT secret has no default and must be provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		JWT: JWTConfig{
			ClockSkewSeconds: DefaultClockSkewSeconds,
			FallbackHeader:   DefaultFallbackAuthHeader,
			Cache: ClaimsCacheConfig{
				MaxEntries:         DefaultCacheMaxEntries,
				FallbackTTLMinutes: DefaultCacheFallbackTTLMins,
			},
		},
		Paths: PathsConfig{
			PublicPrefixes: []string{
				"/api/v1/public/",
				"/health",
				"/internal/status",
				"/internal/metrics",
				"/favicon.ico",
				"/static/",
			},
			AdminPrefixes: []string{
				"/api/v1/admin/",
				"/internal/",
			},
		},
		RateLimit: RateLimitConfig{
			Strategy: "api-key-first",
			Profile:  "default",
			Profiles: map[string]LimiterProfile{
				"default": {
					ReplenishRate:   1000,
					BurstCapacity:   2000,
					RequestedTokens: 1,
				},
				"strict": {
					ReplenishRate:   100,
					BurstCapacity:   200,
					RequestedTokens: 1,
				},
				"high-volume": {
					ReplenishRate:   5000,
					BurstCapacity:   10000,
					RequestedTokens: 1,
				},
			},
		},
		Metrics: MetricsConfig{
			SlowRequestThresholdMillis: DefaultSlowRequestThresholdMS,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < MinSecretBytes {
		return fmt.Errorf("jwt.secret must be at least %d bytes, got %d",
			MinSecretBytes, len(c.JWT.Secret))
	}
	if c.JWT.ClockSkewSeconds < 0 {
		return fmt.Errorf("jwt.clockSkewSeconds must not be negative")
	}
	if c.JWT.Cache.MaxEntries <= 0 {
		return fmt.Errorf("jwt.cache.maxEntries must be positive")
	}
	if c.JWT.Cache.FallbackTTLMinutes <= 0 {
		return fmt.Errorf("jwt.cache.fallbackTTLMinutes must be positive")
	}
	switch c.RateLimit.Strategy {
	case "api-key-first", "user-first", "device-first", "ip-only":
	default:
		return fmt.Errorf("rateLimit.strategy %q is not recognized", c.RateLimit.Strategy)
	}
	if _, ok := c.RateLimit.Profiles[c.RateLimit.Profile]; !ok {
		return fmt.Errorf("rateLimit.profile %q has no profile definition", c.RateLimit.Profile)
	}
	for name, p := range c.RateLimit.Profiles {
		if p.ReplenishRate <= 0 || p.BurstCapacity <= 0 {
			return fmt.Errorf("rateLimit.profiles.%s: replenishRate and burstCapacity must be positive", name)
		}
		if p.RequestedTokens <= 0 {
			return fmt.Errorf("rateLimit.profiles.%s: requestedTokens must be positive", name)
		}
	}
	if c.Metrics.SlowRequestThresholdMillis <= 0 {
		return fmt.Errorf("metrics.slowRequestThresholdMillis must be positive")
	}
	return nil
}

// ClockSkew returns the clock skew tolerance as a duration.
func (c *JWTConfig) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// FallbackTTL returns the cache fallback TTL as a duration.
func (c *ClaimsCacheConfig) FallbackTTL() time.Duration {
	return time.Duration(c.FallbackTTLMinutes) * time.Minute
}

// SlowRequestThreshold returns the slow-request threshold as a duration.
func (c *MetricsConfig) SlowRequestThreshold() time.Duration {
	return time.Duration(c.SlowRequestThresholdMillis) * time.Millisecond
}
