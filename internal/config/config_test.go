package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSecret is a 32-byte secret for validation tests.
const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30, cfg.JWT.ClockSkewSeconds)
	assert.Equal(t, "X-Auth-Token", cfg.JWT.FallbackHeader)
	assert.Equal(t, 10000, cfg.JWT.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.JWT.Cache.FallbackTTLMinutes)
	assert.Equal(t, 1000, cfg.Metrics.SlowRequestThresholdMillis)
	assert.Contains(t, cfg.Paths.PublicPrefixes, "/health")
	assert.Contains(t, cfg.Paths.AdminPrefixes, "/api/v1/admin/")

	// The three named limiter profiles from the rate-limit surface.
	require.Len(t, cfg.RateLimit.Profiles, 3)
	assert.Equal(t, 1000, cfg.RateLimit.Profiles["default"].ReplenishRate)
	assert.Equal(t, 200, cfg.RateLimit.Profiles["strict"].BurstCapacity)
	assert.Equal(t, 5000, cfg.RateLimit.Profiles["high-volume"].ReplenishRate)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.JWT.Secret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name: "short secret",
			mutate: func(c *Config) {
				c.JWT.Secret = "too-short"
			},
			wantErr: "jwt.secret",
		},
		{
			name: "negative clock skew",
			mutate: func(c *Config) {
				c.JWT.ClockSkewSeconds = -1
			},
			wantErr: "clockSkewSeconds",
		},
		{
			name: "zero cache size",
			mutate: func(c *Config) {
				c.JWT.Cache.MaxEntries = 0
			},
			wantErr: "maxEntries",
		},
		{
			name: "unknown strategy",
			mutate: func(c *Config) {
				c.RateLimit.Strategy = "round-robin"
			},
			wantErr: "strategy",
		},
		{
			name: "missing profile definition",
			mutate: func(c *Config) {
				c.RateLimit.Profile = "unlisted"
			},
			wantErr: "profile",
		},
		{
			name: "zero replenish rate",
			mutate: func(c *Config) {
				c.RateLimit.Profiles["default"] = LimiterProfile{BurstCapacity: 1, RequestedTokens: 1}
			},
			wantErr: "replenishRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.JWT.ClockSkew())
	assert.Equal(t, 5*time.Minute, cfg.JWT.Cache.FallbackTTL())
	assert.Equal(t, time.Second, cfg.Metrics.SlowRequestThreshold())
}

func TestLoad_File(t *testing.T) {
	content := strings.Join([]string{
		"jwt:",
		"  secret: " + testSecret,
		"  clockSkewSeconds: 10",
		"server:",
		"  addr: :9090",
		"rateLimit:",
		"  strategy: user-first",
		"  profile: strict",
		"  profiles:",
		"    strict:",
		"      replenishRate: 100",
		"      burstCapacity: 200",
		"      requestedTokens: 1",
	}, "\n")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.JWT.ClockSkewSeconds)
	assert.Equal(t, "user-first", cfg.RateLimit.Strategy)
	assert.Equal(t, "strict", cfg.RateLimit.Profile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, testSecret)
	t.Setenv(EnvServerAddr, ":7070")
	t.Setenv(EnvClockSkew, "45")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.JWT.Secret)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 45, cfg.JWT.ClockSkewSeconds)
}

func TestLoad_InvalidEnvClockSkew(t *testing.T) {
	t.Setenv(EnvJWTSecret, testSecret)
	t.Setenv(EnvClockSkew, "soon")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret")
}
