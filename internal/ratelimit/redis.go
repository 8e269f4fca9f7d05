package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perimetra/gateway/internal/config"
	"github.com/perimetra/gateway/internal/observability"
)

// redisKeyPrefix namespaces limiter state in a shared Redis.
const redisKeyPrefix = "gateway:ratelimit:"

// tokenBucketScript refills and drains one bucket atomically.
// Returns: allowed (0 or 1), remaining whole tokens, retry-after ms.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1])
	local last_update = tonumber(data[2])

	if tokens == nil then
		tokens = burst
		last_update = now
	end

	local elapsed = (now - last_update) / 1000.0
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_ms = 0
	if tokens >= requested then
		tokens = tokens - requested
		allowed = 1
	else
		retry_ms = math.ceil((requested - tokens) / rate * 1000)
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, math.ceil(burst / rate) + 1)

	return {allowed, math.floor(tokens), retry_ms}
`)

// Ensure redisLimiter implements Limiter and io.Closer.
var (
	_ Limiter   = (*redisLimiter)(nil)
	_ io.Closer = (*redisLimiter)(nil)
)

// redisLimiter enforces token buckets in Redis so limits hold across
// gateway replicas. When Redis fails, it degrades to a local limiter
// rather than refusing traffic.
type redisLimiter struct {
	client   *redis.Client
	profile  config.LimiterProfile
	fallback Limiter
	logger   observability.Logger
}

// RedisOption is a functional option for the Redis limiter.
type RedisOption func(*redisLimiter)

// WithRedisLogger sets the logger for the Redis limiter.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(l *redisLimiter) {
		l.logger = logger
	}
}

// NewRedisLimiter creates a Redis-backed limiter with a local
// fallback. The connection is verified eagerly so a misconfigured
// address fails at startup, not on the first request.
func NewRedisLimiter(
	ctx context.Context,
	cfg *config.RedisConfig,
	profile config.LimiterProfile,
	opts ...RedisOption,
) (Limiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	l := &redisLimiter{
		client:   client,
		profile:  profile,
		fallback: NewLocalLimiter(profile),
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Allow implements Limiter.
func (l *redisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	requested := l.profile.RequestedTokens
	if requested <= 0 {
		requested = 1
	}

	values, err := tokenBucketScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + key},
		l.profile.ReplenishRate,
		l.profile.BurstCapacity,
		time.Now().UnixMilli(),
		requested,
	).Int64Slice()
	if err != nil {
		// Availability over strict distributed accounting.
		l.logger.Warn("redis rate-limit check failed, using local fallback",
			observability.Error(err))
		return l.fallback.Allow(ctx, key)
	}

	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected token bucket script result: %v", values)
	}

	return &Result{
		Allowed:    values[0] == 1,
		Limit:      l.profile.BurstCapacity,
		Remaining:  int(values[1]),
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Reset implements Limiter.
func (l *redisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return l.fallback.Reset(ctx, key)
}

// Close releases the Redis connection and the fallback's resources.
func (l *redisLimiter) Close() error {
	if closer, ok := l.fallback.(io.Closer); ok {
		_ = closer.Close()
	}
	return l.client.Close()
}
