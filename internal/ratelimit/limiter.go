package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perimetra/gateway/internal/config"
	"github.com/perimetra/gateway/internal/observability"
)

// Limiter enforces a token-bucket limit per resolved key.
type Limiter interface {
	// Allow reports whether the request under the given key may
	// proceed, along with the current bucket state.
	Allow(ctx context.Context, key string) (*Result, error)

	// Reset clears the bucket state for the key.
	Reset(ctx context.Context, key string) error
}

// Result is the outcome of a single rate-limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the bucket burst capacity.
	Limit int

	// Remaining is the number of whole tokens left in the bucket.
	Remaining int

	// RetryAfter is how long to wait before retrying, zero when
	// allowed.
	RetryAfter time.Duration
}

// Bucket staleness sweep defaults.
const (
	bucketCleanupInterval = 5 * time.Minute
	bucketTTL             = 10 * time.Minute
)

// Ensure localLimiter releases its sweep goroutine via Close.
var _ io.Closer = (*localLimiter)(nil)

// localLimiter keeps one token bucket per key in process memory.
type localLimiter struct {
	replenishRate   rate.Limit
	burstCapacity   int
	requestedTokens int
	logger          observability.Logger

	buckets sync.Map // key → *keyBucket

	stopCh    chan struct{}
	closeOnce sync.Once
}

// keyBucket pairs a limiter with its last-touched time for staleness
// sweeping.
type keyBucket struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// LocalOption is a functional option for the local limiter.
type LocalOption func(*localLimiter)

// WithLocalLogger sets the logger for the local limiter.
func WithLocalLogger(logger observability.Logger) LocalOption {
	return func(l *localLimiter) {
		l.logger = logger
	}
}

// NewLocalLimiter creates an in-memory token-bucket limiter from a
// profile and starts its staleness sweep. Call Close when done.
func NewLocalLimiter(profile config.LimiterProfile, opts ...LocalOption) Limiter {
	requested := profile.RequestedTokens
	if requested <= 0 {
		requested = 1
	}

	l := &localLimiter{
		replenishRate:   rate.Limit(profile.ReplenishRate),
		burstCapacity:   profile.BurstCapacity,
		requestedTokens: requested,
		logger:          observability.NopLogger(),
		stopCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.sweepLoop()

	return l
}

// Allow implements Limiter.
func (l *localLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := time.Now()

	value, _ := l.buckets.LoadOrStore(key, &keyBucket{
		limiter:  rate.NewLimiter(l.replenishRate, l.burstCapacity),
		lastSeen: now,
	})
	b := value.(*keyBucket)

	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()

	reservation := b.limiter.ReserveN(now, l.requestedTokens)
	if !reservation.OK() {
		// Requested tokens exceed the burst capacity; the bucket can
		// never satisfy this request.
		return &Result{
			Allowed:    false,
			Limit:      l.burstCapacity,
			Remaining:  0,
			RetryAfter: time.Second,
		}, nil
	}

	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return &Result{
			Allowed:    false,
			Limit:      l.burstCapacity,
			Remaining:  0,
			RetryAfter: delay,
		}, nil
	}

	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   true,
		Limit:     l.burstCapacity,
		Remaining: remaining,
	}, nil
}

// Reset implements Limiter.
func (l *localLimiter) Reset(_ context.Context, key string) error {
	l.buckets.Delete(key)
	return nil
}

// Close stops the staleness sweep goroutine. Safe to call repeatedly.
func (l *localLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

// sweepLoop periodically drops buckets not touched within bucketTTL.
func (l *localLimiter) sweepLoop() {
	ticker := time.NewTicker(bucketCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(bucketTTL)
		case <-l.stopCh:
			return
		}
	}
}

// sweep removes buckets whose last touch is older than maxAge.
func (l *localLimiter) sweep(maxAge time.Duration) {
	now := time.Now()
	removed := 0

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*keyBucket)
		b.mu.Lock()
		stale := now.Sub(b.lastSeen) > maxAge
		b.mu.Unlock()
		if stale {
			l.buckets.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		l.logger.Debug("stale rate-limit buckets removed",
			observability.Int("removed", removed))
	}
}

// NoopLimiter always allows. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow implements Limiter.
func (NoopLimiter) Allow(_ context.Context, _ string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (NoopLimiter) Reset(_ context.Context, _ string) error {
	return nil
}
