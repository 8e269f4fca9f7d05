package auth

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perimetra/gateway/internal/config"
	"github.com/perimetra/gateway/internal/observability"
)

// claimsCacheTracerName is the OpenTelemetry tracer name for claims
// cache operations.
const claimsCacheTracerName = "gateway/claimscache"

// cleanupInterval is how often logically expired entries are swept.
const cleanupInterval = time.Minute

// ClaimsCache is a bounded concurrent cache mapping a raw credential
// to its validated claims. The entry lifetime is aligned with the
// token's own expiry, never a fixed TTL, so a read can never extend a
// token's effective cache lifetime beyond its stated expiry.
type ClaimsCache struct {
	logger      observability.Logger
	maxEntries  int
	fallbackTTL time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// cacheEntry is a claims entry with its expiry fixed at insert time.
type cacheEntry struct {
	token     string
	claims    *Claims
	expiresAt time.Time
}

// CacheStats contains claims cache statistics.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// ClaimsCacheOption is a functional option for the claims cache.
type ClaimsCacheOption func(*ClaimsCache)

// WithCacheLogger sets the logger for the claims cache.
func WithCacheLogger(logger observability.Logger) ClaimsCacheOption {
	return func(c *ClaimsCache) {
		c.logger = logger
	}
}

// NewClaimsCache creates a claims cache from configuration and starts
// its background sweep goroutine. Call Close when done.
func NewClaimsCache(cfg *config.ClaimsCacheConfig, opts ...ClaimsCacheOption) *ClaimsCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultCacheMaxEntries
	}

	c := &ClaimsCache{
		logger:      observability.NopLogger(),
		maxEntries:  maxEntries,
		fallbackTTL: cfg.FallbackTTL(),
		items:       make(map[string]*list.Element),
		eviction:    list.New(),
		stopCh:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	c.logger.Info("claims cache initialized",
		observability.Int("maxEntries", maxEntries),
		observability.Duration("fallbackTTL", c.fallbackTTL))

	return c
}

// Get returns the claims cached for the credential. A logically
// expired entry behaves as a miss and is removed as a side effect.
func (c *ClaimsCache) Get(ctx context.Context, token string) (*Claims, bool) {
	_, span := otel.Tracer(claimsCacheTracerName).Start(ctx, "claimscache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[token]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		GetMetrics().cacheMissesTotal.Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)

	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		GetMetrics().cacheMissesTotal.Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	c.eviction.MoveToFront(elem)

	atomic.AddInt64(&c.hits, 1)
	GetMetrics().cacheHitsTotal.Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	return entry.claims, true
}

// Put stores validated claims for the credential. The entry expiry is
// computed once here: the claims' own expiry when present and in the
// future, otherwise the fallback TTL from now. A put for an existing
// key replaces the entry; last writer wins.
func (c *ClaimsCache) Put(ctx context.Context, token string, claims *Claims) {
	_, span := otel.Tracer(claimsCacheTracerName).Start(ctx, "claimscache.Put",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	now := time.Now()
	expiresAt := now.Add(c.fallbackTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.After(now) {
		expiresAt = *claims.ExpiresAt
	}

	entry := &cacheEntry{
		token:     token,
		claims:    claims,
		expiresAt: expiresAt,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[token]; exists {
		c.eviction.MoveToFront(elem)
		elem.Value = entry
		return
	}

	elem := c.eviction.PushFront(entry)
	c.items[token] = elem

	for c.eviction.Len() > c.maxEntries {
		c.evictOldest()
	}

	GetMetrics().cacheSizeGauge.Set(float64(c.eviction.Len()))
}

// Invalidate removes the entry for the credential, if present.
func (c *ClaimsCache) Invalidate(ctx context.Context, token string) {
	_, span := otel.Tracer(claimsCacheTracerName).Start(ctx, "claimscache.Invalidate",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[token]; exists {
		c.removeElement(elem)
	}
}

// Stats returns cache statistics.
func (c *ClaimsCache) Stats() CacheStats {
	c.mu.Lock()
	size := int64(c.eviction.Len())
	c.mu.Unlock()

	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   size,
	}
}

// Close stops the sweep goroutine and drops all entries.
func (c *ClaimsCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()

	return nil
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *ClaimsCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		GetMetrics().cacheEvictionsTotal.Inc()
	}
}

// removeElement removes an element from the cache.
// Must be called with lock held.
func (c *ClaimsCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.token)
	GetMetrics().cacheSizeGauge.Set(float64(c.eviction.Len()))
}

// cleanupLoop periodically removes expired entries. The read-time
// expiry check in Get stays authoritative; the sweep only bounds how
// long dead entries occupy capacity.
func (c *ClaimsCache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired entries under a single write lock.
func (c *ClaimsCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		c.removeElement(elem)
	}

	if len(toRemove) > 0 {
		c.logger.Debug("claims cache cleanup completed",
			observability.Int("removed", len(toRemove)))
	}
}
