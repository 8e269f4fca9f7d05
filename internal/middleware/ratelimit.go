package middleware

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/perimetra/gateway/internal/observability"
	"github.com/perimetra/gateway/internal/ratelimit"
)

// Rate-limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimit returns a middleware enforcing the limiter against the
// key resolved per request. It must run after authentication so
// identity-based resolvers see the enriched headers. Limiter errors
// fail open: rate limiting degrades, availability does not.
func RateLimit(
	limiter ratelimit.Limiter,
	keyFunc ratelimit.KeyFunc,
	logger observability.Logger,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			scheme := keyScheme(key)

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed, allowing request",
					observability.String("scheme", scheme),
					observability.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				GetMiddlewareMetrics().rateLimitRejected.WithLabelValues(scheme).Inc()

				retryAfter := int64(math.Ceil(result.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
				w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
				w.Header().Set(HeaderRateLimitRemaining, "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":"rate limit exceeded"}`)
				return
			}

			GetMiddlewareMetrics().rateLimitAllowed.WithLabelValues(scheme).Inc()
			w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(result.Limit))
			w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// keyScheme extracts the scheme tag for metrics, keeping the key
// value itself out of label cardinality.
func keyScheme(key string) string {
	if idx := strings.IndexByte(key, ':'); idx != -1 {
		return key[:idx]
	}
	return key
}
