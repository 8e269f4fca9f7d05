// Package ratelimit provides rate-limit key resolution and token
// bucket enforcement for the gateway pipeline. Each resolver strategy
// maps a request's identifying signals onto a tagged bucket key;
// limiters consume those keys against named profiles.
package ratelimit

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
	"sync"
)

// Headers consulted during key resolution. X-User-Id is the enriched
// identity header, so resolution must run after authentication.
const (
	HeaderAPIKey   = "X-API-Key"
	HeaderUserID   = "X-User-Id"
	HeaderDeviceID = "X-Device-Id"
)

// Key schemes. A resolved key is always "<scheme>:<value>" except for
// KeyAnonymous, which stands alone.
const (
	SchemeAPI    = "api"
	SchemeUser   = "user"
	SchemeDevice = "device"
	SchemeIP     = "ip"

	// KeyAnonymous is the shared bucket for requests carrying no
	// identifying signal under the user-first strategy.
	KeyAnonymous = "anonymous"
)

// Resolver strategy names as they appear in configuration.
const (
	StrategyAPIKeyFirst = "api-key-first"
	StrategyUserFirst   = "user-first"
	StrategyDeviceFirst = "device-first"
	StrategyIPOnly      = "ip-only"
)

// KeyFunc maps an HTTP request to a rate-limit bucket key. Resolvers
// are pure: same request signals, same key.
type KeyFunc func(r *http.Request) string

// apiKeyDigests memoizes raw-key digests. The digest is a pure
// function of the input, so entries never expire.
var apiKeyDigests sync.Map

// HashAPIKey returns a deterministic one-way digest of an API key so
// the raw key never appears as a bucket or metrics dimension.
func HashAPIKey(key string) string {
	if cached, ok := apiKeyDigests.Load(key); ok {
		return cached.(string)
	}
	sum := sha256.Sum256([]byte(key))
	digest := base64.RawURLEncoding.EncodeToString(sum[:])
	apiKeyDigests.Store(key, digest)
	return digest
}

// APIKeyFirstResolver keys by hashed API key, falling back to the
// client address.
func APIKeyFirstResolver(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return SchemeAPI + ":" + HashAPIKey(key)
	}
	return SchemeIP + ":" + ClientAddress(r)
}

// UserFirstResolver keys by authenticated user id, then hashed API
// key, then the shared anonymous bucket.
func UserFirstResolver(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
		return SchemeUser + ":" + id
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return SchemeAPI + ":" + HashAPIKey(key)
	}
	return KeyAnonymous
}

// DeviceFirstResolver keys by device id, falling back to the client
// address.
func DeviceFirstResolver(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderDeviceID)); id != "" {
		return SchemeDevice + ":" + id
	}
	return SchemeIP + ":" + ClientAddress(r)
}

// IPOnlyResolver always keys by the client address.
func IPOnlyResolver(r *http.Request) string {
	return SchemeIP + ":" + ClientAddress(r)
}

// ResolverFor returns the KeyFunc for a strategy name, or false for
// an unknown strategy.
func ResolverFor(strategy string) (KeyFunc, bool) {
	switch strategy {
	case StrategyAPIKeyFirst:
		return APIKeyFirstResolver, true
	case StrategyUserFirst:
		return UserFirstResolver, true
	case StrategyDeviceFirst:
		return DeviceFirstResolver, true
	case StrategyIPOnly:
		return IPOnlyResolver, true
	default:
		return nil, false
	}
}

// ClientAddress extracts the client address: the first X-Forwarded-For
// element when present, otherwise the connection remote address, or
// "unknown" when neither yields anything usable.
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}

	// RemoteAddr is usually host:port, but a bare IPv6 address would
	// be mangled by a naive port strip.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
