package ratelimit

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWith(headers map[string]string, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestHashAPIKey(t *testing.T) {
	digest := HashAPIKey("secret-key")

	sum := sha256.Sum256([]byte("secret-key"))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, digest)

	// Deterministic, memoized or not.
	assert.Equal(t, digest, HashAPIKey("secret-key"))
	assert.NotEqual(t, digest, HashAPIKey("other-key"))
	assert.NotContains(t, digest, "=", "digest must be unpadded")
}

func TestAPIKeyFirstResolver(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "api key present",
			headers: map[string]string{HeaderAPIKey: "k1"},
			remote:  "10.0.0.1:1234",
			want:    SchemeAPI + ":" + HashAPIKey("k1"),
		},
		{
			name:    "blank api key falls back to ip",
			headers: map[string]string{HeaderAPIKey: "   "},
			remote:  "10.0.0.1:1234",
			want:    "ip:10.0.0.1",
		},
		{
			name:   "no signals",
			remote: "10.0.0.1:1234",
			want:   "ip:10.0.0.1",
		},
		{
			name: "unresolvable source",
			want: "ip:unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWith(tt.headers, tt.remote)
			if tt.remote == "" {
				req.RemoteAddr = ""
			}
			assert.Equal(t, tt.want, APIKeyFirstResolver(req))
		})
	}
}

func TestUserFirstResolver(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "user id wins",
			headers: map[string]string{HeaderUserID: "42", HeaderAPIKey: "k1"},
			want:    "user:42",
		},
		{
			name:    "api key second",
			headers: map[string]string{HeaderAPIKey: "k1"},
			want:    SchemeAPI + ":" + HashAPIKey("k1"),
		},
		{
			name: "anonymous last",
			want: KeyAnonymous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserFirstResolver(requestWith(tt.headers, "10.0.0.1:1234")))
		})
	}
}

func TestDeviceFirstResolver(t *testing.T) {
	req := requestWith(map[string]string{HeaderDeviceID: "d-7"}, "10.0.0.1:1234")
	assert.Equal(t, "device:d-7", DeviceFirstResolver(req))

	req = requestWith(nil, "10.0.0.1:1234")
	assert.Equal(t, "ip:10.0.0.1", DeviceFirstResolver(req))
}

func TestIPOnlyResolver(t *testing.T) {
	req := requestWith(nil, "10.0.0.1:1234")
	assert.Equal(t, "ip:10.0.0.1", IPOnlyResolver(req))
}

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "single forwarded", xff: "203.0.113.9", remote: "10.0.0.1:1234", want: "203.0.113.9"},
		{name: "first of chain", xff: "203.0.113.9, 10.0.0.2, 10.0.0.3", remote: "10.0.0.1:1234", want: "203.0.113.9"},
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "ipv6 remote", remote: "[::1]:1234", want: "::1"},
		{name: "ipv6 remote without port", remote: "::1", want: "::1"},
		{name: "remote without port", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "nothing", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientAddress(req))
		})
	}
}

func TestResolverFor(t *testing.T) {
	for _, strategy := range []string{
		StrategyAPIKeyFirst, StrategyUserFirst, StrategyDeviceFirst, StrategyIPOnly,
	} {
		fn, ok := ResolverFor(strategy)
		require.True(t, ok, strategy)
		require.NotNil(t, fn)
	}

	_, ok := ResolverFor("round-robin")
	assert.False(t, ok)
}

func TestResolverStrategiesAreIndependent(t *testing.T) {
	req := requestWith(map[string]string{
		HeaderAPIKey:   "k1",
		HeaderUserID:   "42",
		HeaderDeviceID: "d-7",
	}, "10.0.0.1:1234")

	// The same request yields a different key per strategy; each is a
	// separate limiting dimension.
	assert.Equal(t, SchemeAPI+":"+HashAPIKey("k1"), APIKeyFirstResolver(req))
	assert.Equal(t, "user:42", UserFirstResolver(req))
	assert.Equal(t, "device:d-7", DeviceFirstResolver(req))
	assert.Equal(t, "ip:10.0.0.1", IPOnlyResolver(req))
}
