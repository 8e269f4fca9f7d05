package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractToken reads the bearer credential from the request: the
// Authorization header first, then the configured fallback header.
// Returns the empty string when neither carries a usable value.
func ExtractToken(r *http.Request, fallbackHeader string) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}

	if fallbackHeader == "" {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(fallbackHeader))
}
