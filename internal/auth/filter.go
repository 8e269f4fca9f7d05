// Package auth implements the authenticated request-filter stage of
// the gateway pipeline: bearer-token validation, expiry-aligned claims
// caching, role-based path authorization, and identity-header
// enrichment for downstream stages.
package auth

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/perimetra/gateway/internal/config"
	"github.com/perimetra/gateway/internal/observability"
)

// Identity headers produced on admission. Inbound values under these
// names are always stripped so callers cannot spoof an identity.
const (
	HeaderUserID        = "X-User-Id"
	HeaderUsername      = "X-Username"
	HeaderRoles         = "X-Roles"
	HeaderClientID      = "X-Client-Id"
	HeaderTokenIssuedAt = "X-Token-Issued-At"
)

// HeaderAuthError is the diagnostic header set on rejection. It never
// contains the credential.
const HeaderAuthError = "X-Auth-Error"

// Rejection messages. Deliberately terse: no claim contents, no
// credential material.
const (
	msgMissingToken  = "Missing authorization token"
	msgTokenExpired  = "Token expired"
	msgTokenNotYet   = "Token not yet valid"
	msgInvalidToken  = "Invalid token"
	msgAdminRequired = "Admin access required"
)

// identityHeaders lists every header stripped before enrichment.
var identityHeaders = []string{
	HeaderUserID,
	HeaderUsername,
	HeaderRoles,
	HeaderClientID,
	HeaderTokenIssuedAt,
}

// Filter is the authentication filter. It terminates each request in
// one of two states: admitted (continue downstream with identity
// headers attached) or rejected (401/403 short-circuit).
type Filter struct {
	validator      Validator
	cache          *ClaimsCache
	publicPrefixes []string
	adminPrefixes  []string
	fallbackHeader string
	clockSkew      time.Duration
	logger         observability.Logger
	metrics        *Metrics
}

// FilterOption is a functional option for the filter.
type FilterOption func(*Filter)

// WithFilterLogger sets the logger for the filter.
func WithFilterLogger(logger observability.Logger) FilterOption {
	return func(f *Filter) {
		f.logger = logger
	}
}

// NewFilter creates an authentication filter.
func NewFilter(
	validator Validator,
	cache *ClaimsCache,
	cfg *config.Config,
	opts ...FilterOption,
) (*Filter, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("claims cache is required")
	}

	f := &Filter{
		validator:      validator,
		cache:          cache,
		publicPrefixes: cfg.Paths.PublicPrefixes,
		adminPrefixes:  cfg.Paths.AdminPrefixes,
		fallbackHeader: cfg.JWT.FallbackHeader,
		clockSkew:      cfg.JWT.ClockSkew(),
		logger:         observability.NopLogger(),
		metrics:        GetMetrics(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Middleware returns the HTTP middleware enforcing authentication.
// It must run before any stage that relies on identity headers.
func (f *Filter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			// Inbound identity headers are never trusted.
			for _, h := range identityHeaders {
				r.Header.Del(h)
			}

			if f.isPublicPath(path) {
				f.metrics.RecordOutcome("public")
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractToken(r, f.fallbackHeader)
			if token == "" {
				f.reject(w, http.StatusUnauthorized, msgMissingToken)
				return
			}

			claims, hit := f.cache.Get(r.Context(), token)
			if !hit {
				var err error
				claims, err = f.validator.Validate(r.Context(), token)
				if err != nil {
					f.rejectInvalid(w, r, err)
					return
				}
				f.metrics.RecordValidation("success")
				f.cache.Put(r.Context(), token, claims)
			}

			// A hit can be stale if it raced eviction; re-check before
			// authorizing rather than silently admitting. The same skew
			// tolerance the validator grants applies here, or a token in
			// the leeway window would validate and then be rejected.
			if claims.Expired(time.Now().Add(-f.clockSkew)) {
				f.cache.Invalidate(r.Context(), token)
				f.reject(w, http.StatusUnauthorized, msgTokenExpired)
				return
			}

			if f.isAdminPath(path) && !claims.HasRole(AdminRole) {
				f.metrics.RecordOutcome("rejected_403")
				writeRejection(w, http.StatusForbidden, msgAdminRequired)
				return
			}

			f.enrich(r, claims)
			f.metrics.RecordOutcome("admitted")
			next.ServeHTTP(w, r)
		})
	}
}

// isPublicPath reports whether the path matches a public prefix.
func (f *Filter) isPublicPath(path string) bool {
	for _, prefix := range f.publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// isAdminPath reports whether the path matches an admin prefix.
func (f *Filter) isAdminPath(path string) bool {
	for _, prefix := range f.adminPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// enrich attaches identity headers to the request seen downstream.
func (f *Filter) enrich(r *http.Request, claims *Claims) {
	r.Header.Set(HeaderUserID, claims.Subject)
	r.Header.Set(HeaderUsername, claims.Username)
	r.Header.Set(HeaderRoles, claims.RolesJoined())
	r.Header.Set(HeaderClientID, claims.ClientID)
	r.Header.Set(HeaderTokenIssuedAt, claims.IssuedAtMillis())
}

// rejectInvalid maps a validation failure onto a 401 rejection and
// records the failure reason.
func (f *Filter) rejectInvalid(w http.ResponseWriter, r *http.Request, err error) {
	reason, message := classifyValidationError(err)
	f.metrics.RecordValidation(reason)
	f.metrics.RecordLoadFailure(reason)

	f.logger.WithContext(r.Context()).Debug("token rejected",
		observability.String("reason", reason),
		observability.String("path", r.URL.Path),
	)

	f.reject(w, http.StatusUnauthorized, message)
}

// reject writes a 401 rejection and records the outcome.
func (f *Filter) reject(w http.ResponseWriter, status int, message string) {
	f.metrics.RecordOutcome("rejected_401")
	writeRejection(w, status, message)
}

// classifyValidationError maps a validator error to a metrics reason
// and a diagnostic message.
func classifyValidationError(err error) (reason, message string) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired", msgTokenExpired
	case errors.Is(err, ErrTokenNotYetValid):
		return "not_yet_valid", msgTokenNotYet
	case errors.Is(err, ErrInvalidSignature):
		return "signature", msgInvalidToken
	default:
		return "malformed", msgInvalidToken
	}
}

// writeRejection writes a minimal JSON rejection body plus the
// diagnostic header. The original credential and claims are never
// included.
func writeRejection(w http.ResponseWriter, status int, message string) {
	w.Header().Set(HeaderAuthError, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":"`+message+`"}`)
}
