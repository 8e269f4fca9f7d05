package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminRole is the role required for admin-path requests.
const AdminRole = "ROLE_ADMIN"

// Claims is the decoded, verified payload of a bearer token.
// Values are fixed at validation time and never mutated afterwards.
type Claims struct {
	// Subject is the unique identifier of the principal.
	Subject string

	// Username is the human-readable name, if the token carries one.
	Username string

	// ClientID identifies the calling application, if present.
	ClientID string

	// Roles are the role strings granted to the principal. Order is
	// not significant, only membership.
	Roles []string

	// IssuedAt is the token issue time, nil if absent.
	IssuedAt *time.Time

	// ExpiresAt is the token expiry time. A nil value means the token
	// carries no expiry claim, which is a distinct state from zero.
	ExpiresAt *time.Time
}

// HasRole reports whether the claims contain the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Expired reports whether the claims carry an expiry in the past.
// Claims without an expiry never report expired.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// RolesJoined returns the roles joined by comma, skipping blanks, for
// use as an identity header value.
func (c *Claims) RolesJoined() string {
	parts := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		if strings.TrimSpace(r) == "" {
			continue
		}
		parts = append(parts, r)
	}
	return strings.Join(parts, ",")
}

// IssuedAtMillis returns the issue time as epoch milliseconds, or the
// empty string when the claim is absent.
func (c *Claims) IssuedAtMillis() string {
	if c.IssuedAt == nil {
		return ""
	}
	return strconv.FormatInt(c.IssuedAt.UnixMilli(), 10)
}

// claimsFromToken converts a parsed JWT claim set into an immutable
// Claims value.
func claimsFromToken(mc jwt.MapClaims) *Claims {
	c := &Claims{}

	if sub, err := mc.GetSubject(); err == nil {
		c.Subject = sub
	}
	if username, ok := mc["username"].(string); ok {
		c.Username = username
	}
	if clientID, ok := mc["client_id"].(string); ok {
		c.ClientID = clientID
	}
	if raw, ok := mc["roles"].([]interface{}); ok {
		roles := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		c.Roles = roles
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		c.IssuedAt = &t
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		c.ExpiresAt = &t
	}

	return c
}
