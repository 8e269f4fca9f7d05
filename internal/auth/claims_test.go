package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClaims_HasRole(t *testing.T) {
	claims := &Claims{Roles: []string{"ROLE_USER", "ROLE_ADMIN"}}

	assert.True(t, claims.HasRole("ROLE_ADMIN"))
	assert.True(t, claims.HasRole("ROLE_USER"))
	assert.False(t, claims.HasRole("ROLE_AUDITOR"))

	empty := &Claims{}
	assert.False(t, empty.HasRole("ROLE_USER"))
}

func TestClaims_Expired(t *testing.T) {
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&Claims{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&Claims{ExpiresAt: &future}).Expired(now))

	// No expiry claim is a distinct state: never expired.
	assert.False(t, (&Claims{}).Expired(now))
}

func TestClaims_RolesJoined(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{name: "multiple roles", roles: []string{"ROLE_USER", "ROLE_ADMIN"}, want: "ROLE_USER,ROLE_ADMIN"},
		{name: "blank roles skipped", roles: []string{"ROLE_USER", " ", ""}, want: "ROLE_USER"},
		{name: "no roles", roles: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := &Claims{Roles: tt.roles}
			assert.Equal(t, tt.want, claims.RolesJoined())
		})
	}
}

func TestClaims_IssuedAtMillis(t *testing.T) {
	issued := time.UnixMilli(1700000000000)
	claims := &Claims{IssuedAt: &issued}
	assert.Equal(t, "1700000000000", claims.IssuedAtMillis())

	assert.Empty(t, (&Claims{}).IssuedAtMillis())
}
