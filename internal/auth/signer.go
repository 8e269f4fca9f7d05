package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/perimetra/gateway/internal/config"
)

// Signer mints HMAC-signed bearer tokens. It is used by provisioning
// tooling and tests; the request pipeline itself only verifies.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given symmetric secret.
func NewSigner(cfg *config.JWTConfig) (*Signer, error) {
	if len(cfg.Secret) < config.MinSecretBytes {
		return nil, NewValidationError("secret shorter than 256 bits", ErrInvalidKey)
	}
	return &Signer{secret: []byte(cfg.Secret)}, nil
}

// TokenSpec describes the claims of a token to mint. A nil ExpiresIn
// produces a token without an expiry claim.
type TokenSpec struct {
	Subject   string
	Username  string
	ClientID  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresIn *time.Duration
}

// Sign mints a signed HS256 token from the given TokenSpec.
func (s *Signer) Sign(spec TokenSpec) (string, error) {
	issuedAt := spec.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	claims := jwt.MapClaims{
		"sub": spec.Subject,
		"iat": issuedAt.Unix(),
	}
	if spec.Username != "" {
		claims["username"] = spec.Username
	}
	if spec.ClientID != "" {
		claims["client_id"] = spec.ClientID
	}
	if len(spec.Roles) > 0 {
		claims["roles"] = spec.Roles
	}
	if spec.ExpiresIn != nil {
		claims["exp"] = issuedAt.Add(*spec.ExpiresIn).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", NewValidationError("failed to sign token", err)
	}
	return signed, nil
}
