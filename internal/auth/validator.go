package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/perimetra/gateway/internal/config"
)

// Validator verifies bearer tokens against the pre-shared symmetric
// key. Implementations are stateless: no caching, no I/O beyond local
// cryptographic verification.
type Validator interface {
	// Validate verifies the token and returns its claims, or one of
	// the sentinel failure errors: ErrTokenMalformed,
	// ErrInvalidSignature, ErrTokenExpired, ErrTokenNotYetValid.
	Validate(ctx context.Context, token string) (*Claims, error)
}

// hmacValidator implements Validator using HMAC-signed JWTs.
type hmacValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a validator for the given symmetric secret and
// clock-skew tolerance. The secret must be at least 256 bits.
func NewValidator(cfg *config.JWTConfig) (Validator, error) {
	if len(cfg.Secret) < config.MinSecretBytes {
		return nil, NewValidationError("secret shorter than 256 bits", ErrInvalidKey)
	}

	// Tokens without an exp claim are accepted here; the claims cache
	// applies the fallback TTL for them.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew()),
	)

	return &hmacValidator{
		secret: []byte(cfg.Secret),
		parser: parser,
	}, nil
}

// Validate verifies the token signature and time claims.
func (v *hmacValidator) Validate(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoCredentials
	}

	parsed, err := v.parser.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, NewValidationError("unexpected claims type", ErrTokenMalformed)
	}

	return claimsFromToken(mc), nil
}

// mapParseError converts library errors into the sentinel taxonomy.
// Expiry is distinguished from other invalidity because callers purge
// cache entries on expiry but must never have cached anything else.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewValidationError("token has expired", ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return NewValidationError("token is not yet valid", ErrTokenNotYetValid)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return NewValidationError("signature verification failed", ErrInvalidSignature)
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return NewValidationError("failed to parse token", ErrTokenMalformed)
	default:
		return NewValidationError("token rejected", ErrTokenMalformed)
	}
}

// Ensure hmacValidator implements Validator.
var _ Validator = (*hmacValidator)(nil)
