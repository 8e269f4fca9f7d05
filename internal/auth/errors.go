package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication operations. Callers branch on
// these to decide between purging a cache entry (expiry) and refusing
// to cache at all (any other invalidity).
var (
	// ErrNoCredentials indicates that no bearer credential was provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrTokenMalformed indicates that the token is structurally invalid.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrInvalidSignature indicates that the token signature is invalid.
	ErrInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates that the token is not yet valid.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrInsufficientRole indicates that a required role is missing.
	ErrInsufficientRole = errors.New("insufficient role")

	// ErrInvalidKey indicates that the signing key is unusable.
	ErrInvalidKey = errors.New("signing key is invalid")
)

// ValidationError wraps a token validation failure with detail.
type ValidationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token validation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok || errors.Is(e.Cause, target)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Cause:   cause,
	}
}

// IsExpiredError checks if an error indicates token expiration.
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsSignatureError checks if an error indicates a signature problem.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}
