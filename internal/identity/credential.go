package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCredential is returned when a credential fails the shape check.
var ErrInvalidCredential = errors.New("invalid credential")

// CredentialPolicy describes the accepted shape of a bearer-style credential.
// It checks form only; verification against an identity provider happens elsewhere.
type CredentialPolicy struct {
	Prefix    string
	MinLength int
}

// DefaultCredentialPolicy matches keys like "sk-" followed by at least 17 characters.
func DefaultCredentialPolicy() CredentialPolicy {
	return CredentialPolicy{Prefix: "sk-", MinLength: 20}
}

// Validate checks that token is non-empty, carries the prefix and is long enough.
func (p CredentialPolicy) Validate(token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return fmt.Errorf("%w: credential is required", ErrInvalidCredential)
	}
	if p.Prefix != "" && !strings.HasPrefix(token, p.Prefix) {
		return fmt.Errorf("%w: credential must start with %q", ErrInvalidCredential, p.Prefix)
	}
	if len(token) < p.MinLength {
		return fmt.Errorf("%w: credential must be at least %d characters", ErrInvalidCredential, p.MinLength)
	}
	return nil
}

// Mask returns a log-safe rendering of a credential.
func Mask(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
