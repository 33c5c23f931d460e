// Package auth verifies bearer ID tokens issued by an OIDC provider.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims are the ID token claims used to identify a principal.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// TokenVerifier turns a raw bearer token into verified claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// OIDCVerifier verifies ID tokens against a provider's published keys.
type OIDCVerifier struct {
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

var _ TokenVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the provider at issuerURL and returns a verifier
// for tokens issued to clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, allowedDomains []string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), allowedDomains), nil
}

func newOIDCVerifier(v *oidc.IDTokenVerifier, allowedDomains []string) *OIDCVerifier {
	return &OIDCVerifier{verifier: v, allowedDomains: allowedDomains}
}

// Verify checks the token signature, issuer, audience and expiry, then the
// email claim.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if err := ValidateClaims(&claims, v.allowedDomains); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ValidateClaims checks that claims carry an email, and that its domain is
// allowed when a domain restriction is configured.
func ValidateClaims(claims *Claims, allowedDomains []string) error {
	if claims.Email == "" {
		return fmt.Errorf("email claim is required")
	}
	if !claims.EmailVerified {
		return fmt.Errorf("email %s is not verified", claims.Email)
	}

	if len(allowedDomains) > 0 {
		emailParts := strings.Split(claims.Email, "@")
		if len(emailParts) != 2 {
			return fmt.Errorf("invalid email format")
		}
		domain := strings.ToLower(emailParts[1])

		allowed := false
		for _, d := range allowedDomains {
			if strings.ToLower(d) == domain {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("email domain %s is not allowed", domain)
		}
	}

	return nil
}
