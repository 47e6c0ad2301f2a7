package auth

import (
	"context"

	"github.com/coreos/go-oidc"

	"mindgrate/backend/internal/apperr"
)

// supabaseClaims are the access token claims the service reads.
type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// JWKSVerifier checks access token signatures against the project's
// published signing keys.
type JWKSVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewJWKSVerifier creates a verifier that fetches keys from jwksURL. An empty
// audience skips the aud check. ctx must outlive the verifier; it is used for
// key refreshes.
func NewJWKSVerifier(ctx context.Context, issuer, jwksURL, audience string) *JWKSVerifier {
	return NewKeySetVerifier(issuer, oidc.NewRemoteKeySet(ctx, jwksURL), audience)
}

// NewKeySetVerifier creates a verifier backed by an arbitrary key set.
func NewKeySetVerifier(issuer string, keySet oidc.KeySet, audience string) *JWKSVerifier {
	return &JWKSVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID:             audience,
			SkipClientIDCheck:    audience == "",
			SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
		}),
	}
}

// Verify implements Verifier.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (*User, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token: %v", err)
	}
	var claims supabaseClaims
	if err := token.Claims(&claims); err != nil {
		return nil, apperr.Unauthorized("failed to parse token claims")
	}
	// Service keys carry a role but no subject.
	if token.Subject == "" && claims.Role != RoleServiceRole {
		return nil, apperr.Unauthorized("token has no subject")
	}
	return &User{ID: token.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// RemoteVerifier asks the Supabase auth API who a token belongs to.
type RemoteVerifier struct {
	Sessions SessionBackend
}

// Verify implements Verifier.
func (v RemoteVerifier) Verify(ctx context.Context, rawToken string) (*User, error) {
	return v.Sessions.UserForToken(ctx, rawToken)
}
