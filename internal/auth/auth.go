package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/internal/config"
	"mindgrate/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// User is the authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// DevUser is injected for every request when the dev bypass is on.
var DevUser = User{ID: "00000000-0000-4000-8000-00000000dec0", Email: "dev@localhost", Role: RoleServiceRole}

// Verifier turns a raw access token into the user it was issued to.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*User, error)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by RequireAuth.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}

// Auth verifies Supabase access tokens and fronts the Supabase session API.
type Auth struct {
	verifier   Verifier
	sessions   SessionBackend
	logger     Logger
	authBypass bool
}

// New creates a new Auth object from the application configuration.
// sessions may be nil, in which case the login endpoints answer 503 and
// remote verification is unavailable.
func New(ctx context.Context, cfg *config.Config, sessions SessionBackend, logger Logger) (*Auth, error) {
	a := &Auth{sessions: sessions, logger: logger}
	if cfg.IsDev() && cfg.DevModeBypass {
		a.authBypass = true
		return a, nil
	}

	switch strings.ToLower(cfg.Auth.VerifyMode) {
	case "", "jwks":
		if cfg.Auth.Issuer == "" || cfg.Auth.JWKSURL == "" {
			return nil, errors.New("auth configuration is incomplete: issuer and jwks_url are required")
		}
		a.verifier = NewJWKSVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.JWKSURL, cfg.Auth.Audience)
	case "remote":
		if sessions == nil {
			return nil, errors.New("remote token verification requires supabase.url and supabase.anon_key")
		}
		a.verifier = RemoteVerifier{Sessions: sessions}
	default:
		return nil, fmt.Errorf("unknown auth.verify_mode %q", cfg.Auth.VerifyMode)
	}
	return a, nil
}

// NewWithVerifier creates an Auth that checks tokens with v.
func NewWithVerifier(v Verifier, sessions SessionBackend, logger Logger) *Auth {
	return &Auth{verifier: v, sessions: sessions, logger: logger}
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// RequireAuth is middleware that rejects requests without a valid bearer
// token and stores the caller in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			u := DevUser
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &u)))
			return
		}

		token, ok := BearerToken(r)
		if !ok {
			writeProblem(w, r, apperr.Unauthorized("missing bearer token"))
			return
		}
		u, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("token rejected", "path", r.URL.Path, "error", err)
			}
			writeProblem(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// RequireRole is middleware that admits only callers holding one of roles.
// It must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				writeProblem(w, r, apperr.Unauthorized("not authenticated"))
				return
			}
			if !HasRole(u, roles...) {
				writeProblem(w, r, apperr.Forbidden("role %q may not call this endpoint", u.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(http.StatusUnauthorized),
		Status:   http.StatusUnauthorized,
		Detail:   err.Error(),
		Instance: r.URL.Path,
	}
	if e, ok := apperr.As(err); ok {
		problem.Status = e.HTTPStatus()
		problem.Title = http.StatusText(problem.Status)
		problem.Detail = e.Message
		problem.Code = string(e.Kind)
		problem.Retryable = e.Retryable
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
