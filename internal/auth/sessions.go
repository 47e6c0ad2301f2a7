package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"

	"mindgrate/backend/internal/apperr"
)

// Session is a Supabase auth session as handed to API clients.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// SessionBackend issues and inspects sessions.
type SessionBackend interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	UserForToken(ctx context.Context, accessToken string) (*User, error)
}

// SupabaseSessions is a SessionBackend backed by the Supabase auth API. The
// auth client takes no context; ctx only short-circuits cancelled calls.
type SupabaseSessions struct {
	auth gotrue.Client
}

// NewSupabaseSessions creates a new SupabaseSessions for the project at url.
func NewSupabaseSessions(url, anonKey string) (*SupabaseSessions, error) {
	client, err := supabase.NewClient(url, anonKey, nil)
	if err != nil {
		return nil, err
	}
	return &SupabaseSessions{auth: client.Auth}, nil
}

// SignIn implements SessionBackend.
func (s *SupabaseSessions) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, classifyAuthError(err, "sign in failed")
	}
	return fromSupabaseSession(resp.Session), nil
}

// Refresh implements SessionBackend.
func (s *SupabaseSessions) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.auth.RefreshToken(refreshToken)
	if err != nil {
		return nil, classifyAuthError(err, "session refresh failed")
	}
	return fromSupabaseSession(resp.Session), nil
}

// SignOut implements SessionBackend.
func (s *SupabaseSessions) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.auth.WithToken(accessToken).Logout(); err != nil {
		return classifyAuthError(err, "sign out failed")
	}
	return nil
}

// UserForToken implements SessionBackend.
func (s *SupabaseSessions) UserForToken(ctx context.Context, accessToken string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.auth.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, classifyAuthError(err, "invalid token")
	}
	return &User{ID: resp.ID.String(), Email: resp.Email, Role: resp.Role}, nil
}

func fromSupabaseSession(s types.Session) *Session {
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
		User:         User{ID: s.User.ID.String(), Email: s.User.Email, Role: s.User.Role},
	}
}

// classifyAuthError maps 4xx answers from the auth API to unauthorized and
// everything else to unavailable.
func classifyAuthError(err error, msg string) error {
	if strings.Contains(err.Error(), "status code 4") {
		return apperr.Unauthorized("%s", msg)
	}
	return apperr.Unavailable(err, "%s", msg)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LoginHandler exchanges email and password for a session.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeProblem(w, r, apperr.Validation("email and password are required"))
		return
	}
	if a.authBypass {
		writeSession(w, &Session{AccessToken: "dev", TokenType: "bearer", User: DevUser})
		return
	}
	if a.sessions == nil {
		writeProblem(w, r, apperr.Unavailable(nil, "session API is not configured"))
		return
	}
	session, err := a.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	if a.logger != nil {
		a.logger.Info("user signed in", "user_id", session.User.ID)
	}
	writeSession(w, session)
}

// RefreshHandler exchanges a refresh token for a new session.
func (a *Auth) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeProblem(w, r, apperr.Validation("refresh_token is required"))
		return
	}
	if a.authBypass {
		writeSession(w, &Session{AccessToken: "dev", TokenType: "bearer", User: DevUser})
		return
	}
	if a.sessions == nil {
		writeProblem(w, r, apperr.Unavailable(nil, "session API is not configured"))
		return
	}
	session, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeSession(w, session)
}

// LogoutHandler revokes the caller's session.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		writeProblem(w, r, apperr.Unauthorized("missing bearer token"))
		return
	}
	if !a.authBypass && a.sessions != nil {
		if err := a.sessions.SignOut(r.Context(), token); err != nil {
			writeProblem(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSession(w http.ResponseWriter, s *Session) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s)
}
