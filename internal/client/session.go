package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
	"golang.org/x/oauth2"
)

// ErrSessionExpired means the stored session can no longer be refreshed and
// the user has to sign in again.
var ErrSessionExpired = errors.New("session expired, sign in again")

// Refresher exchanges a refresh token for a new session. gotrue.Client
// satisfies it.
type Refresher interface {
	RefreshToken(refreshToken string) (*types.TokenResponse, error)
}

// SignInClient signs in with email and password. gotrue.Client satisfies it.
type SignInClient interface {
	SignInWithEmailPassword(email, password string) (*types.TokenResponse, error)
}

// NewSupabaseAuth returns the auth client of the Supabase project at url.
func NewSupabaseAuth(url, anonKey string) (gotrue.Client, error) {
	c, err := supabase.NewClient(url, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return c.Auth, nil
}

// SignIn signs in against Supabase directly and returns the session as an
// oauth2 token.
func SignIn(auth SignInClient, email, password string) (*oauth2.Token, error) {
	resp, err := auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return TokenFromSession(resp.Session), nil
}

// TokenFromSession converts a Supabase session.
func TokenFromSession(s types.Session) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}
	switch {
	case s.ExpiresAt > 0:
		tok.Expiry = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return tok
}

// SessionSource is an oauth2.TokenSource over a Supabase session. Expired
// access tokens are refreshed with the refresh token. When the refresh is
// refused the session is dropped and every later call fails with
// ErrSessionExpired.
type SessionSource struct {
	refresher *sessionRefresher
	reuse     oauth2.TokenSource
}

type sessionRefresher struct {
	mu        sync.Mutex
	auth      Refresher
	current   *oauth2.Token
	onRefresh func(*oauth2.Token)
}

// NewSessionSource creates a new SessionSource starting from initial.
// onRefresh, if set, is called with every refreshed token so it can be
// persisted. auth may be nil, in which case the session ends when the
// access token expires.
func NewSessionSource(auth Refresher, initial *oauth2.Token, onRefresh func(*oauth2.Token)) *SessionSource {
	r := &sessionRefresher{auth: auth, current: initial, onRefresh: onRefresh}
	return &SessionSource{refresher: r, reuse: oauth2.ReuseTokenSource(initial, r)}
}

// Token implements oauth2.TokenSource.
func (s *SessionSource) Token() (*oauth2.Token, error) {
	return s.reuse.Token()
}

func (r *sessionRefresher) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.current.RefreshToken == "" || r.auth == nil {
		r.current = nil
		return nil, ErrSessionExpired
	}
	resp, err := r.auth.RefreshToken(r.current.RefreshToken)
	if err != nil {
		if isAuthRejection(err) {
			r.current = nil
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	r.current = TokenFromSession(resp.Session)
	if r.onRefresh != nil {
		r.onRefresh(r.current)
	}
	return r.current, nil
}

// isAuthRejection reports whether the auth API refused the request, as
// opposed to being unreachable.
func isAuthRejection(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return strings.Contains(err.Error(), "status code 4")
}

// APIRefresher refreshes sessions through the Mindgrate API instead of
// talking to Supabase directly.
func (c *Client) APIRefresher(ctx context.Context) Refresher {
	return apiRefresher{ctx: ctx, c: c}
}

type apiRefresher struct {
	ctx context.Context
	c   *Client
}

func (r apiRefresher) RefreshToken(refreshToken string) (*types.TokenResponse, error) {
	tok, err := r.c.Refresh(r.ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	var resp types.TokenResponse
	resp.AccessToken = tok.AccessToken
	resp.RefreshToken = tok.RefreshToken
	resp.TokenType = tok.TokenType
	if !tok.Expiry.IsZero() {
		resp.ExpiresAt = tok.Expiry.Unix()
	}
	return &resp, nil
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes tok to path, readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
