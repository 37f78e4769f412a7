// Package auth signs the user in with Google OAuth and supplies access tokens
// for the Sheets journal.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/vango-go/vai-journal/pkg/core"
)

// DefaultRedirectURL is the loopback callback used by Login.
const DefaultRedirectURL = "http://127.0.0.1:8085/oauth2callback"

// Scopes are the OAuth scopes the journal needs.
var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.file",
}

// Config identifies the OAuth client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides google.Endpoint; tests point it at a fake server.
	Endpoint *oauth2.Endpoint
}

// OAuth2 returns the golang.org/x/oauth2 configuration for c.
func (c Config) OAuth2() *oauth2.Config {
	redirect := c.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	endpoint := google.Endpoint
	if c.Endpoint != nil {
		endpoint = *c.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       Scopes,
		Endpoint:     endpoint,
	}
}

// TokenSource provides access tokens with refresh and persistence.
type TokenSource struct {
	conf   *oauth2.Config
	store  TokenStore
	logger *slog.Logger

	mu   sync.Mutex
	src  oauth2.TokenSource
	last *oauth2.Token
}

// NewTokenSource loads the stored token lazily; a missing token is only an
// error when a token is requested.
func NewTokenSource(cfg Config, store TokenStore, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{conf: cfg.OAuth2(), store: store, logger: logger}
}

// SignedIn reports whether a token is available.
func (s *TokenSource) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensure() == nil
}

func (s *TokenSource) ensure() error {
	if s.src != nil {
		return nil
	}
	tok, err := s.store.Load()
	if err != nil {
		return err
	}
	s.last = tok
	s.src = oauth2.ReuseTokenSource(tok, s.conf.TokenSource(context.Background(), tok))
	return nil
}

// Token implements oauth2.TokenSource. Refreshed tokens are written back
// to the store.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(); err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return nil, core.NewPreconditionError("not signed in to Google; run `vai-journal auth login`")
		}
		return nil, core.NewAuthenticationError("load credentials", err)
	}
	tok, err := s.src.Token()
	if err != nil {
		return nil, core.NewAuthenticationError("refresh access token", err)
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if err := s.store.Save(tok); err != nil {
			s.logger.Warn("failed to persist refreshed token", "path", s.store.Path(), "error", err)
		}
		s.last = tok
	}
	return tok, nil
}

// AccessToken returns a valid bearer token or a precondition error when the
// user has not signed in.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := s.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", core.NewPreconditionError("stored Google token has no access token; run `vai-journal auth login`")
	}
	return tok.AccessToken, nil
}

// LoginResult contains the outcome of the login flow.
type LoginResult struct {
	Token *oauth2.Token
	Err   error
}

// StartLogin starts a loopback callback server and returns the URL the user
// must open. The result channel receives exactly one LoginResult. A redirect
// port of 0 picks a free port.
func StartLogin(ctx context.Context, cfg Config) (<-chan LoginResult, string, error) {
	conf := cfg.OAuth2()
	verifier := oauth2.GenerateVerifier()

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)

	redirectURL, err := url.Parse(conf.RedirectURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse redirect url: %w", err)
	}
	listener, err := net.Listen("tcp", redirectURL.Host)
	if err != nil {
		return nil, "", fmt.Errorf("start callback server on %s: %w", redirectURL.Host, err)
	}
	if redirectURL.Port() == "0" {
		redirectURL.Host = listener.Addr().String()
		conf.RedirectURL = redirectURL.String()
	}

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	resultCh := make(chan LoginResult, 1)
	var once sync.Once
	deliver := func(r LoginResult) {
		once.Do(func() { resultCh <- r })
	}

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	shutdown := func() {
		go func() {
			time.Sleep(200 * time.Millisecond)
			_ = server.Shutdown(context.Background())
		}()
	}

	server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != redirectURL.Path {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			deliver(LoginResult{Err: errors.New("oauth state mismatch")})
			shutdown()
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization denied", http.StatusForbidden)
			deliver(LoginResult{Err: core.NewAuthenticationError("authorization denied: "+e, nil)})
			shutdown()
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No code received", http.StatusBadRequest)
			deliver(LoginResult{Err: errors.New("no authorization code received")})
			shutdown()
			return
		}

		tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			http.Error(w, "Token exchange failed", http.StatusInternalServerError)
			deliver(LoginResult{Err: core.NewAuthenticationError("token exchange", err)})
			shutdown()
			return
		}
		if tok.RefreshToken == "" {
			deliver(LoginResult{Err: errors.New("no refresh token received; offline access was not granted")})
			shutdown()
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>vai-journal</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 20vh;">
<h1>Signed in</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)
		deliver(LoginResult{Token: tok})
		shutdown()
	})

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(LoginResult{Err: err})
		}
	}()
	go func() {
		<-ctx.Done()
		deliver(LoginResult{Err: ctx.Err()})
		_ = server.Close()
	}()

	return resultCh, authURL, nil
}
