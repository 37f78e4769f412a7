package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/vango-go/vai-journal/pkg/core"
)

func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-" + r.Form.Get("grant_type"),
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:0/oauth2callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:  srv.URL + "/auth",
			TokenURL: srv.URL + "/token",
		},
	}
}

func TestFileTokenStore_RoundTrip(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nested", "token.json"))

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNoCredentials)

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	require.NoError(t, store.Save(tok))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.AccessToken)
	assert.Equal(t, "r", loaded.RefreshToken)
	assert.True(t, tok.Expiry.Equal(loaded.Expiry))
}

func TestTokenSource_MissingTokenIsPrecondition(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))
	src := NewTokenSource(Config{}, store, nil)

	assert.False(t, src.SignedIn())
	_, err := src.AccessToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.ErrPrecondition, core.TypeOf(err))
}

func TestTokenSource_ValidTokenNoNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "still-good", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}))

	src := NewTokenSource(testConfig(srv), store, nil)
	got, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", got)
	assert.Equal(t, int32(0), hits.Load())
}

func TestTokenSource_RefreshesAndPersists(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "stale", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}))

	src := NewTokenSource(testConfig(srv), store, nil)
	got, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh_token", got)
	assert.Equal(t, int32(1), hits.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh_token", saved.AccessToken)
}

func TestStartLogin_ExchangesCallbackCode(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resultCh, authURL, err := StartLogin(ctx, testConfig(srv))
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("state"))

	callback := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=abc"
	resp, err := http.Get(callback)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case res := <-resultCh:
		require.NoError(t, res.Err)
		assert.Equal(t, "fresh-authorization_code", res.Token.AccessToken)
		assert.Equal(t, "refresh-1", res.Token.RefreshToken)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for login result")
	}
}

func TestStartLogin_StateMismatch(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resultCh, authURL, err := StartLogin(ctx, testConfig(srv))
	require.NoError(t, err)
	u, _ := url.Parse(authURL)

	resp, err := http.Get(u.Query().Get("redirect_uri") + "?state=wrong&code=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	res := <-resultCh
	require.Error(t, res.Err)
	assert.Equal(t, int32(0), hits.Load())
}
