package oauth2_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/config"
	"github.com/panyam/microauth/oauth2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// mockOAuthServer serves the token and userinfo endpoints of a provider.
type mockOAuthServer struct {
	server *httptest.Server

	tokenResponse    map[string]any
	userInfoResponse map[string]any
	tokenError       bool
	userInfoError    bool
	lastCode         string
}

func newMockOAuthServer(t *testing.T) *mockOAuthServer {
	mock := &mockOAuthServer{
		tokenResponse: map[string]any{
			"access_token": "mock_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "mock.id.token",
		},
		userInfoResponse: map[string]any{
			"sub":            "auth0|12345",
			"email":          "testuser@example.com",
			"email_verified": true,
			"name":           "Test User",
			"picture":        "https://example.com/p.png",
		},
	}

	mux := http.NewServeMux()
	token := func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		mock.lastCode = r.Form.Get("code")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.tokenResponse)
	}
	mux.HandleFunc("/token", token)
	mux.HandleFunc("/oauth/token", token)
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if mock.userInfoError || r.Header.Get("Authorization") != "Bearer mock_access_token" {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})

	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockOAuthServer) endpoint() oauth2lib.Endpoint {
	return oauth2lib.Endpoint{AuthURL: m.server.URL + "/auth", TokenURL: m.server.URL + "/token"}
}

func TestGoogleClientAuthCodeURL(t *testing.T) {
	c := oauth2.NewGoogleClient("google-id", "google-secret", "http://localhost:8080/auth/google/callback")
	u, err := url.Parse(c.AuthCodeURL("signed-state"))
	require.NoError(t, err)

	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, "google-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/google/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "email")
}

func TestGoogleClientExchange(t *testing.T) {
	mock := newMockOAuthServer(t)
	c := oauth2.NewGoogleClient("google-id", "google-secret", "http://localhost/cb")
	c.SetEndpoint(mock.endpoint())

	t.Run("returns the id token", func(t *testing.T) {
		creds, err := c.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)
		assert.Equal(t, "mock.id.token", creds.IDToken)
		assert.Nil(t, creds.Profile)
		assert.Equal(t, "auth-code", mock.lastCode)
	})

	t.Run("empty credentials without id token", func(t *testing.T) {
		delete(mock.tokenResponse, "id_token")
		defer func() { mock.tokenResponse["id_token"] = "mock.id.token" }()
		creds, err := c.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)
		assert.Empty(t, creds.IDToken)
	})

	t.Run("token endpoint failure", func(t *testing.T) {
		mock.tokenError = true
		defer func() { mock.tokenError = false }()
		_, err := c.Exchange(context.Background(), "auth-code")
		assert.Error(t, err)
	})
}

func TestGoogleVerifier(t *testing.T) {
	var audience string
	v := &oauth2.GoogleVerifier{
		ClientID: "google-id",
		Validate: func(ctx context.Context, token, aud string) (*idtoken.Payload, error) {
			audience = aud
			if token != "good" {
				return nil, errors.New("bad signature")
			}
			return &idtoken.Payload{
				Subject: "g-123",
				Claims: map[string]any{
					"email":          "g@example.com",
					"email_verified": true,
					"name":           "Gee",
					"locale":         "en",
				},
			}, nil
		},
	}

	profile, err := v.VerifyIDToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "google-id", audience)
	assert.Equal(t, &ma.ProviderProfile{
		Subject:       "g-123",
		Email:         "g@example.com",
		EmailVerified: true,
		Name:          "Gee",
		Locale:        "en",
	}, profile)

	_, err = v.VerifyIDToken(context.Background(), "forged")
	assert.Error(t, err)
}

func TestAuth0ClientExchange(t *testing.T) {
	mock := newMockOAuthServer(t)
	c := oauth2.NewAuth0Client(context.Background(), mock.server.URL, "auth0-id", "auth0-secret", "http://localhost/cb")

	t.Run("auth url uses the domain", func(t *testing.T) {
		u, err := url.Parse(c.AuthCodeURL("s"))
		require.NoError(t, err)
		assert.Equal(t, "/authorize", u.Path)
		assert.Equal(t, "auth0-id", u.Query().Get("client_id"))
		assert.Contains(t, u.Query().Get("scope"), "openid")
	})

	t.Run("maps userinfo to a profile", func(t *testing.T) {
		creds, err := c.Exchange(context.Background(), "auth-code")
		require.NoError(t, err)
		require.NotNil(t, creds.Profile)
		assert.Equal(t, "auth0|12345", creds.Profile.Subject)
		assert.Equal(t, "testuser@example.com", creds.Profile.Email)
		assert.True(t, creds.Profile.EmailVerified)
		assert.Equal(t, "Test User", creds.Profile.Name)
		assert.Equal(t, "https://example.com/p.png", creds.Profile.Picture)
	})

	t.Run("userinfo failure", func(t *testing.T) {
		mock.userInfoError = true
		defer func() { mock.userInfoError = false }()
		_, err := c.Exchange(context.Background(), "auth-code")
		assert.Error(t, err)
	})
}

func TestAuth0DomainWithoutScheme(t *testing.T) {
	c := oauth2.NewAuth0Client(context.Background(), "tenant.auth0.com", "id", "secret", "http://localhost/cb")
	u, err := url.Parse(c.AuthCodeURL("s"))
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "tenant.auth0.com", u.Host)
}

func TestClientsFromConfig(t *testing.T) {
	cfg := config.FromMap(map[string]any{
		"app": map[string]any{"url": "https://app.example.com/"},
		"login": map[string]any{
			"google": map[string]any{"enabled": true, "client_id": "gid", "client_secret": "gs"},
			"auth0":  map[string]any{"enabled": false},
		},
	})
	clients := oauth2.Clients(context.Background(), cfg)
	require.Contains(t, clients, ma.ProviderGoogle)
	assert.NotContains(t, clients, ma.ProviderAuth0)

	u, err := url.Parse(clients[ma.ProviderGoogle].AuthCodeURL("s"))
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/auth/google/callback", u.Query().Get("redirect_uri"))
}
