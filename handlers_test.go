package microauth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ma "github.com/panyam/microauth"
)

type recordingLinks struct {
	to, link string
}

func (r *recordingLinks) SendLoginLink(_ context.Context, to, link string) error {
	r.to, r.link = to, link
	return nil
}

type testClient struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	csrf   string
}

func newTestServer(t *testing.T, f *fixture, links ma.LinkSender) *testClient {
	t.Helper()
	orch, err := ma.NewProviderOrchestrator(f.cfg, nil, map[string]ma.ProviderClient{
		ma.ProviderGoogle: &fakeProvider{},
	})
	require.NoError(t, err)
	h := &ma.Handlers{
		Sessions:   f.sessions,
		Identities: f.identities,
		Providers:  orch,
		Config:     f.cfg,
		Links:      links,
	}
	r := mux.NewRouter()
	h.Routes(r.PathPrefix("/auth").Subrouter())
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{
		t:      t,
		server: server,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *testClient) do(method, path string, body any, withCSRF bool) (*http.Response, ma.Response) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withCSRF {
		req.Header.Set(ma.CSRFHeaderName, c.csrf)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out ma.Response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (c *testClient) fetchCSRF() {
	c.t.Helper()
	resp, out := c.do(http.MethodGet, "/auth/csrf-token", nil, false)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(c.t, out.Token)
	c.csrf = out.Token
}

func TestHandlersRejectMissingCSRF(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	resp, out := c.do(http.MethodPost, "/auth/register",
		map[string]any{"name": "Ann", "email": "ann@example.com", "password": "secret123"}, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, "Security Error", out.Error.Type)
	assert.Zero(t, f.countIdentities(t), "handler must not run")

	c.csrf = "not-the-token"
	resp, _ = c.do(http.MethodPost, "/auth/logout", nil, true)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlersCSRFInBody(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	resp, out := c.do(http.MethodPost, "/auth/register", map[string]any{
		"name": "Ann", "email": "ann@example.com", "password": "secret123", "csrf_token": c.csrf,
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)
	assert.True(t, out.Success)
}

func TestHandlersAccountFlow(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	resp, _ := c.do(http.MethodGet, "/auth/me", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := c.do(http.MethodPost, "/auth/register",
		map[string]any{"name": "Ann", "email": "ann@example.com", "password": "secret123"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Registration successful", out.Message)
	assert.Equal(t, "/", out.URL)

	resp, out = c.do(http.MethodGet, "/auth/me", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := out.Data.(map[string]any)
	assert.Equal(t, "ann@example.com", me["email"])
	assert.Equal(t, "Ann", me["name"])

	resp, _ = c.do(http.MethodPost, "/auth/logout", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/auth/me", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out = c.do(http.MethodPost, "/auth/login", map[string]any{"email": "ann@example.com", "password": "wrong-pass"}, true)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid email or password", out.Error.Message)

	resp, out = c.do(http.MethodPost, "/auth/login", map[string]any{"email": "ann@example.com", "password": "secret123"}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	resp, out = c.do(http.MethodPost, "/auth/register",
		map[string]any{"name": "Ann", "email": "ann@example.com", "password": "secret123"}, true)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, ma.ErrCodeEmailExists, out.Error.Code)
}

func TestHandlersValidation(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	cases := []struct {
		name  string
		path  string
		body  map[string]any
		field string
		msg   string
	}{
		{"login missing password", "/auth/login", map[string]any{"email": "a@b.com"}, "", "Email and password are required"},
		{"register missing name", "/auth/register", map[string]any{"email": "a@b.com", "password": "secret123"}, "", "Name, email, and password are required"},
		{"register bad email", "/auth/register", map[string]any{"name": "A", "email": "not-an-email", "password": "secret123"}, "email", "Invalid email address"},
		{"register short password", "/auth/register", map[string]any{"name": "A", "email": "a@b.com", "password": "short"}, "password", "Password must be at least 8 characters long"},
		{"unique url bad email", "/auth/unique-url", map[string]any{"email": "nope"}, "email", "Invalid email address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := c.do(http.MethodPost, tc.path, tc.body, true)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.NotNil(t, out.Error)
			assert.Equal(t, "Validation Error", out.Error.Type)
			assert.Equal(t, tc.msg, out.Error.Message)
			assert.Equal(t, tc.field, out.Error.Field)
			assert.Empty(t, out.Error.Stack, "no stack outside debug mode")
		})
	}
}

func TestHandlersDebugDetail(t *testing.T) {
	f := newFixture(t, map[string]any{"app.debug": true})
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	req, err := http.NewRequest(http.MethodPost, c.server.URL+"/auth/login", strings.NewReader("{broken"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ma.CSRFHeaderName, c.csrf)
	resp, err := c.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ma.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Request Error", out.Error.Type)
	assert.NotEmpty(t, out.Error.Detail)
	assert.NotEmpty(t, out.Error.Stack)
}

func TestHandlersUniqueURL(t *testing.T) {
	f := newFixture(t, nil)
	links := &recordingLinks{}
	c := newTestServer(t, f, links)
	c.fetchCSRF()

	resp, out := c.do(http.MethodPost, "/auth/unique-url", map[string]any{"email": "uma@example.com"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, out.Token)
	assert.Equal(t, "uma@example.com", links.to)
	assert.Equal(t, out.URL, links.link)

	link, err := url.Parse(out.URL)
	require.NoError(t, err)
	assert.Equal(t, "/auth/unique-url/login", link.Path)
	assert.Equal(t, out.Token, link.Query().Get("token"))

	resp, _ = c.do(http.MethodGet, link.RequestURI(), nil, false)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, out = c.do(http.MethodGet, "/auth/me", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "uma@example.com", out.Data.(map[string]any)["email"])

	resp, _ = c.do(http.MethodGet, "/auth/unique-url/login?token=bogus", nil, false)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=invalid_token", resp.Header.Get("Location"))
}

func TestHandlersProviderRedirects(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)

	resp, _ := c.do(http.MethodGet, "/auth/google/initiate", nil, false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://provider.example.com/authorize?state="))

	resp, _ = c.do(http.MethodGet, "/auth/auth0/initiate", nil, false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=auth0_client_missing", resp.Header.Get("Location"))

	resp, _ = c.do(http.MethodGet, "/auth/google/callback?code=x&state=y", nil, false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=google_invalid_state", resp.Header.Get("Location"))
}

func TestHandlersMethods(t *testing.T) {
	f := newFixture(t, map[string]any{"login.auth0.enabled": false})
	c := newTestServer(t, f, nil)
	resp, out := c.do(http.MethodGet, "/auth/methods", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []any{"email", "google", "unique_url"}, out.Data)
}

func TestHandlersSessionCookie(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	u, _ := url.Parse(c.server.URL)
	var cookie *http.Cookie
	for _, ck := range c.client.Jar.Cookies(u) {
		if ck.Name == f.sessions.CookieName() {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)

	values, found := f.sessions.Peek(context.Background(), cookie.Value)
	require.True(t, found)
	assert.Equal(t, c.csrf, values[ma.SessionKeyCSRFToken])

	// The token stays the same across requests.
	first := c.csrf
	c.fetchCSRF()
	assert.Equal(t, first, c.csrf)
}

func TestHandlersKeepPasswordWhitespace(t *testing.T) {
	f := newFixture(t, nil)
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	resp, out := c.do(http.MethodPost, "/auth/register",
		map[string]any{"name": "Pat", "email": " pat@example.com ", "password": "  padded secret  "}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)

	ctx := context.Background()
	assert.True(t, f.user(t).Login(ctx, "pat@example.com", "  padded secret  "))
	assert.False(t, f.user(t).Login(ctx, "pat@example.com", "padded secret"))

	require.True(t, f.user(t).Register(ctx, "sam@example.com", " lead space", nil))
	other := newTestServer(t, f, nil)
	other.fetchCSRF()
	resp, out = other.do(http.MethodPost, "/auth/login",
		map[string]any{"email": "sam@example.com", "password": " lead space"}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)
}

func TestHandlersDebugCauses(t *testing.T) {
	f := newFixture(t, map[string]any{"app.debug": true, "login.unique_url.enabled": false})
	require.True(t, f.user(t).Register(context.Background(), "ann@example.com", "secret123", nil))
	c := newTestServer(t, f, nil)
	c.fetchCSRF()

	resp, out := c.do(http.MethodPost, "/auth/register",
		map[string]any{"name": "Ann", "email": "ann@example.com", "password": "secret123"}, true)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, ma.ErrCodeEmailExists, out.Error.Code)
	assert.Equal(t, ma.ErrEmailTaken.Error(), out.Error.Detail)

	resp, out = c.do(http.MethodPost, "/auth/unique-url", map[string]any{}, true)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, ma.ErrCodeMethodDisabled, out.Error.Code)
	assert.Equal(t, ma.ErrMethodDisabled.Error(), out.Error.Detail)
}
