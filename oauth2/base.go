package oauth2

import (
	"context"
	"net/http"
	"strings"

	ma "github.com/panyam/microauth"
	"golang.org/x/oauth2"
)

// BaseOAuth2 holds the authorization code settings shared by the provider
// clients.
type BaseOAuth2 struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// HTTPClient is used for token and userinfo calls when set.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
}

func newBaseOAuth2(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, scopes []string) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CallbackURL:  callbackURL,
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// SetEndpoint replaces the provider endpoint.
func (b *BaseOAuth2) SetEndpoint(e oauth2.Endpoint) {
	b.oauthConfig.Endpoint = e
}

// AuthCodeURL returns the provider consent URL carrying state.
func (b *BaseOAuth2) AuthCodeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (b *BaseOAuth2) context(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

func (b *BaseOAuth2) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return b.oauthConfig.Exchange(b.context(ctx), code)
}

// callbackURL returns login.<provider>.redirect_url, or the callback route
// under app.url.
func callbackURL(cfg ma.ConfigProvider, provider string) string {
	if v, _ := cfg.Get("login."+provider+".redirect_url", "").(string); v != "" {
		return v
	}
	base, _ := cfg.Get("app.url", "").(string)
	return strings.TrimRight(base, "/") + "/auth/" + provider + "/callback"
}

func configString(cfg ma.ConfigProvider, key string) string {
	s, _ := cfg.Get(key, "").(string)
	return s
}

// Clients builds the provider clients enabled in cfg, keyed by provider
// name. Auth0 discovery is static so no network call is made here.
func Clients(ctx context.Context, cfg ma.ConfigProvider) map[string]ma.ProviderClient {
	out := make(map[string]ma.ProviderClient)
	if enabled, _ := cfg.Get("login.google.enabled", false).(bool); enabled {
		out[ma.ProviderGoogle] = NewGoogleClient(
			configString(cfg, "login.google.client_id"),
			configString(cfg, "login.google.client_secret"),
			callbackURL(cfg, ma.ProviderGoogle))
	}
	if enabled, _ := cfg.Get("login.auth0.enabled", false).(bool); enabled {
		out[ma.ProviderAuth0] = NewAuth0Client(ctx,
			configString(cfg, "login.auth0.domain"),
			configString(cfg, "login.auth0.client_id"),
			configString(cfg, "login.auth0.client_secret"),
			callbackURL(cfg, ma.ProviderAuth0))
	}
	return out
}
