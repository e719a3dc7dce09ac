package oauth2

import (
	"context"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	ma "github.com/panyam/microauth"
	"golang.org/x/oauth2"
)

// Auth0Client runs the Auth0 authorization code flow and reads the profile
// from the userinfo endpoint.
type Auth0Client struct {
	*BaseOAuth2
	Domain string

	provider *oidc.Provider
}

// NewAuth0Client configures a client for domain. The endpoints are derived
// from the domain instead of discovered.
func NewAuth0Client(ctx context.Context, domain, clientID, clientSecret, callbackURL string) *Auth0Client {
	issuer := auth0Issuer(domain)
	provider := (&oidc.ProviderConfig{
		IssuerURL:   issuer + "/",
		AuthURL:     issuer + "/authorize",
		TokenURL:    issuer + "/oauth/token",
		UserInfoURL: issuer + "/userinfo",
		JWKSURL:     issuer + "/.well-known/jwks.json",
		Algorithms:  []string{oidc.RS256},
	}).NewProvider(ctx)
	return &Auth0Client{
		BaseOAuth2: newBaseOAuth2(clientID, clientSecret, callbackURL, provider.Endpoint(),
			[]string{oidc.ScopeOpenID, "profile", "email"}),
		Domain:   domain,
		provider: provider,
	}
}

func auth0Issuer(domain string) string {
	domain = strings.TrimRight(domain, "/")
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

// Exchange trades code for tokens and fetches the user's profile.
func (a *Auth0Client) Exchange(ctx context.Context, code string) (*ma.ProviderCredentials, error) {
	token, err := a.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if a.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, a.HTTPClient)
	}
	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}
	var extra struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
		Locale  string `json:"locale"`
	}
	if err := info.Claims(&extra); err != nil {
		return nil, err
	}
	return &ma.ProviderCredentials{Profile: &ma.ProviderProfile{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          extra.Name,
		Picture:       extra.Picture,
		Locale:        extra.Locale,
	}}, nil
}
