package microauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProviderProfile is the normalized account data returned by a provider.
type ProviderProfile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// ProviderCredentials is what an authorization code exchanges into. Google
// returns an ID token, Auth0 a profile.
type ProviderCredentials struct {
	IDToken string
	Profile *ProviderProfile
}

// ProviderClient talks to one external provider.
type ProviderClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*ProviderCredentials, error)
}

// Outcome is the result of a provider step: a redirect target and, on
// failure, the error whose code is carried in the target.
type Outcome struct {
	Target string
	Err    *Error
}

// OK reports whether the step succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// RedirectURL returns where the client should be sent next.
func (o Outcome) RedirectURL() string { return o.Target }

const stateLifetime = 10 * time.Minute

type stateClaims struct {
	Provider string `json:"prv"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// ProviderOrchestrator runs the redirect login flow for Google and Auth0.
// Every failure is logged and returned as an Outcome pointing at the login
// page with a machine readable error code.
type ProviderOrchestrator struct {
	// Now is the clock used for state expiry.
	Now func() time.Time

	config   ConfigProvider
	logger   *slog.Logger
	clients  map[string]ProviderClient
	stateKey []byte
}

// NewProviderOrchestrator creates an orchestrator with the given clients,
// keyed by provider name.
func NewProviderOrchestrator(cfg ConfigProvider, logger *slog.Logger, clients map[string]ProviderClient) (*ProviderOrchestrator, error) {
	key := []byte(configString(cfg, "security.state_secret", ""))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate state key: %w", err)
		}
	}
	o := &ProviderOrchestrator{
		Now:      time.Now,
		config:   cfg,
		logger:   orDefaultLogger(logger),
		clients:  make(map[string]ProviderClient),
		stateKey: key,
	}
	for name, c := range clients {
		o.clients[name] = c
	}
	return o, nil
}

// Initiate checks the provider is usable, stores a fresh state nonce in the
// session and returns the provider's authorization URL.
func (o *ProviderOrchestrator) Initiate(ctx context.Context, sess *Session, provider string) Outcome {
	client, fail := o.guard(ctx, provider)
	if fail != nil {
		return o.failure(ctx, provider, fail)
	}
	o.clearState(sess, provider)

	nonce, err := GenerateSecureToken()
	if err != nil {
		return o.failure(ctx, provider, o.providerError(provider, "init_error", "Could not start login").WithCause(err))
	}
	state, err := o.signState(provider, nonce)
	if err != nil {
		return o.failure(ctx, provider, o.providerError(provider, "init_error", "Could not start login").WithCause(err))
	}
	if err := sess.Set(stateSessionKey(provider), nonce); err != nil {
		return o.failure(ctx, provider, o.providerError(provider, "init_error", "Could not start login").WithCause(err))
	}
	o.logger.Debug("Provider login initiated", "provider", provider)
	return Outcome{Target: client.AuthCodeURL(state)}
}

// Callback completes the flow: it checks the returned state, exchanges the
// code and logs the user in.
func (o *ProviderOrchestrator) Callback(ctx context.Context, user *User, provider string, params url.Values) Outcome {
	client, fail := o.guard(ctx, provider)
	if fail != nil {
		return o.failure(ctx, provider, fail)
	}
	sess := user.sess
	nonce := sess.GetString(stateSessionKey(provider))
	o.clearState(sess, provider)

	if perr := params.Get("error"); perr != "" {
		return o.failure(ctx, provider, o.providerError(provider, "callback_error", "Provider rejected the login").
			WithCause(fmt.Errorf("%s: %s", perr, params.Get("error_description"))))
	}
	code, state := params.Get("code"), params.Get("state")
	if code == "" || state == "" {
		return o.failure(ctx, provider, NewError(KindValidation, provider+"_invalid_callback", "Invalid callback request"))
	}
	if err := o.verifyState(provider, state, nonce); err != nil {
		return o.failure(ctx, provider, NewError(KindSecurity, provider+"_invalid_state", "Invalid login state").WithCause(err))
	}

	creds, err := client.Exchange(ctx, code)
	if err != nil {
		return o.failure(ctx, provider, o.providerError(provider, "callback_error", "Could not complete login").WithCause(err))
	}

	var ok bool
	switch provider {
	case ProviderGoogle:
		if creds == nil || creds.IDToken == "" {
			return o.failure(ctx, provider, o.providerError(provider, "no_credentials", "No credentials received"))
		}
		ok = user.LoginWithGoogle(ctx, creds.IDToken)
	case ProviderAuth0:
		if creds == nil || creds.Profile == nil {
			return o.failure(ctx, provider, o.providerError(provider, "no_credentials", "No credentials received"))
		}
		ok = user.LoginWithAuth0(ctx, creds.Profile)
	}
	if !ok {
		return o.failure(ctx, provider, NewError(KindAuth, provider+"_login_failed", "Login failed"))
	}
	return Outcome{Target: configString(o.config, "login.redirect.success", "/")}
}

// guard runs the checks shared by both steps.
func (o *ProviderOrchestrator) guard(ctx context.Context, provider string) (ProviderClient, *Error) {
	if provider != ProviderGoogle && provider != ProviderAuth0 {
		return nil, NewError(KindValidation, ErrCodeInvalidProvider, "Invalid provider")
	}
	if !configBool(o.config, "login."+provider+".enabled", false) {
		return nil, NewError(KindConfig, provider+"_not_enabled", "Login provider is not enabled")
	}
	client := o.clients[provider]
	if client == nil {
		return nil, o.providerError(provider, "client_missing", "Login provider is unavailable")
	}
	if missing := o.missingConfig(provider); len(missing) > 0 {
		return nil, NewError(KindConfig, provider+"_config_error", "Login provider is misconfigured").
			WithCause(fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return client, nil
}

func (o *ProviderOrchestrator) missingConfig(provider string) []string {
	keys := []string{"client_id", "client_secret"}
	if provider == ProviderAuth0 {
		keys = append([]string{"domain"}, keys...)
	}
	var missing []string
	for _, k := range keys {
		full := "login." + provider + "." + k
		if configString(o.config, full, "") == "" {
			missing = append(missing, full)
		}
	}
	return missing
}

func (o *ProviderOrchestrator) providerError(provider, suffix, message string) *Error {
	return NewError(KindProvider, provider+"_"+suffix, message)
}

func (o *ProviderOrchestrator) failure(ctx context.Context, provider string, err *Error) Outcome {
	o.logger.ErrorContext(ctx, "Provider login failed", "provider", provider, "code", err.Code, errAttr(err))
	base := configString(o.config, "login.redirect.failure", "/login")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return Outcome{Target: base + sep + "error=" + url.QueryEscape(err.Code), Err: err}
}

// clearState drops every oauth_<provider>_ key from the session.
func (o *ProviderOrchestrator) clearState(sess *Session, provider string) {
	prefix := "oauth_" + provider + "_"
	var stale []string
	for _, k := range sess.Keys() {
		if strings.HasPrefix(k, prefix) {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		sess.Remove(stale...)
	}
}

func stateSessionKey(provider string) string {
	return "oauth_" + provider + "_state"
}

func (o *ProviderOrchestrator) signState(provider, nonce string) (string, error) {
	now := o.Now()
	claims := stateClaims{
		Provider: provider,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateLifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.stateKey)
}

var errStateMismatch = errors.New("state does not match session")

func (o *ProviderOrchestrator) verifyState(provider, state, nonce string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		return o.stateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(o.Now))
	if err != nil {
		return err
	}
	if claims.Provider != provider || nonce == "" || claims.Nonce != nonce {
		return errStateMismatch
	}
	return nil
}
