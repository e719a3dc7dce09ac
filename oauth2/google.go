package oauth2

import (
	"context"
	"errors"

	ma "github.com/panyam/microauth"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// GoogleClient runs the Google authorization code flow and hands back the
// ID token for verification.
type GoogleClient struct {
	*BaseOAuth2
}

func NewGoogleClient(clientID, clientSecret, callbackURL string) *GoogleClient {
	return &GoogleClient{
		BaseOAuth2: newBaseOAuth2(clientID, clientSecret, callbackURL, google.Endpoint,
			[]string{"openid", "email", "profile"}),
	}
}

// Exchange trades code for tokens. Credentials are empty when the token
// response has no id_token.
func (g *GoogleClient) Exchange(ctx context.Context, code string) (*ma.ProviderCredentials, error) {
	token, err := g.exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	idToken, _ := token.Extra("id_token").(string)
	return &ma.ProviderCredentials{IDToken: idToken}, nil
}

// GoogleVerifier checks Google ID tokens against the client id.
type GoogleVerifier struct {
	ClientID string

	// Validate defaults to idtoken.Validate.
	Validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{ClientID: clientID, Validate: idtoken.Validate}
}

var errNoSubject = errors.New("id token has no subject")

// VerifyIDToken validates the token signature and audience and maps the
// claims to a profile.
func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, idToken string) (*ma.ProviderProfile, error) {
	validate := v.Validate
	if validate == nil {
		validate = idtoken.Validate
	}
	payload, err := validate(ctx, idToken, v.ClientID)
	if err != nil {
		return nil, err
	}
	if payload.Subject == "" {
		return nil, errNoSubject
	}
	claim := func(k string) string {
		s, _ := payload.Claims[k].(string)
		return s
	}
	verified, _ := payload.Claims["email_verified"].(bool)
	return &ma.ProviderProfile{
		Subject:       payload.Subject,
		Email:         claim("email"),
		EmailVerified: verified,
		Name:          claim("name"),
		Picture:       claim("picture"),
		Locale:        claim("locale"),
	}, nil
}
