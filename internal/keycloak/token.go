// Package keycloak talks to the identity provider: the OAuth2 token endpoint
// for the pass-through login flows and the admin REST API for user management.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kcgate/kcgate/internal/oidc"
	"github.com/kcgate/kcgate/pkg/logger"
)

// DefaultScopes are requested by the authorization and password flows.
var DefaultScopes = []string{"openid", "profile", "email"}

// TokenSet is what the token endpoint hands back, reshaped for API callers.
type TokenSet struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	IDToken          string `json:"idToken,omitempty"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

func tokenSetFrom(t *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
	}
	if ts.ExpiresIn == 0 && !t.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(t.Expiry).Round(time.Second).Seconds())
	}
	if v, ok := t.Extra("id_token").(string); ok {
		ts.IDToken = v
	}
	if v, ok := t.Extra("scope").(string); ok {
		ts.Scope = v
	}
	switch v := t.Extra("refresh_expires_in").(type) {
	case float64:
		ts.RefreshExpiresIn = int64(v)
	case string:
		ts.RefreshExpiresIn, _ = strconv.ParseInt(v, 10, 64)
	}
	return ts
}

// TokenClient runs OAuth2 grants against the realm's token endpoint.
type TokenClient struct {
	oauth     *oauth2.Config
	revokeURL string
	client    *http.Client
}

// NewTokenClient builds a client for the endpoints in md. hc may be nil.
func NewTokenClient(md *oidc.Metadata, clientID, clientSecret string, hc *http.Client) *TokenClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   md.AuthorizationEndpoint,
				TokenURL:  md.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: DefaultScopes,
		},
		revokeURL: md.RevocationEndpoint,
		client:    hc,
	}
}

func (c *TokenClient) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

// AuthCodeURL returns the authorization endpoint URL to send a browser to.
// A non-empty codeChallenge adds PKCE S256 parameters.
func (c *TokenClient) AuthCodeURL(state, redirectURI, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", redirectURI)}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode runs the authorization_code grant.
func (c *TokenClient) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", redirectURI)}
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	start := time.Now()
	tok, err := c.oauth.Exchange(c.ctx(ctx), code, opts...)
	observe("token.authorization_code", start, 0, err)
	if err != nil {
		return nil, grantError("authorization_code", err)
	}
	return tokenSetFrom(tok), nil
}

// PasswordGrant runs the resource-owner password grant. Development only.
func (c *TokenClient) PasswordGrant(ctx context.Context, username, password string) (*TokenSet, error) {
	start := time.Now()
	tok, err := c.oauth.PasswordCredentialsToken(c.ctx(ctx), username, password)
	observe("token.password", start, 0, err)
	if err != nil {
		return nil, grantError("password", err)
	}
	return tokenSetFrom(tok), nil
}

// Refresh redeems a refresh token.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	start := time.Now()
	// no access token, so the source goes straight to the endpoint
	src := c.oauth.TokenSource(c.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	observe("token.refresh_token", start, 0, err)
	if err != nil {
		return nil, grantError("refresh_token", err)
	}
	return tokenSetFrom(tok), nil
}

// ClientCredentials fetches a token for the gateway's own client.
func (c *TokenClient) ClientCredentials(ctx context.Context) (*TokenSet, error) {
	start := time.Now()
	tok, err := c.clientCredentials().Token(c.ctx(ctx))
	observe("token.client_credentials", start, 0, err)
	if err != nil {
		return nil, grantError("client_credentials", err)
	}
	return tokenSetFrom(tok), nil
}

func (c *TokenClient) clientCredentials() *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     c.oauth.ClientID,
		ClientSecret: c.oauth.ClientSecret,
		TokenURL:     c.oauth.Endpoint.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
}

// Revoke asks the IdP to invalidate token. hint is "refresh_token" or "access_token" and may be empty.
func (c *TokenClient) Revoke(ctx context.Context, token, hint string) error {
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.oauth.ClientID), url.QueryEscape(c.oauth.ClientSecret))

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observe("token.revoke", start, 0, err)
		return fmt.Errorf("revoke: %w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	observe("token.revoke", start, resp.StatusCode, nil)
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warnf("token revocation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return fmt.Errorf("revoke: %w: HTTP %d", ErrUpstream, resp.StatusCode)
	}
	return nil
}

// grantError sorts token endpoint failures into ErrInvalidGrant and ErrUpstream.
func grantError(grant string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_client", "unauthorized_client":
			logger.Errorf("token endpoint rejected the gateway client (%s grant): %s", grant, re.ErrorCode)
			return fmt.Errorf("%s grant: %w: %s", grant, ErrUpstream, re.ErrorCode)
		case "invalid_grant":
			return fmt.Errorf("%s grant: %w", grant, ErrInvalidGrant)
		}
		if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%s grant: %w: %s", grant, ErrInvalidGrant, re.ErrorCode)
		}
	}
	return fmt.Errorf("%s grant: %w: %v", grant, ErrUpstream, err)
}
