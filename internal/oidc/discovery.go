package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/kcgate/kcgate/pkg/logger"
)

// Metadata is the subset of the provider's discovery document the gateway consumes.
type Metadata struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
}

// Discover fetches {issuer}/.well-known/openid-configuration. The document's
// issuer must match the requested one.
func Discover(ctx context.Context, issuer string, client *http.Client) (*Metadata, error) {
	if issuer == "" {
		return nil, fmt.Errorf("oidc: issuer required")
	}
	if client != nil {
		ctx = gooidc.ClientContext(ctx, client)
	}
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var md Metadata
	if err := provider.Claims(&md); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if md.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}
	// Keycloak always serves these; older realms omit revocation_endpoint from discovery.
	base := strings.TrimRight(md.Issuer, "/") + "/protocol/openid-connect"
	if md.TokenEndpoint == "" {
		md.TokenEndpoint = base + "/token"
	}
	if md.RevocationEndpoint == "" {
		md.RevocationEndpoint = base + "/revoke"
	}
	return &md, nil
}

// DiscoverWithRetry retries Discover with exponential backoff, for startups
// that race the identity provider.
func DiscoverWithRetry(ctx context.Context, issuer string, client *http.Client, attempts uint) (*Metadata, error) {
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	op := func() (*Metadata, error) {
		return Discover(ctx, issuer, client)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warnf("OIDC discovery for %s failed, retrying in %s: %v", issuer, d, err)
		}),
	)
}
