// Package authn validates bearer tokens issued by the identity provider and
// turns their claims into an identity.Identity.
package authn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kcgate/kcgate/internal/identity"
)

// Rejection taxonomy. Every error returned by Authenticate wraps exactly one of these.
// They are for logs and metrics; callers over HTTP only ever see "unauthorized".
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrExpired          = errors.New("token expired")
	ErrNotYetValid      = errors.New("token not yet valid")
	ErrAudienceMismatch = errors.New("token audience mismatch")
)

// DefaultAlgorithms are the asymmetric algorithms Keycloak signs with.
var DefaultAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// KeySource resolves a key id to a public key. *oidc.KeyCache implements it.
type KeySource interface {
	Key(ctx context.Context, kid string) (interface{}, error)
}

// Options controls which checks run. The Validate* switches are explicit so a
// zero Options does not silently disable anything: use DefaultOptions.
type Options struct {
	Issuer   string
	Audience string
	ClientID string

	ValidateIssuer    bool
	ValidateAudience  bool
	ValidateLifetime  bool
	ValidateSignature bool

	Algorithms []string
	Now        func() time.Time
}

// DefaultOptions enables every check except audience.
func DefaultOptions(issuer, clientID string) Options {
	return Options{
		Issuer:            issuer,
		ClientID:          clientID,
		ValidateIssuer:    true,
		ValidateLifetime:  true,
		ValidateSignature: true,
	}
}

// Authenticator is safe for concurrent use.
type Authenticator struct {
	opts   Options
	keys   KeySource
	parser *jwt.Parser
}

// New builds an Authenticator. keys may be nil only when signature validation is off.
func New(keys KeySource, opts Options) (*Authenticator, error) {
	if opts.ValidateSignature && keys == nil {
		return nil, fmt.Errorf("authn: key source required when signature validation is enabled")
	}
	if opts.ValidateIssuer && opts.Issuer == "" {
		return nil, fmt.Errorf("authn: issuer required when issuer validation is enabled")
	}
	if opts.ValidateAudience && opts.Audience == "" {
		return nil, fmt.Errorf("authn: audience required when audience validation is enabled")
	}
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = DefaultAlgorithms
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{
		opts: opts,
		keys: keys,
		// registered claims are checked below, in a fixed order
		parser: jwt.NewParser(jwt.WithValidMethods(opts.Algorithms), jwt.WithoutClaimsValidation()),
	}, nil
}

// Authenticate validates raw and returns the caller's identity.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*identity.Identity, error) {
	claims, err := a.parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := a.verifyClaims(claims); err != nil {
		return nil, err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}
	return identity.FromClaims(identity.Claims(claims), a.opts.ClientID), nil
}

func (a *Authenticator) parse(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if !a.opts.ValidateSignature {
		if _, _, err := a.parser.ParseUnverified(raw, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return claims, nil
	}

	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.Key(ctx, kid)
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		// bad signature, disallowed alg, unknown kid and key fetch failures alike
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}

func (a *Authenticator) verifyClaims(claims jwt.MapClaims) error {
	if a.opts.ValidateIssuer {
		iss, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if iss != a.opts.Issuer {
			return fmt.Errorf("%w: got %q", ErrIssuerMismatch, iss)
		}
	}

	if a.opts.ValidateLifetime {
		now := a.opts.Now()
		exp, err := claims.GetExpirationTime()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if exp == nil {
			return fmt.Errorf("%w: no exp claim", ErrExpired)
		}
		// zero skew: a token is dead at the exp second itself
		if !now.Before(exp.Time) {
			return fmt.Errorf("%w: at %s", ErrExpired, exp.Time.UTC().Format(time.RFC3339))
		}
		nbf, err := claims.GetNotBefore()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if nbf != nil && now.Before(nbf.Time) {
			return fmt.Errorf("%w: until %s", ErrNotYetValid, nbf.Time.UTC().Format(time.RFC3339))
		}
	}

	if a.opts.ValidateAudience && a.opts.Audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		if !slices.Contains(aud, a.opts.Audience) {
			return fmt.Errorf("%w: %v", ErrAudienceMismatch, []string(aud))
		}
	}
	return nil
}

// Reason maps an Authenticate error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "unknown"
	}
}
