package keycloak

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcgate/kcgate/internal/oidc"
	"github.com/kcgate/kcgate/internal/oidctest"
)

func newTokenClient(t *testing.T, secret string) (*oidctest.Server, *TokenClient) {
	t.Helper()
	idp := oidctest.New(t)
	md, err := oidc.Discover(context.Background(), idp.Issuer, idp.Client())
	require.NoError(t, err)
	return idp, NewTokenClient(md, oidctest.ClientID, secret, idp.Client())
}

func TestPasswordGrant(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)
	idp.AddUser("jane", "s3cret", "user")

	ts, err := tc.PasswordGrant(context.Background(), "jane", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, ts.AccessToken)
	assert.NotEmpty(t, ts.RefreshToken)
	assert.NotEmpty(t, ts.IDToken)
	assert.Equal(t, "Bearer", ts.TokenType)
	assert.EqualValues(t, 300, ts.ExpiresIn)
	assert.EqualValues(t, 1800, ts.RefreshExpiresIn)
	assert.Contains(t, ts.Scope, "openid")

	claims, err := oidc.ParseUnverified(ts.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "jane", claims["preferred_username"])
}

func TestPasswordGrant_WrongPassword(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)
	idp.AddUser("jane", "s3cret")

	_, err := tc.PasswordGrant(context.Background(), "jane", "nope")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestPasswordGrant_BadClientSecret(t *testing.T) {
	idp, tc := newTokenClient(t, "wrong")
	idp.AddUser("jane", "s3cret")

	_, err := tc.PasswordGrant(context.Background(), "jane", "s3cret")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeCode(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)
	uid := idp.AddUser("jane", "")
	code := idp.IssueCode(uid)

	ts, err := tc.ExchangeCode(context.Background(), code, "http://localhost/cb", "verifier-123")
	require.NoError(t, err)
	assert.NotEmpty(t, ts.AccessToken)

	// codes are single use
	_, err = tc.ExchangeCode(context.Background(), code, "http://localhost/cb", "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefresh(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)
	idp.AddUser("jane", "s3cret")
	first, err := tc.PasswordGrant(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	second, err := tc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = tc.Refresh(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestClientCredentials(t *testing.T) {
	_, tc := newTokenClient(t, oidctest.ClientSecret)

	ts, err := tc.ClientCredentials(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ts.AccessToken)
	assert.Empty(t, ts.RefreshToken)
}

func TestRevoke(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)
	idp.AddUser("jane", "s3cret")
	ts, err := tc.PasswordGrant(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	require.NoError(t, tc.Revoke(context.Background(), ts.RefreshToken, "refresh_token"))
	assert.Contains(t, idp.Revoked(), ts.RefreshToken)

	_, err = tc.Refresh(context.Background(), ts.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRevoke_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tc := NewTokenClient(&oidc.Metadata{RevocationEndpoint: srv.URL, TokenEndpoint: srv.URL}, "c", "s", srv.Client())

	err := tc.Revoke(context.Background(), "t", "")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestTokenEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	tc := NewTokenClient(&oidc.Metadata{TokenEndpoint: addr + "/token"}, "c", "s", nil)

	_, err := tc.PasswordGrant(context.Background(), "u", "p")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestAuthCodeURL(t *testing.T) {
	idp, tc := newTokenClient(t, oidctest.ClientSecret)

	raw := tc.AuthCodeURL("st4te", "http://localhost/cb", "chal")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, idp.Issuer+"/protocol/openid-connect/auth", u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, oidctest.ClientID, q.Get("client_id"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	assert.Equal(t, "chal", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "openid profile email", q.Get("scope"))

	plain, err := url.Parse(tc.AuthCodeURL("s", "http://localhost/cb", ""))
	require.NoError(t, err)
	assert.Empty(t, plain.Query().Get("code_challenge"))
}
