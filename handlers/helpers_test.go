package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kcgate/kcgate/internal/authn"
	"github.com/kcgate/kcgate/internal/denylist"
	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/oidc"
	"github.com/kcgate/kcgate/internal/oidctest"
	"github.com/kcgate/kcgate/internal/policy"
	"github.com/kcgate/kcgate/internal/users"
	"github.com/kcgate/kcgate/pkg/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

// env is a gateway router wired to a fake IdP and an in-process Redis.
type env struct {
	idp     *oidctest.Server
	redis   *mr.Miniredis
	revoked denylist.Store
	router  *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	idp := oidctest.New(t)
	m := mr.RunT(t)
	revoked := denylist.NewRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()}), "")

	md, err := oidc.Discover(context.Background(), idp.Issuer, idp.Client())
	require.NoError(t, err)
	keys := oidc.NewKeyCache(md.JWKSURI, oidc.WithHTTPClient(idp.Client()))
	a, err := authn.New(keys, authn.DefaultOptions(idp.Issuer, oidctest.ClientID))
	require.NoError(t, err)

	tc := keycloak.NewTokenClient(md, oidctest.ClientID, oidctest.ClientSecret, idp.Client())
	ac := keycloak.NewAdminClient(keycloak.AdminConfig{
		BaseURL:      idp.URL,
		Realm:        oidctest.Realm,
		TokenURL:     md.TokenEndpoint,
		ClientID:     oidctest.ClientID,
		ClientSecret: oidctest.ClientSecret,
		HTTPClient:   idp.Client(),
	})
	set := policy.MustNewSet(policy.Defaults())

	r := gin.New()
	NewAuthHandler(tc, a, revoked, true).Register(r)
	api := r.Group("/api/v1", middleware.AuthMiddleware(a, revoked))
	NewMeHandler(set).Register(api)
	NewUsersHandler(users.NewService(ac, oidctest.ClientID)).Register(api.Group("", middleware.RequirePolicy(set, policy.AdminOnly)))

	return &env{idp: idp, redis: m, revoked: revoked, router: r}
}

// login returns an access token for a fresh user holding realmRoles.
func (e *env) login(t *testing.T, username string, realmRoles ...string) keycloak.TokenSet {
	t.Helper()
	e.idp.AddUser(username, "pw-"+username, realmRoles...)
	rw := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"mode": "password", "username": username, "password": "pw-" + username,
	})
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	var ts keycloak.TokenSet
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &ts))
	return ts
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rw := httptest.NewRecorder()
	e.router.ServeHTTP(rw, req)
	return rw
}

func decode[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &v), rw.Body.String())
	return v
}
