// Package oidctest runs an in-process identity provider for tests: discovery,
// JWKS, token and revoke endpoints, and the subset of the admin REST API the
// gateway calls. Tokens are RS256 JWTs shaped like Keycloak's.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	Realm        = "test"
	ClientID     = "kcgate"
	ClientSecret = "kcgate-secret"
	KeyID        = "test-key"
	TokenTTL     = 5 * time.Minute
)

// Server is a fake Keycloak realm.
type Server struct {
	URL    string
	Issuer string

	srv *httptest.Server
	key *rsa.PrivateKey

	mu          sync.Mutex
	users       map[string]*user
	order       []string
	realmRoles  map[string]role
	clientUUID  string
	clientRoles map[string]role
	codes       map[string]string
	refresh     map[string]string
	adminTokens map[string]bool
	revoked     []string

	jwksHits      atomic.Int64
	discoveryHits atomic.Int64
}

// New starts a fake provider and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &Server{
		key:         key,
		users:       map[string]*user{},
		realmRoles:  map[string]role{},
		clientUUID:  randomID(),
		clientRoles: map[string]role{},
		codes:       map[string]string{},
		refresh:     map[string]string{},
		adminTokens: map[string]bool{},
	}
	for _, r := range []string{"admin", "user", "offline_access"} {
		s.realmRoles[r] = role{ID: randomID(), Name: r, ContainerID: Realm}
	}
	s.clientRoles["editor"] = role{ID: randomID(), Name: "editor", ClientRole: true, ContainerID: s.clientUUID}

	mux := http.NewServeMux()
	realm := "/realms/" + Realm
	mux.HandleFunc("GET "+realm+"/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("GET "+realm+"/protocol/openid-connect/certs", s.handleJWKS)
	mux.HandleFunc("POST "+realm+"/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc("POST "+realm+"/protocol/openid-connect/revoke", s.handleRevoke)
	s.registerAdmin(mux)

	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL
	s.Issuer = s.srv.URL + realm
	t.Cleanup(s.srv.Close)
	return s
}

// Client returns an HTTP client wired to the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// JWKSURL is the location of the published key set.
func (s *Server) JWKSURL() string { return s.Issuer + "/protocol/openid-connect/certs" }

// JWKSHits counts key set downloads.
func (s *Server) JWKSHits() int64 { return s.jwksHits.Load() }

// DiscoveryHits counts discovery document downloads.
func (s *Server) DiscoveryHits() int64 { return s.discoveryHits.Load() }

// Revoked lists tokens posted to the revoke endpoint.
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// Claims returns a valid claim set for sub issued by this server.
func (s *Server) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": s.Issuer,
		"sub": sub,
		"aud": "account",
		"azp": ClientID,
		"typ": "Bearer",
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}
}

// Sign signs claims with the server's published key.
func (s *Server) Sign(claims jwt.MapClaims) string {
	return SignWithKey(s.key, KeyID, claims)
}

// SignWithKey signs claims with an arbitrary key, e.g. one the server never published.
func SignWithKey(key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		panic(err)
	}
	return signed
}

// IssueCode registers a one-time authorization code for the user.
func (s *Server) IssueCode(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := randomID()
	s.codes[code] = userID
	return code
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.discoveryHits.Add(1)
	base := s.Issuer + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 s.Issuer,
		"authorization_endpoint": base + "/auth",
		"token_endpoint":         base + "/token",
		"revocation_endpoint":    base + "/revoke",
		"end_session_endpoint":   base + "/logout",
		"userinfo_endpoint":      base + "/userinfo",
		"jwks_uri":               s.JWKSURL(),
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.jwksHits.Add(1)
	key, err := jwk.Import(&s.key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, KeyID)
	_ = key.Set(jwk.AlgorithmKey, "RS256")
	_ = key.Set(jwk.KeyUsageKey, "sig")
	set := jwk.NewSet()
	_ = set.AddKey(key)
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) clientAuthenticated(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	return id == ClientID && secret == ClientSecret
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !s.clientAuthenticated(r) {
		oauthError(w, http.StatusUnauthorized, "unauthorized_client")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		uid, ok := s.codes[r.PostForm.Get("code")]
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.codes, r.PostForm.Get("code"))
		s.writeUserTokens(w, s.users[uid])
	case "password":
		u := s.findByUsername(r.PostForm.Get("username"))
		if u == nil || u.password == "" || u.password != r.PostForm.Get("password") {
			oauthError(w, http.StatusUnauthorized, "invalid_grant")
			return
		}
		s.writeUserTokens(w, u)
	case "refresh_token":
		uid, ok := s.refresh[r.PostForm.Get("refresh_token")]
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.refresh, r.PostForm.Get("refresh_token"))
		s.writeUserTokens(w, s.users[uid])
	case "client_credentials":
		claims := s.Claims("service-account-" + ClientID)
		access := s.Sign(claims)
		s.adminTokens[access] = true
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   int(TokenTTL.Seconds()),
		})
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// writeUserTokens must be called with s.mu held.
func (s *Server) writeUserTokens(w http.ResponseWriter, u *user) {
	if u == nil {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	claims := s.Claims(u.ID)
	claims["preferred_username"] = u.Username
	claims["email"] = u.Email
	claims["name"] = strings.TrimSpace(u.FirstName + " " + u.LastName)
	claims["realm_access"] = map[string]any{"roles": keys(u.realmRoles)}
	claims["resource_access"] = map[string]any{ClientID: map[string]any{"roles": keys(u.clientRoles)}}
	access := s.Sign(claims)

	idClaims := s.Claims(u.ID)
	idClaims["aud"] = ClientID
	idClaims["typ"] = "ID"
	idClaims["email"] = u.Email

	refresh := randomID()
	s.refresh[refresh] = u.ID
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       access,
		"id_token":           s.Sign(idClaims),
		"refresh_token":      refresh,
		"token_type":         "Bearer",
		"expires_in":         int(TokenTTL.Seconds()),
		"refresh_expires_in": 1800,
		"scope":              "openid email profile",
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !s.clientAuthenticated(r) {
		oauthError(w, http.StatusUnauthorized, "unauthorized_client")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := r.PostForm.Get("token")
	s.revoked = append(s.revoked, tok)
	delete(s.refresh, tok)
	w.WriteHeader(http.StatusOK)
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
