package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kcgate/kcgate/internal/authn"
	"github.com/kcgate/kcgate/internal/denylist"
	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/oidc"
	"github.com/kcgate/kcgate/pkg/logger"
	"github.com/kcgate/kcgate/pkg/middleware"
)

// TokenIssuer is the part of the IdP token client the auth routes use.
// *keycloak.TokenClient implements it.
type TokenIssuer interface {
	AuthCodeURL(state, redirectURI, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*keycloak.TokenSet, error)
	PasswordGrant(ctx context.Context, username, password string) (*keycloak.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*keycloak.TokenSet, error)
	Revoke(ctx context.Context, token, hint string) error
}

// LoginRequest selects the grant: "auth_code" (code, redirect_uri, optional
// code_verifier) or "password" (development only).
type LoginRequest struct {
	Mode         string `json:"mode" binding:"required"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// maxDenylistTTL caps how long a logged-out access token is kept in the denylist.
const maxDenylistTTL = 24 * time.Hour

// AuthHandler passes login, refresh and logout through to the IdP.
type AuthHandler struct {
	tokens        TokenIssuer
	authenticator middleware.Authenticator
	revoked       denylist.Store
	passwordLogin bool
}

// NewAuthHandler wires the token client. Logout denylists only access tokens
// that a accepts; with a nil authenticator it never writes to revoked.
// revoked may be nil; passwordLogin enables mode=password.
func NewAuthHandler(tokens TokenIssuer, a middleware.Authenticator, revoked denylist.Store, passwordLogin bool) *AuthHandler {
	if revoked == nil {
		revoked = denylist.Nop{}
	}
	return &AuthHandler{tokens: tokens, authenticator: a, revoked: revoked, passwordLogin: passwordLogin}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg gin.IRouter) {
	a := rg.Group("/auth")
	a.GET("/authorize", h.Authorize)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
}

// Authorize returns the IdP authorization URL for the code flow.
func (h *AuthHandler) Authorize(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "redirect_uri required"})
		return
	}
	state := c.Query("state")
	if state == "" {
		state = uuid.NewString()
	}
	c.JSON(http.StatusOK, gin.H{
		"url":   h.tokens.AuthCodeURL(state, redirectURI, c.Query("code_challenge")),
		"state": state,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		ts  *keycloak.TokenSet
		err error
	)
	switch req.Mode {
	case "auth_code":
		if req.Code == "" || req.RedirectURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and redirect_uri required for auth_code mode"})
			return
		}
		logger.Debugf("Login(auth_code): code length=%d redirect_uri=%s", len(req.Code), req.RedirectURI)
		ts, err = h.tokens.ExchangeCode(c.Request.Context(), req.Code, req.RedirectURI, req.CodeVerifier)
	case "password":
		if !h.passwordLogin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password login disabled"})
			return
		}
		if req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required for password mode"})
			return
		}
		ts, err = h.tokens.PasswordGrant(c.Request.Context(), req.Username, req.Password)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
		return
	}
	if err != nil {
		respondError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

// Logout revokes the refresh token at the IdP and, when the caller sent a
// valid access token, denylists it until it expires.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), req.RefreshToken, "refresh_token"); err != nil {
		respondError(c, "logout", err)
		return
	}

	if at, ok := middleware.BearerToken(c.GetHeader("Authorization")); ok {
		if ttl := h.denylistTTL(c.Request.Context(), at); ttl > 0 {
			if err := h.revoked.Add(c.Request.Context(), at, ttl); err != nil {
				logger.Errorf("failed to denylist access token: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke access token"})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// denylistTTL is the remaining lifetime of an authenticated access token,
// capped at maxDenylistTTL. Zero means the token is not stored.
func (h *AuthHandler) denylistTTL(ctx context.Context, token string) time.Duration {
	if h.authenticator == nil {
		return 0
	}
	if _, err := h.authenticator.Authenticate(ctx, token); err != nil {
		logger.Debugw("logout: access token not denylisted", "reason", authn.Reason(err))
		return 0
	}
	exp, err := oidc.ExpiresAt(token)
	if err != nil {
		return 0
	}
	return min(time.Until(exp), maxDenylistTTL)
}
