package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kcgate/kcgate/internal/authn"
	"github.com/kcgate/kcgate/internal/denylist"
	"github.com/kcgate/kcgate/internal/identity"
	"github.com/kcgate/kcgate/pkg/logger"
	"github.com/kcgate/kcgate/pkg/metrics"
)

// IdentityKey is the gin context key holding the *identity.Identity.
const IdentityKey = "identity"

// Authenticator is the minimal interface the middleware depends on. *authn.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*identity.Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Unauthorized writes the one response every authentication failure gets.
func Unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware returns a Gin middleware that authenticates Bearer tokens.
// revoked may be nil when no denylist is configured.
func AuthMiddleware(a Authenticator, revoked denylist.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			reject(c, "missing_token", nil)
			return
		}

		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			reject(c, authn.Reason(err), err)
			return
		}

		if revoked != nil {
			denied, err := revoked.Contains(c.Request.Context(), token)
			if err != nil {
				logger.Errorf("denylist lookup failed, rejecting request: %v", err)
				reject(c, "denylist_unavailable", err)
				return
			}
			if denied {
				reject(c, "revoked", nil)
				return
			}
		}

		metrics.AuthnRequests.WithLabelValues("success", "").Inc()
		c.Set(IdentityKey, id)
		c.Request = c.Request.WithContext(identity.NewContext(c.Request.Context(), id))
		c.Next()
	}
}

func reject(c *gin.Context, reason string, err error) {
	metrics.AuthnRequests.WithLabelValues("failure", reason).Inc()
	if err != nil {
		logger.Debugw("authentication rejected", "reason", reason, "path", c.FullPath(), "error", err.Error())
	} else {
		logger.Debugw("authentication rejected", "reason", reason, "path", c.FullPath())
	}
	Unauthorized(c)
}

// GetIdentity returns the identity stored by AuthMiddleware.
func GetIdentity(c *gin.Context) (*identity.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*identity.Identity)
	return id, ok && id != nil
}
