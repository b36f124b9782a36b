package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcgate/kcgate/internal/policy"
	"github.com/kcgate/kcgate/pkg/logger"
	"github.com/kcgate/kcgate/pkg/metrics"
)

// RequirePolicy admits callers whose roles satisfy the named policy. It must
// run after AuthMiddleware; a request without an identity is unauthenticated,
// not forbidden.
func RequirePolicy(set *policy.Set, name string) gin.HandlerFunc {
	if !set.Has(name) {
		logger.Errorf("route guarded by unregistered policy %q; every request will be refused", name)
	}
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			Unauthorized(c)
			return
		}
		err := set.Evaluate(name, id)
		switch {
		case err == nil:
			metrics.AuthzDecisions.WithLabelValues(name, "allow").Inc()
			c.Next()
		case errors.Is(err, policy.ErrUnknownPolicy):
			metrics.AuthzDecisions.WithLabelValues(name, "unknown").Inc()
			logger.Errorf("policy evaluation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		default:
			metrics.AuthzDecisions.WithLabelValues(name, "deny").Inc()
			logger.Debugw("policy denied", "policy", name, "sub", id.Subject, "roles", id.Roles.Sorted())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}
