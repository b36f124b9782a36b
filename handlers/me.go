package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcgate/kcgate/internal/policy"
	"github.com/kcgate/kcgate/pkg/middleware"
)

// MeHandler serves the caller's own identity. Both routes sit behind AuthMiddleware.
type MeHandler struct {
	policies *policy.Set
}

func NewMeHandler(policies *policy.Set) *MeHandler {
	return &MeHandler{policies: policies}
}

func (h *MeHandler) Register(rg gin.IRouter) {
	rg.GET("/me", h.Me)
	rg.GET("/policies/:name", h.Policy)
}

func (h *MeHandler) Me(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, id)
}

// Policy reports whether the caller satisfies the named policy.
func (h *MeHandler) Policy(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Unauthorized(c)
		return
	}
	name := c.Param("name")
	if !h.policies.Has(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown policy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"policy":  name,
		"allowed": h.policies.Evaluate(name, id) == nil,
		"roles":   h.policies.Roles(name),
	})
}
