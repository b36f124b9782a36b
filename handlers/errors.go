package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/users"
	"github.com/kcgate/kcgate/pkg/logger"
)

// respondError maps service and IdP errors to a status. IdP response bodies
// are never passed through; validation messages are our own and are.
func respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidInput), errors.Is(err, users.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, keycloak.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, keycloak.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, keycloak.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "rejected by identity provider"})
	case errors.Is(err, keycloak.ErrInvalidGrant):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
	default:
		logger.Errorf("%s: %v", op, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "identity provider error"})
	}
}
