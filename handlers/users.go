package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kcgate/kcgate/internal/models"
	"github.com/kcgate/kcgate/internal/users"
)

// UserService is implemented by *users.Service.
type UserService interface {
	List(ctx context.Context, q users.ListQuery) ([]models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, in models.CreateUserInput) (*models.User, error)
	Update(ctx context.Context, id string, in models.UpdateUserInput) (*models.User, error)
	Delete(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, password string, temporary bool) error
	Roles(ctx context.Context, id string) (*models.RoleAssignment, error)
	AssignRoles(ctx context.Context, id string, a models.RoleAssignment) error
	RemoveRoles(ctx context.Context, id string, a models.RoleAssignment) error
	RealmRoles(ctx context.Context) ([]models.Role, error)
}

type passwordRequest struct {
	Password  string `json:"password" binding:"required"`
	Temporary bool   `json:"temporary"`
}

// UsersHandler exposes user management. Callers must guard the group.
type UsersHandler struct {
	svc UserService
}

func NewUsersHandler(svc UserService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

func (h *UsersHandler) Register(rg gin.IRouter) {
	rg.GET("/users", h.List)
	rg.POST("/users", h.Create)
	rg.GET("/users/:id", h.Get)
	rg.PUT("/users/:id", h.Update)
	rg.DELETE("/users/:id", h.Delete)
	rg.GET("/users/:id/roles", h.Roles)
	rg.POST("/users/:id/roles", h.AssignRoles)
	rg.DELETE("/users/:id/roles", h.RemoveRoles)
	rg.PUT("/users/:id/password", h.ResetPassword)
	rg.GET("/roles", h.RealmRoles)
}

func (h *UsersHandler) List(c *gin.Context) {
	q := users.ListQuery{Search: c.Query("search")}
	var err error
	if q.First, err = intQuery(c, "first"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "first must be a non-negative integer"})
		return
	}
	if q.Max, err = intQuery(c, "max"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max must be a non-negative integer"})
		return
	}
	list, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *UsersHandler) Get(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UsersHandler) Create(c *gin.Context) {
	var in models.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, "create user", err)
		return
	}
	c.Header("Location", "/api/v1/users/"+u.ID)
	c.JSON(http.StatusCreated, u)
}

func (h *UsersHandler) Update(c *gin.Context) {
	var in models.UpdateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, "update user", err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UsersHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UsersHandler) Roles(c *gin.Context) {
	ra, err := h.svc.Roles(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get user roles", err)
		return
	}
	c.JSON(http.StatusOK, ra)
}

func (h *UsersHandler) AssignRoles(c *gin.Context) {
	h.changeRoles(c, h.svc.AssignRoles, "assign roles")
}

func (h *UsersHandler) RemoveRoles(c *gin.Context) {
	h.changeRoles(c, h.svc.RemoveRoles, "remove roles")
}

func (h *UsersHandler) changeRoles(c *gin.Context, apply func(context.Context, string, models.RoleAssignment) error, op string) {
	var in models.RoleAssignment
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := apply(c.Request.Context(), id, in); err != nil {
		respondError(c, op, err)
		return
	}
	ra, err := h.svc.Roles(c.Request.Context(), id)
	if err != nil {
		respondError(c, "get user roles", err)
		return
	}
	c.JSON(http.StatusOK, ra)
}

func (h *UsersHandler) ResetPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), c.Param("id"), req.Password, req.Temporary); err != nil {
		respondError(c, "reset password", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UsersHandler) RealmRoles(c *gin.Context) {
	roles, err := h.svc.RealmRoles(c.Request.Context())
	if err != nil {
		respondError(c, "list roles", err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
