package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcgate/kcgate/internal/models"
)

func TestUsers_RequireAdmin(t *testing.T) {
	e := newEnv(t)
	user := e.login(t, "plain", "user")
	roleless := e.login(t, "nobody")

	rw := e.do(t, http.MethodGet, "/api/v1/users", user.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rw.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rw.Body.String())

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/v1/roles", roleless.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/users", "", nil).Code)
}

func TestUsers_CRUD(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "root", "admin")

	rw := e.do(t, http.MethodPost, "/api/v1/users", admin.AccessToken, map[string]any{
		"username":    "alice",
		"email":       "alice@example.com",
		"firstName":   "Alice",
		"password":    "pw",
		"realmRoles":  []string{"user"},
		"clientRoles": []string{"editor"},
	})
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	created := decode[models.User](t, rw)
	assert.Equal(t, "/api/v1/users/"+created.ID, rw.Header().Get("Location"))
	assert.True(t, created.Enabled)
	assert.Equal(t, []string{"user"}, created.RealmRoles)
	assert.Equal(t, []string{"editor"}, created.ClientRoles)

	rw = e.do(t, http.MethodGet, "/api/v1/users/"+created.ID, admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, created, decode[models.User](t, rw))

	rw = e.do(t, http.MethodGet, "/api/v1/users?search=ali", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	list := decode[[]models.User](t, rw)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	rw = e.do(t, http.MethodPut, "/api/v1/users/"+created.ID, admin.AccessToken, map[string]any{"lastName": "Liddell", "enabled": false})
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	updated := decode[models.User](t, rw)
	assert.Equal(t, "Liddell", updated.LastName)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.False(t, updated.Enabled)

	rw = e.do(t, http.MethodDelete, "/api/v1/users/"+created.ID, admin.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rw.Code)

	rw = e.do(t, http.MethodGet, "/api/v1/users/"+created.ID, admin.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rw.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rw.Body.String())
}

func TestUsers_CreateErrors(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "root", "admin")

	rw := e.do(t, http.MethodPost, "/api/v1/users", admin.AccessToken, map[string]any{"username": "root"})
	assert.Equal(t, http.StatusConflict, rw.Code)
	assert.JSONEq(t, `{"error":"conflict"}`, rw.Body.String())

	rw = e.do(t, http.MethodPost, "/api/v1/users", admin.AccessToken, map[string]any{"username": ""})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = e.do(t, http.MethodPost, "/api/v1/users", admin.AccessToken, map[string]any{"username": "x", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = e.do(t, http.MethodPost, "/api/v1/users", admin.AccessToken, map[string]any{"username": "y", "realmRoles": []string{"ghost"}})
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Contains(t, rw.Body.String(), "ghost")

	rw = e.do(t, http.MethodGet, "/api/v1/users?max=-1", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestUsers_Roles(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "root", "admin")
	id := e.idp.AddUser("bob", "", "user")

	rw := e.do(t, http.MethodPost, "/api/v1/users/"+id+"/roles", admin.AccessToken, map[string]any{
		"realmRoles": []string{"admin"}, "clientRoles": []string{"editor"},
	})
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	ra := decode[models.RoleAssignment](t, rw)
	assert.Equal(t, []string{"admin", "user"}, ra.RealmRoles)
	assert.Equal(t, []string{"editor"}, ra.ClientRoles)

	rw = e.do(t, http.MethodDelete, "/api/v1/users/"+id+"/roles", admin.AccessToken, map[string]any{"realmRoles": []string{"admin"}})
	require.Equal(t, http.StatusOK, rw.Code)
	ra = decode[models.RoleAssignment](t, rw)
	assert.Equal(t, []string{"user"}, ra.RealmRoles)

	rw = e.do(t, http.MethodGet, "/api/v1/users/"+id+"/roles", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = e.do(t, http.MethodPost, "/api/v1/users/"+id+"/roles", admin.AccessToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = e.do(t, http.MethodGet, "/api/v1/roles", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rw.Code)
	roles := decode[[]models.Role](t, rw)
	assert.Len(t, roles, 3)
}

func TestUsers_ResetPassword(t *testing.T) {
	e := newEnv(t)
	admin := e.login(t, "root", "admin")
	id := e.idp.AddUser("carol", "old")

	rw := e.do(t, http.MethodPut, "/api/v1/users/"+id+"/password", admin.AccessToken, map[string]any{"password": "new"})
	require.Equal(t, http.StatusNoContent, rw.Code)
	info, _ := e.idp.User(id)
	assert.Equal(t, "new", info.Password)

	rw = e.do(t, http.MethodPut, "/api/v1/users/"+id+"/password", admin.AccessToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = e.do(t, http.MethodPut, "/api/v1/users/missing/password", admin.AccessToken, map[string]any{"password": "x"})
	assert.Equal(t, http.StatusNotFound, rw.Code)
}
