package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/models"
	"github.com/kcgate/kcgate/internal/oidctest"
)

func newService(t *testing.T) (*oidctest.Server, *Service) {
	t.Helper()
	idp := oidctest.New(t)
	ac := keycloak.NewAdminClient(keycloak.AdminConfig{
		BaseURL:      idp.URL,
		Realm:        oidctest.Realm,
		TokenURL:     idp.Issuer + "/protocol/openid-connect/token",
		ClientID:     oidctest.ClientID,
		ClientSecret: oidctest.ClientSecret,
		HTTPClient:   idp.Client(),
	})
	return idp, NewService(ac, oidctest.ClientID)
}

func TestCreateAndGet(t *testing.T) {
	idp, svc := newService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, models.CreateUserInput{
		Username:    "alice",
		Email:       "alice@example.com",
		FirstName:   "Alice",
		Password:    "initial-pw",
		RealmRoles:  []string{"user", "user"},
		ClientRoles: []string{"editor"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.Enabled)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, []string{"user"}, u.RealmRoles)
	assert.Equal(t, []string{"editor"}, u.ClientRoles)

	info, ok := idp.User(u.ID)
	require.True(t, ok)
	assert.Equal(t, "initial-pw", info.Password)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestCreate_UnknownRoleCreatesNothing(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, models.CreateUserInput{Username: "bob", RealmRoles: []string{"superuser"}})
	assert.ErrorIs(t, err, ErrUnknownRole)

	list, err := svc.List(ctx, ListQuery{Search: "bob"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_Duplicate(t *testing.T) {
	idp, svc := newService(t)
	idp.AddUser("carol", "")

	_, err := svc.Create(context.Background(), models.CreateUserInput{Username: "carol"})
	assert.ErrorIs(t, err, keycloak.ErrConflict)
}

func TestList(t *testing.T) {
	idp, svc := newService(t)
	idp.AddUser("dave", "")
	idp.AddUser("dana", "")
	idp.AddUser("erin", "")

	list, err := svc.List(context.Background(), ListQuery{Search: "da"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dave", list[0].Username)
	assert.Nil(t, list[0].RealmRoles)

	page, err := svc.List(context.Background(), ListQuery{First: 2, Max: 5})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestUpdate(t *testing.T) {
	idp, svc := newService(t)
	id := idp.AddUser("frank", "", "user")
	email := "frank@corp.example"
	disabled := false

	u, err := svc.Update(context.Background(), id, models.UpdateUserInput{Email: &email, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, email, u.Email)
	assert.False(t, u.Enabled)
	assert.Equal(t, "frank", u.Username)
	assert.Equal(t, []string{"user"}, u.RealmRoles)

	_, err = svc.Update(context.Background(), "missing", models.UpdateUserInput{})
	assert.ErrorIs(t, err, keycloak.ErrNotFound)
}

func TestDelete(t *testing.T) {
	idp, svc := newService(t)
	id := idp.AddUser("gina", "")

	require.NoError(t, svc.Delete(context.Background(), id))
	_, ok := idp.User(id)
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Delete(context.Background(), id), keycloak.ErrNotFound)
}

func TestRoleAssignment(t *testing.T) {
	idp, svc := newService(t)
	ctx := context.Background()
	id := idp.AddUser("hank", "", "user")

	require.NoError(t, svc.AssignRoles(ctx, id, models.RoleAssignment{RealmRoles: []string{"admin"}, ClientRoles: []string{"editor"}}))
	roles, err := svc.Roles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, roles.RealmRoles)
	assert.Equal(t, []string{"editor"}, roles.ClientRoles)

	require.NoError(t, svc.RemoveRoles(ctx, id, models.RoleAssignment{RealmRoles: []string{"admin"}}))
	roles, err = svc.Roles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, roles.RealmRoles)

	err = svc.AssignRoles(ctx, id, models.RoleAssignment{ClientRoles: []string{"owner"}})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestResetPassword(t *testing.T) {
	idp, svc := newService(t)
	id := idp.AddUser("ivy", "old")

	require.NoError(t, svc.ResetPassword(context.Background(), id, "brand-new", true))
	info, _ := idp.User(id)
	assert.Equal(t, "brand-new", info.Password)
}

func TestRealmRoles(t *testing.T) {
	_, svc := newService(t)

	roles, err := svc.RealmRoles(context.Background())
	require.NoError(t, err)
	var got []string
	for _, r := range roles {
		got = append(got, r.Name)
	}
	assert.Equal(t, []string{"admin", "offline_access", "user"}, got)
}

// nilDirectory panics on any call: validation must happen first.
type nilDirectory struct {
	Directory
}

func TestInvalidInputMakesNoRemoteCalls(t *testing.T) {
	svc := NewService(nilDirectory{}, "")
	ctx := context.Background()
	bad := "not-an-email"

	cases := map[string]error{}
	_, cases["empty username"] = svc.Create(ctx, models.CreateUserInput{Username: "  "})
	_, cases["spaced username"] = svc.Create(ctx, models.CreateUserInput{Username: "a b"})
	_, cases["bad email"] = svc.Create(ctx, models.CreateUserInput{Username: "a", Email: bad})
	_, cases["display name email"] = svc.Create(ctx, models.CreateUserInput{Username: "a", Email: "Jane <j@x.io>"})
	_, cases["padded email"] = svc.Create(ctx, models.CreateUserInput{Username: "a", Email: " j@x.io"})
	_, cases["client roles without client"] = svc.Create(ctx, models.CreateUserInput{Username: "a", ClientRoles: []string{"x"}})
	_, cases["get empty id"] = svc.Get(ctx, "")
	_, cases["get slash id"] = svc.Get(ctx, "a/b")
	_, cases["update bad email"] = svc.Update(ctx, "id", models.UpdateUserInput{Email: &bad})
	cases["delete empty id"] = svc.Delete(ctx, "")
	cases["empty password"] = svc.ResetPassword(ctx, "id", "", false)
	cases["no roles"] = svc.AssignRoles(ctx, "id", models.RoleAssignment{})
	_, cases["negative first"] = svc.List(ctx, ListQuery{First: -1})
	_, cases["huge page"] = svc.List(ctx, ListQuery{Max: MaxPageSize + 1})

	for name, err := range cases {
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}
}

// failingRoles wraps a Directory and fails role assignment.
type failingRoles struct {
	Directory
	deleted []string
}

func (f *failingRoles) AddUserRealmRoles(context.Context, string, []keycloak.RoleRepresentation) error {
	return errors.New("role mapping unavailable")
}

func (f *failingRoles) DeleteUser(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.Directory.DeleteUser(ctx, id)
}

func TestCreate_RoleFailureRemovesUser(t *testing.T) {
	idp, _ := newService(t)
	ac := keycloak.NewAdminClient(keycloak.AdminConfig{
		BaseURL:      idp.URL,
		Realm:        oidctest.Realm,
		TokenURL:     idp.Issuer + "/protocol/openid-connect/token",
		ClientID:     oidctest.ClientID,
		ClientSecret: oidctest.ClientSecret,
		HTTPClient:   idp.Client(),
	})
	dir := &failingRoles{Directory: ac}
	svc := NewService(dir, oidctest.ClientID)

	_, err := svc.Create(context.Background(), models.CreateUserInput{Username: "gina", RealmRoles: []string{"user"}})
	require.Error(t, err)
	require.Len(t, dir.deleted, 1)

	left, err := ac.ListUsers(context.Background(), keycloak.UserQuery{Username: "gina", Exact: true})
	require.NoError(t, err)
	assert.Empty(t, left)
}
