// Package identity holds the request-scoped view of an authenticated caller and
// the role extraction rules applied to validated token claims.
package identity

import "context"

// Identity is created once per request after a token validates and is never persisted.
type Identity struct {
	Subject  string  `json:"sub"`
	Name     string  `json:"name,omitempty"`
	Username string  `json:"username,omitempty"`
	Email    string  `json:"email,omitempty"`
	Roles    RoleSet `json:"roles"`
	Claims   Claims  `json:"-"`
}

// FromClaims maps validated claims to an Identity. Roles are the union of the
// realm-wide roles and the roles granted to clientID.
func FromClaims(c Claims, clientID string) *Identity {
	id := &Identity{
		Subject:  c.String("sub"),
		Name:     c.String("name"),
		Username: c.String("preferred_username"),
		Email:    c.String("email"),
		Roles:    RealmRoles(c).Union(ClientRoles(c, clientID)),
		Claims:   c,
	}
	if id.Name == "" {
		id.Name = id.Username
	}
	return id
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && i.Roles.Has(role)
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying id. A nil id leaves ctx unchanged.
func NewContext(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity stored by NewContext.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
