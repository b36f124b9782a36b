package identity

// Claim names used by Keycloak-shaped tokens.
const (
	ClaimRealmAccess    = "realm_access"
	ClaimResourceAccess = "resource_access"
	claimRoles          = "roles"
)

// Claims is the decoded token payload.
type Claims map[string]any

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// RealmRoles extracts realm-wide roles from realm_access.roles.
func RealmRoles(c Claims) RoleSet {
	access, ok := c[ClaimRealmAccess].(map[string]any)
	if !ok {
		return RoleSet{}
	}
	return NewRoleSet(stringsOf(access[claimRoles])...)
}

// ClientRoles extracts the roles granted for clientID from resource_access.<clientID>.roles.
func ClientRoles(c Claims, clientID string) RoleSet {
	if clientID == "" {
		return RoleSet{}
	}
	resources, ok := c[ClaimResourceAccess].(map[string]any)
	if !ok {
		return RoleSet{}
	}
	client, ok := resources[clientID].(map[string]any)
	if !ok {
		return RoleSet{}
	}
	return NewRoleSet(stringsOf(client[claimRoles])...)
}

// stringsOf accepts the decoded JSON array shape as well as []string; other
// values and non-string members are dropped.
func stringsOf(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
