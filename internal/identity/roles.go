package identity

import (
	"encoding/json"
	"sort"
)

// RoleSet is an unordered, deduplicated set of role names.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from the given names, skipping empty strings.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

func (s RoleSet) Add(role string) {
	if role == "" {
		return
	}
	s[role] = struct{}{}
}

func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

func (s RoleSet) Len() int { return len(s) }

// Union returns a new set holding the members of both sets.
func (s RoleSet) Union(other RoleSet) RoleSet {
	out := make(RoleSet, len(s)+len(other))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range other {
		out[r] = struct{}{}
	}
	return out
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s RoleSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *RoleSet) UnmarshalJSON(b []byte) error {
	var roles []string
	if err := json.Unmarshal(b, &roles); err != nil {
		return err
	}
	*s = NewRoleSet(roles...)
	return nil
}
