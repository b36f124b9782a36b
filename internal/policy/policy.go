// Package policy holds the named role policies routes are guarded with. A
// policy is satisfied when the caller holds at least one of its roles.
package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kcgate/kcgate/internal/identity"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrUnknownPolicy = errors.New("unknown policy")
)

const (
	AdminOnly   = "AdminOnly"
	UserOrAdmin = "UserOrAdmin"
)

// Defaults is used when no policy is configured.
func Defaults() map[string][]string {
	return map[string][]string{
		AdminOnly:   {"admin"},
		UserOrAdmin: {"user", "admin"},
	}
}

// Set is an immutable registry of policies, built once at startup.
type Set struct {
	policies map[string]identity.RoleSet
}

// NewSet validates the definitions and builds a Set.
func NewSet(defs map[string][]string) (*Set, error) {
	s := &Set{policies: make(map[string]identity.RoleSet, len(defs))}
	for name, roles := range defs {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("policy with empty name")
		}
		rs := identity.NewRoleSet(trimAll(roles)...)
		if rs.Len() == 0 {
			return nil, fmt.Errorf("policy %q requires no roles", name)
		}
		s.policies[name] = rs
	}
	return s, nil
}

// MustNewSet is NewSet for static definitions.
func MustNewSet(defs map[string][]string) *Set {
	s, err := NewSet(defs)
	if err != nil {
		panic(err)
	}
	return s
}

// Evaluate returns nil when id holds at least one role of the named policy.
func (s *Set) Evaluate(name string, id *identity.Identity) error {
	required, ok := s.policies[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	if id == nil || !id.Roles.Intersects(required) {
		return fmt.Errorf("%w: policy %s requires one of %v", ErrForbidden, name, required.Sorted())
	}
	return nil
}

func (s *Set) Has(name string) bool {
	_, ok := s.policies[name]
	return ok
}

// Names returns the registered policy names, sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.policies))
	for n := range s.policies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Roles returns the roles a policy accepts, sorted; nil for an unknown policy.
func (s *Set) Roles(name string) []string {
	rs, ok := s.policies[name]
	if !ok {
		return nil
	}
	return rs.Sorted()
}

// Parse reads the environment form "Name=role,role;Other=role".
func Parse(raw string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, roles, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("policy entry %q: expected Name=role[,role]", entry)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("policy entry %q: empty name", entry)
		}
		list := trimAll(strings.Split(roles, ","))
		if len(list) == 0 {
			return nil, fmt.Errorf("policy %q: no roles", name)
		}
		out[name] = list
	}
	return out, nil
}

type file struct {
	Policies map[string][]string `yaml:"policies"`
}

// LoadFile reads a YAML document of the form:
//
//	policies:
//	  AdminOnly: [admin]
//	  UserOrAdmin: [user, admin]
func LoadFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if f.Policies == nil {
		return map[string][]string{}, nil
	}
	return f.Policies, nil
}

// Merge layers override on top of base; neither input is modified.
func Merge(base, override map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Resolve layers the YAML file and then the inline "Name=role" form over the
// defaults and validates the result. Either source may be empty.
func Resolve(file, inline string) (map[string][]string, error) {
	defs := Defaults()
	if file != "" {
		fromFile, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		defs = Merge(defs, fromFile)
	}
	if inline != "" {
		parsed, err := Parse(inline)
		if err != nil {
			return nil, err
		}
		defs = Merge(defs, parsed)
	}
	if _, err := NewSet(defs); err != nil {
		return nil, err
	}
	return defs, nil
}
