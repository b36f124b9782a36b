package oidctest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

type user struct {
	ID               string              `json:"id"`
	Username         string              `json:"username"`
	Email            string              `json:"email,omitempty"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified"`
	CreatedTimestamp int64               `json:"createdTimestamp"`
	Attributes       map[string][]string `json:"attributes,omitempty"`

	password    string
	realmRoles  map[string]bool
	clientRoles map[string]bool
}

type credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId"`
}

// UserInfo is a snapshot of a fake user for assertions.
type UserInfo struct {
	ID          string
	Username    string
	Email       string
	Enabled     bool
	Password    string
	RealmRoles  []string
	ClientRoles []string
}

// AddUser creates a user with the given password and realm roles and returns its id.
func (s *Server) AddUser(username, password string, realmRoles ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{
		ID:               randomID(),
		Username:         username,
		Email:            username + "@example.com",
		Enabled:          true,
		CreatedTimestamp: time.Now().UnixMilli(),
		password:         password,
		realmRoles:       map[string]bool{},
		clientRoles:      map[string]bool{},
	}
	for _, r := range realmRoles {
		u.realmRoles[r] = true
	}
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	return u.ID
}

// GrantClientRole assigns a role of the gateway's client to a user.
func (s *Server) GrantClientRole(userID, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.clientRoles[roleName] = true
	}
}

// User returns a snapshot of a user, or false if it does not exist.
func (s *Server) User(id string) (UserInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return UserInfo{}, false
	}
	return UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Enabled:     u.Enabled,
		Password:    u.password,
		RealmRoles:  keys(u.realmRoles),
		ClientRoles: keys(u.clientRoles),
	}, true
}

func (s *Server) registerAdmin(mux *http.ServeMux) {
	base := "/admin/realms/" + Realm
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.requireAdmin(h))
	}
	handle("GET "+base+"/users", s.listUsers)
	handle("POST "+base+"/users", s.createUser)
	handle("GET "+base+"/users/{id}", s.getUser)
	handle("PUT "+base+"/users/{id}", s.updateUser)
	handle("DELETE "+base+"/users/{id}", s.deleteUser)
	handle("PUT "+base+"/users/{id}/reset-password", s.resetPassword)
	handle("GET "+base+"/users/{id}/role-mappings/realm", s.userRealmRoles)
	handle("POST "+base+"/users/{id}/role-mappings/realm", s.changeRealmRoles(true))
	handle("DELETE "+base+"/users/{id}/role-mappings/realm", s.changeRealmRoles(false))
	handle("GET "+base+"/users/{id}/role-mappings/clients/{client}", s.userClientRoles)
	handle("POST "+base+"/users/{id}/role-mappings/clients/{client}", s.changeClientRoles(true))
	handle("DELETE "+base+"/users/{id}/role-mappings/clients/{client}", s.changeClientRoles(false))
	handle("GET "+base+"/roles", s.listRealmRoles)
	handle("GET "+base+"/roles/{name}", s.getRealmRole)
	handle("GET "+base+"/clients", s.findClients)
	handle("GET "+base+"/clients/{client}/roles", s.listClientRoles)
	handle("GET "+base+"/clients/{client}/roles/{name}", s.getClientRole)
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.adminTokens[tok]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		next(w, r)
	}
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": what + " not found"})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	first, _ := strconv.Atoi(q.Get("first"))
	limit, err := strconv.Atoi(q.Get("max"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	search := strings.ToLower(q.Get("search"))
	username := strings.ToLower(q.Get("username"))
	exact := q.Get("exact") == "true"

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*user{}
	for _, id := range s.order {
		u := s.users[id]
		if search != "" && !strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		if username != "" {
			if exact && strings.ToLower(u.Username) != username {
				continue
			}
			if !exact && !strings.Contains(strings.ToLower(u.Username), username) {
				continue
			}
		}
		out = append(out, u)
	}
	if first > len(out) {
		first = len(out)
	}
	out = out[first:]
	if len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, out)
}

type userInput struct {
	Username      *string             `json:"username"`
	Email         *string             `json:"email"`
	FirstName     *string             `json:"firstName"`
	LastName      *string             `json:"lastName"`
	Enabled       *bool               `json:"enabled"`
	EmailVerified *bool               `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes"`
	Credentials   []credential        `json:"credentials"`
}

func (in userInput) apply(u *user) {
	if in.Username != nil {
		u.Username = *in.Username
	}
	if in.Email != nil {
		u.Email = *in.Email
	}
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	if in.Enabled != nil {
		u.Enabled = *in.Enabled
	}
	if in.EmailVerified != nil {
		u.EmailVerified = *in.EmailVerified
	}
	if in.Attributes != nil {
		u.Attributes = in.Attributes
	}
	for _, c := range in.Credentials {
		if c.Type == "password" {
			u.password = c.Value
		}
	}
}

// findByUsername must be called with s.mu held.
func (s *Server) findByUsername(name string) *user {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, name) {
			return u
		}
	}
	return nil
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == nil || *in.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "username required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByUsername(*in.Username) != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
		return
	}
	u := &user{
		ID:               randomID(),
		CreatedTimestamp: time.Now().UnixMilli(),
		realmRoles:       map[string]bool{},
		clientRoles:      map[string]bool{},
	}
	in.apply(u)
	s.users[u.ID] = u
	s.order = append(s.order, u.ID)
	w.Header().Set("Location", s.URL+"/admin/realms/"+Realm+"/users/"+u.ID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	if in.Username != nil {
		if other := s.findByUsername(*in.Username); other != nil && other.ID != u.ID {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}
	in.apply(u)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := s.users[id]; !ok {
		notFound(w, "User")
		return
	}
	delete(s.users, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var c credential
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid password"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	u.password = c.Value
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rolesOf(names map[string]bool, catalog map[string]role) []role {
	out := []role{}
	for _, n := range keys(names) {
		out = append(out, catalog[n])
	}
	return out
}

func (s *Server) userRealmRoles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	writeJSON(w, http.StatusOK, s.rolesOf(u.realmRoles, s.realmRoles))
}

func (s *Server) changeRoles(w http.ResponseWriter, r *http.Request, catalog map[string]role, target func(*user) map[string]bool, add bool) {
	var in []role
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	for _, ro := range in {
		known, ok := catalog[ro.Name]
		if !ok || known.ID != ro.ID {
			notFound(w, "Role")
			return
		}
	}
	set := target(u)
	for _, ro := range in {
		if add {
			set[ro.Name] = true
		} else {
			delete(set, ro.Name)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changeRealmRoles(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.changeRoles(w, r, s.realmRoles, func(u *user) map[string]bool { return u.realmRoles }, add)
	}
}

func (s *Server) changeClientRoles(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("client") != s.clientUUID {
			notFound(w, "Client")
			return
		}
		s.changeRoles(w, r, s.clientRoles, func(u *user) map[string]bool { return u.clientRoles }, add)
	}
}

func (s *Server) userClientRoles(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("client") != s.clientUUID {
		notFound(w, "Client")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		notFound(w, "User")
		return
	}
	writeJSON(w, http.StatusOK, s.rolesOf(u.clientRoles, s.clientRoles))
}

func (s *Server) listRealmRoles(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := map[string]bool{}
	for n := range s.realmRoles {
		all[n] = true
	}
	writeJSON(w, http.StatusOK, s.rolesOf(all, s.realmRoles))
}

func (s *Server) getRealmRole(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ro, ok := s.realmRoles[r.PathValue("name")]
	if !ok {
		notFound(w, "Role")
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func (s *Server) findClients(w http.ResponseWriter, r *http.Request) {
	out := []map[string]string{}
	if c := r.URL.Query().Get("clientId"); c == "" || c == ClientID {
		out = append(out, map[string]string{"id": s.clientUUID, "clientId": ClientID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listClientRoles(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("client") != s.clientUUID {
		notFound(w, "Client")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := map[string]bool{}
	for n := range s.clientRoles {
		all[n] = true
	}
	writeJSON(w, http.StatusOK, s.rolesOf(all, s.clientRoles))
}

func (s *Server) getClientRole(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("client") != s.clientUUID {
		notFound(w, "Client")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ro, ok := s.clientRoles[r.PathValue("name")]
	if !ok {
		notFound(w, "Role")
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
