package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kcgate/kcgate/internal/keycloak"
	"github.com/kcgate/kcgate/internal/models"
	"github.com/kcgate/kcgate/pkg/logger"
)

var (
	// ErrInvalidInput is returned before any remote call is made.
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownRole  = errors.New("unknown role")
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Directory is the part of the admin API the service needs. *keycloak.AdminClient implements it.
type Directory interface {
	ListUsers(ctx context.Context, q keycloak.UserQuery) ([]keycloak.UserRepresentation, error)
	GetUser(ctx context.Context, id string) (*keycloak.UserRepresentation, error)
	CreateUser(ctx context.Context, u keycloak.UserRepresentation) (string, error)
	UpdateUser(ctx context.Context, id string, u keycloak.UserRepresentation) error
	DeleteUser(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id, password string, temporary bool) error

	RealmRoles(ctx context.Context) ([]keycloak.RoleRepresentation, error)
	RealmRole(ctx context.Context, name string) (*keycloak.RoleRepresentation, error)
	UserRealmRoles(ctx context.Context, userID string) ([]keycloak.RoleRepresentation, error)
	AddUserRealmRoles(ctx context.Context, userID string, roles []keycloak.RoleRepresentation) error
	RemoveUserRealmRoles(ctx context.Context, userID string, roles []keycloak.RoleRepresentation) error

	ClientByClientID(ctx context.Context, clientID string) (*keycloak.ClientRepresentation, error)
	ClientRole(ctx context.Context, clientUUID, name string) (*keycloak.RoleRepresentation, error)
	UserClientRoles(ctx context.Context, userID, clientUUID string) ([]keycloak.RoleRepresentation, error)
	AddUserClientRoles(ctx context.Context, userID, clientUUID string, roles []keycloak.RoleRepresentation) error
	RemoveUserClientRoles(ctx context.Context, userID, clientUUID string, roles []keycloak.RoleRepresentation) error
}

// Service encapsulates user-management logic on top of the IdP admin API.
type Service struct {
	dir      Directory
	clientID string

	mu         sync.Mutex
	clientUUID string
}

// NewService returns a Service; clientID selects whose client roles are managed
// and may be empty to manage realm roles only.
func NewService(dir Directory, clientID string) *Service {
	return &Service{dir: dir, clientID: clientID}
}

// ListQuery pages through users.
type ListQuery struct {
	Search string
	First  int
	Max    int
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]models.User, error) {
	if q.First < 0 {
		return nil, fmt.Errorf("%w: first must not be negative", ErrInvalidInput)
	}
	if q.Max < 0 || q.Max > MaxPageSize {
		return nil, fmt.Errorf("%w: max must be between 0 and %d", ErrInvalidInput, MaxPageSize)
	}
	if q.Max == 0 {
		q.Max = DefaultPageSize
	}
	reps, err := s.dir.ListUsers(ctx, keycloak.UserQuery{Search: strings.TrimSpace(q.Search), First: q.First, Max: q.Max})
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(reps))
	for i := range reps {
		out = append(out, toModel(&reps[i]))
	}
	return out, nil
}

// Get returns the user with its realm and client role names.
func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	rep, err := s.dir.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u := toModel(rep)
	roles, err := s.Roles(ctx, id)
	if err != nil {
		return nil, err
	}
	u.RealmRoles, u.ClientRoles = roles.RealmRoles, roles.ClientRoles
	return &u, nil
}

func (s *Service) Create(ctx context.Context, in models.CreateUserInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || strings.ContainsAny(in.Username, " \t/") {
		return nil, fmt.Errorf("%w: username is required and must not contain spaces or slashes", ErrInvalidInput)
	}
	if err := validEmail(in.Email); err != nil {
		return nil, err
	}
	if len(in.ClientRoles) > 0 && s.clientID == "" {
		return nil, fmt.Errorf("%w: client roles need a configured client", ErrInvalidInput)
	}

	rep := keycloak.UserRepresentation{
		Username:      in.Username,
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Enabled:       in.Enabled,
		EmailVerified: in.EmailVerified,
	}
	if rep.Enabled == nil {
		enabled := true
		rep.Enabled = &enabled
	}
	if in.Password != "" {
		rep.Credentials = []keycloak.CredentialRepresentation{{Type: "password", Value: in.Password, Temporary: in.TemporaryPassword}}
	}

	// resolve roles first so an unknown role does not leave a half-created user
	realm, client, clientUUID, err := s.resolve(ctx, models.RoleAssignment{RealmRoles: in.RealmRoles, ClientRoles: in.ClientRoles})
	if err != nil {
		return nil, err
	}

	id, err := s.dir.CreateUser(ctx, rep)
	if err != nil {
		return nil, err
	}
	logger.Infow("user created", "id", id, "username", in.Username)
	if len(realm) > 0 {
		if err := s.dir.AddUserRealmRoles(ctx, id, realm); err != nil {
			s.rollbackCreate(ctx, id, err)
			return nil, err
		}
	}
	if len(client) > 0 {
		if err := s.dir.AddUserClientRoles(ctx, id, clientUUID, client); err != nil {
			s.rollbackCreate(ctx, id, err)
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// rollbackCreate deletes a user whose role assignment failed during Create.
func (s *Service) rollbackCreate(ctx context.Context, id string, cause error) {
	if err := s.dir.DeleteUser(context.WithoutCancel(ctx), id); err != nil {
		logger.Errorf("user %s left without roles after %v; delete failed: %v", id, cause, err)
		return
	}
	logger.Warnw("user creation rolled back", "id", id, "error", cause.Error())
}

// Update applies the non-nil fields of in. The IdP replaces what it is sent,
// so the current record is read first.
func (s *Service) Update(ctx context.Context, id string, in models.UpdateUserInput) (*models.User, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if in.Email != nil {
		if err := validEmail(*in.Email); err != nil {
			return nil, err
		}
	}
	rep, err := s.dir.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Email != nil {
		rep.Email = *in.Email
	}
	if in.FirstName != nil {
		rep.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		rep.LastName = *in.LastName
	}
	if in.Enabled != nil {
		rep.Enabled = in.Enabled
	}
	if in.EmailVerified != nil {
		rep.EmailVerified = in.EmailVerified
	}
	rep.ID, rep.CreatedTimestamp, rep.Credentials = "", 0, nil
	if err := s.dir.UpdateUser(ctx, id, *rep); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.dir.DeleteUser(ctx, id); err != nil {
		return err
	}
	logger.Infow("user deleted", "id", id)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, id, password string, temporary bool) error {
	if err := validID(id); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	return s.dir.ResetPassword(ctx, id, password, temporary)
}

// Roles lists the user's directly mapped realm and client role names, sorted.
func (s *Service) Roles(ctx context.Context, id string) (*models.RoleAssignment, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	realm, err := s.dir.UserRealmRoles(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &models.RoleAssignment{RealmRoles: names(realm), ClientRoles: []string{}}
	if s.clientID == "" {
		return out, nil
	}
	clientUUID, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.dir.UserClientRoles(ctx, id, clientUUID)
	if err != nil {
		return nil, err
	}
	out.ClientRoles = names(client)
	return out, nil
}

func (s *Service) AssignRoles(ctx context.Context, id string, a models.RoleAssignment) error {
	return s.changeRoles(ctx, id, a, true)
}

func (s *Service) RemoveRoles(ctx context.Context, id string, a models.RoleAssignment) error {
	return s.changeRoles(ctx, id, a, false)
}

func (s *Service) changeRoles(ctx context.Context, id string, a models.RoleAssignment, add bool) error {
	if err := validID(id); err != nil {
		return err
	}
	if len(a.RealmRoles) == 0 && len(a.ClientRoles) == 0 {
		return fmt.Errorf("%w: no roles given", ErrInvalidInput)
	}
	if len(a.ClientRoles) > 0 && s.clientID == "" {
		return fmt.Errorf("%w: client roles need a configured client", ErrInvalidInput)
	}
	realm, client, clientUUID, err := s.resolve(ctx, a)
	if err != nil {
		return err
	}
	if len(realm) > 0 {
		if add {
			err = s.dir.AddUserRealmRoles(ctx, id, realm)
		} else {
			err = s.dir.RemoveUserRealmRoles(ctx, id, realm)
		}
		if err != nil {
			return err
		}
	}
	if len(client) > 0 {
		if add {
			err = s.dir.AddUserClientRoles(ctx, id, clientUUID, client)
		} else {
			err = s.dir.RemoveUserClientRoles(ctx, id, clientUUID, client)
		}
		if err != nil {
			return err
		}
	}
	logger.Infow("user roles changed", "id", id, "add", add, "realm", a.RealmRoles, "client", a.ClientRoles)
	return nil
}

// RealmRoles lists every realm role, sorted by name.
func (s *Service) RealmRoles(ctx context.Context) ([]models.Role, error) {
	reps, err := s.dir.RealmRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Role, 0, len(reps))
	for _, r := range reps {
		out = append(out, models.Role{Name: r.Name, Description: r.Description, Composite: r.Composite})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// resolve looks up role representations by name; the admin API wants ids.
func (s *Service) resolve(ctx context.Context, a models.RoleAssignment) (realm, client []keycloak.RoleRepresentation, clientUUID string, err error) {
	for _, name := range dedupe(a.RealmRoles) {
		r, err := s.dir.RealmRole(ctx, name)
		if err != nil {
			if errors.Is(err, keycloak.ErrNotFound) {
				return nil, nil, "", fmt.Errorf("%w: realm role %q", ErrUnknownRole, name)
			}
			return nil, nil, "", err
		}
		realm = append(realm, *r)
	}
	clientNames := dedupe(a.ClientRoles)
	if len(clientNames) == 0 {
		return realm, nil, "", nil
	}
	clientUUID, err = s.client(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	for _, name := range clientNames {
		r, err := s.dir.ClientRole(ctx, clientUUID, name)
		if err != nil {
			if errors.Is(err, keycloak.ErrNotFound) {
				return nil, nil, "", fmt.Errorf("%w: client role %q", ErrUnknownRole, name)
			}
			return nil, nil, "", err
		}
		client = append(client, *r)
	}
	return realm, client, clientUUID, nil
}

// client resolves and remembers the internal id of the configured client.
func (s *Service) client(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientUUID != "" {
		return s.clientUUID, nil
	}
	c, err := s.dir.ClientByClientID(ctx, s.clientID)
	if err != nil {
		return "", fmt.Errorf("resolve client %q: %w", s.clientID, err)
	}
	s.clientUUID = c.ID
	return c.ID, nil
}

func toModel(r *keycloak.UserRepresentation) models.User {
	u := models.User{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
	if r.Enabled != nil {
		u.Enabled = *r.Enabled
	}
	if r.EmailVerified != nil {
		u.EmailVerified = *r.EmailVerified
	}
	if r.CreatedTimestamp > 0 {
		u.CreatedAt = time.UnixMilli(r.CreatedTimestamp).UTC()
	}
	return u
}

func names(rs []keycloak.RoleRepresentation) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	return nil
}

func validEmail(email string) error {
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email %q", ErrInvalidInput, email)
	}
	return nil
}
