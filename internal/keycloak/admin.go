package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// UserRepresentation mirrors the admin API's user object. Pointer fields are
// left out of PUT bodies when nil.
type UserRepresentation struct {
	ID               string                     `json:"id,omitempty"`
	Username         string                     `json:"username,omitempty"`
	Email            string                     `json:"email,omitempty"`
	FirstName        string                     `json:"firstName,omitempty"`
	LastName         string                     `json:"lastName,omitempty"`
	Enabled          *bool                      `json:"enabled,omitempty"`
	EmailVerified    *bool                      `json:"emailVerified,omitempty"`
	CreatedTimestamp int64                      `json:"createdTimestamp,omitempty"`
	Attributes       map[string][]string        `json:"attributes,omitempty"`
	Credentials      []CredentialRepresentation `json:"credentials,omitempty"`
}

type CredentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type RoleRepresentation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	ContainerID string `json:"containerId,omitempty"`
}

type ClientRepresentation struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
}

// UserQuery filters ListUsers. Zero values are omitted.
type UserQuery struct {
	Search   string
	Username string
	Email    string
	Exact    bool
	First    int
	Max      int
}

func (q UserQuery) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Username != "" {
		v.Set("username", q.Username)
	}
	if q.Email != "" {
		v.Set("email", q.Email)
	}
	if q.Exact {
		v.Set("exact", "true")
	}
	if q.First > 0 {
		v.Set("first", strconv.Itoa(q.First))
	}
	if q.Max > 0 {
		v.Set("max", strconv.Itoa(q.Max))
	}
	return v
}

// AdminConfig locates the admin API and the service account used to call it.
type AdminConfig struct {
	BaseURL      string
	Realm        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// AdminClient calls {BaseURL}/admin/realms/{Realm}. The service-account token
// is fetched on first use and renewed before it expires.
type AdminClient struct {
	base   string
	client *http.Client
}

func NewAdminClient(cfg AdminConfig) *AdminClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	authed := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, hc))
	authed.Timeout = hc.Timeout
	return &AdminClient{
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/admin/realms/" + url.PathEscape(cfg.Realm),
		client: authed,
	}
}

// do sends one admin request. body is JSON-encoded when non-nil; out is
// decoded from a 2xx response when non-nil.
func (c *AdminClient) do(ctx context.Context, op, method, p string, query url.Values, body, out any) (http.Header, error) {
	u := c.base + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("keycloak %s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("keycloak %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observe("admin."+op, start, 0, err)
		if isTokenFailure(err) {
			return nil, fmt.Errorf("keycloak %s: %w: %v", op, ErrUpstreamAuth, err)
		}
		return nil, fmt.Errorf("keycloak %s: %w: %v", op, ErrUpstream, err)
	}
	defer resp.Body.Close()
	observe("admin."+op, start, resp.StatusCode, nil)

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newAPIError(op, resp.StatusCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("keycloak %s: %w: decode: %v", op, ErrUpstream, err)
		}
	}
	return resp.Header, nil
}

func isTokenFailure(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}

func esc(s string) string { return url.PathEscape(s) }

func (c *AdminClient) ListUsers(ctx context.Context, q UserQuery) ([]UserRepresentation, error) {
	var out []UserRepresentation
	_, err := c.do(ctx, "users.list", http.MethodGet, "/users", q.values(), nil, &out)
	return out, err
}

func (c *AdminClient) GetUser(ctx context.Context, id string) (*UserRepresentation, error) {
	var out UserRepresentation
	if _, err := c.do(ctx, "users.get", http.MethodGet, "/users/"+esc(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUser returns the new user's id, taken from the Location header.
func (c *AdminClient) CreateUser(ctx context.Context, u UserRepresentation) (string, error) {
	h, err := c.do(ctx, "users.create", http.MethodPost, "/users", nil, u, nil)
	if err != nil {
		return "", err
	}
	loc := h.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("keycloak users.create: %w: no Location header", ErrUpstream)
	}
	return path.Base(loc), nil
}

func (c *AdminClient) UpdateUser(ctx context.Context, id string, u UserRepresentation) error {
	_, err := c.do(ctx, "users.update", http.MethodPut, "/users/"+esc(id), nil, u, nil)
	return err
}

func (c *AdminClient) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, "users.delete", http.MethodDelete, "/users/"+esc(id), nil, nil, nil)
	return err
}

func (c *AdminClient) ResetPassword(ctx context.Context, id, password string, temporary bool) error {
	cred := CredentialRepresentation{Type: "password", Value: password, Temporary: temporary}
	_, err := c.do(ctx, "users.reset_password", http.MethodPut, "/users/"+esc(id)+"/reset-password", nil, cred, nil)
	return err
}

func (c *AdminClient) RealmRoles(ctx context.Context) ([]RoleRepresentation, error) {
	var out []RoleRepresentation
	_, err := c.do(ctx, "roles.list", http.MethodGet, "/roles", nil, nil, &out)
	return out, err
}

func (c *AdminClient) RealmRole(ctx context.Context, name string) (*RoleRepresentation, error) {
	var out RoleRepresentation
	if _, err := c.do(ctx, "roles.get", http.MethodGet, "/roles/"+esc(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AdminClient) UserRealmRoles(ctx context.Context, userID string) ([]RoleRepresentation, error) {
	var out []RoleRepresentation
	_, err := c.do(ctx, "role_mappings.realm.list", http.MethodGet, "/users/"+esc(userID)+"/role-mappings/realm", nil, nil, &out)
	return out, err
}

func (c *AdminClient) AddUserRealmRoles(ctx context.Context, userID string, roles []RoleRepresentation) error {
	_, err := c.do(ctx, "role_mappings.realm.add", http.MethodPost, "/users/"+esc(userID)+"/role-mappings/realm", nil, roles, nil)
	return err
}

func (c *AdminClient) RemoveUserRealmRoles(ctx context.Context, userID string, roles []RoleRepresentation) error {
	_, err := c.do(ctx, "role_mappings.realm.remove", http.MethodDelete, "/users/"+esc(userID)+"/role-mappings/realm", nil, roles, nil)
	return err
}

// ClientByClientID resolves a client id such as "kcgate" to the client's internal UUID.
func (c *AdminClient) ClientByClientID(ctx context.Context, clientID string) (*ClientRepresentation, error) {
	var out []ClientRepresentation
	if _, err := c.do(ctx, "clients.find", http.MethodGet, "/clients", url.Values{"clientId": {clientID}}, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].ClientID == clientID {
			return &out[i], nil
		}
	}
	return nil, &APIError{Operation: "clients.find", Status: http.StatusNotFound, Message: "client " + clientID + " not found"}
}

func (c *AdminClient) ClientRoles(ctx context.Context, clientUUID string) ([]RoleRepresentation, error) {
	var out []RoleRepresentation
	_, err := c.do(ctx, "client_roles.list", http.MethodGet, "/clients/"+esc(clientUUID)+"/roles", nil, nil, &out)
	return out, err
}

func (c *AdminClient) ClientRole(ctx context.Context, clientUUID, name string) (*RoleRepresentation, error) {
	var out RoleRepresentation
	if _, err := c.do(ctx, "client_roles.get", http.MethodGet, "/clients/"+esc(clientUUID)+"/roles/"+esc(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AdminClient) UserClientRoles(ctx context.Context, userID, clientUUID string) ([]RoleRepresentation, error) {
	var out []RoleRepresentation
	_, err := c.do(ctx, "role_mappings.client.list", http.MethodGet, "/users/"+esc(userID)+"/role-mappings/clients/"+esc(clientUUID), nil, nil, &out)
	return out, err
}

func (c *AdminClient) AddUserClientRoles(ctx context.Context, userID, clientUUID string, roles []RoleRepresentation) error {
	_, err := c.do(ctx, "role_mappings.client.add", http.MethodPost, "/users/"+esc(userID)+"/role-mappings/clients/"+esc(clientUUID), nil, roles, nil)
	return err
}

func (c *AdminClient) RemoveUserClientRoles(ctx context.Context, userID, clientUUID string, roles []RoleRepresentation) error {
	_, err := c.do(ctx, "role_mappings.client.remove", http.MethodDelete, "/users/"+esc(userID)+"/role-mappings/clients/"+esc(clientUUID), nil, roles, nil)
	return err
}
