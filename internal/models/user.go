package models

import "time"

// User is the API shape of an IdP user account. The IdP owns the record; it is
// never stored by the gateway.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email,omitempty"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	Enabled       bool      `json:"enabled"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	RealmRoles    []string  `json:"realmRoles,omitempty"`
	ClientRoles   []string  `json:"clientRoles,omitempty"`
}

// CreateUserInput is the body of POST /api/v1/users.
type CreateUserInput struct {
	Username          string   `json:"username"`
	Email             string   `json:"email"`
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	Enabled           *bool    `json:"enabled"`
	EmailVerified     *bool    `json:"emailVerified"`
	Password          string   `json:"password"`
	TemporaryPassword bool     `json:"temporaryPassword"`
	RealmRoles        []string `json:"realmRoles"`
	ClientRoles       []string `json:"clientRoles"`
}

// UpdateUserInput is the body of PUT /api/v1/users/:id. Nil fields are left unchanged.
type UpdateUserInput struct {
	Email         *string `json:"email"`
	FirstName     *string `json:"firstName"`
	LastName      *string `json:"lastName"`
	Enabled       *bool   `json:"enabled"`
	EmailVerified *bool   `json:"emailVerified"`
}

// RoleAssignment names realm roles and roles of the gateway's client.
type RoleAssignment struct {
	RealmRoles  []string `json:"realmRoles"`
	ClientRoles []string `json:"clientRoles"`
}

type Role struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
}
