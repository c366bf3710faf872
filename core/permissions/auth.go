// Package permissions evaluates class-level permission documents against a
// caller. Master callers bypass every check; everyone else is matched by
// public access, user id, transitive role membership and, per object, by the
// row-level ownership fields of the class.
package permissions

import (
	"context"

	"github.com/asaidimu/go-anansi-schema/core/schema"
)

// Auth identifies the caller of an operation.
type Auth struct {
	IsMaster bool   `json:"isMaster"`
	UserID   string `json:"userId,omitempty"`
}

// Master is a caller holding the master key.
func Master() Auth { return Auth{IsMaster: true} }

// User is an authenticated, non-master caller.
func User(id string) Auth { return Auth{UserID: id} }

// Anonymous is a caller without credentials.
func Anonymous() Auth { return Auth{} }

// Authenticated reports whether the caller carries a user identity.
func (a Auth) Authenticated() bool { return a.UserID != "" }

// RoleResolver walks the role graph one edge at a time.
type RoleResolver interface {
	// UserRoles returns the names of the roles the user belongs to directly.
	UserRoles(ctx context.Context, userID string) ([]string, error)
	// ParentRoles returns the names of the roles whose members include every
	// member of role.
	ParentRoles(ctx context.Context, role string) ([]string, error)
}

// SchemaSource loads the schema whose permissions are enforced.
type SchemaSource interface {
	GetClass(ctx context.Context, className string) (*schema.ClassSchema, error)
}
