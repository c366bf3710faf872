package persistence

import (
	"context"
	"fmt"
	"sort"

	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/schema"
)

const (
	roleNameField  = "name"
	roleUsersField = "users"
	roleRolesField = "roles"
)

// RoleGraph resolves role membership from _Role objects and their join
// structures: _Join:users:_Role links a role to its users and
// _Join:roles:_Role links a role to the roles whose members inherit it.
type RoleGraph struct {
	interactor DatabaseInteractor
}

var _ permissions.RoleResolver = (*RoleGraph)(nil)

// NewRoleGraph creates a graph over interactor.
func NewRoleGraph(interactor DatabaseInteractor) *RoleGraph {
	return &RoleGraph{interactor: interactor}
}

// UserRoles returns the names of the roles listing userID in users.
func (g *RoleGraph) UserRoles(ctx context.Context, userID string) ([]string, error) {
	join := schema.JoinClassName(roleUsersField, schema.RoleClassName)
	ids, err := g.interactor.OwningIDs(ctx, join, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", join, err)
	}
	return g.names(ctx, ids)
}

// ParentRoles returns the names of the roles listing role in roles.
func (g *RoleGraph) ParentRoles(ctx context.Context, role string) ([]string, error) {
	docs, err := g.interactor.SelectDocuments(ctx, schema.RoleClassName, map[string]any{roleNameField: role})
	if err != nil {
		return nil, fmt.Errorf("failed to find role %s: %w", role, err)
	}
	join := schema.JoinClassName(roleRolesField, schema.RoleClassName)
	var owners []string
	for _, doc := range docs {
		ids, err := g.interactor.OwningIDs(ctx, join, doc.ObjectID())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", join, err)
		}
		owners = append(owners, ids...)
	}
	return g.names(ctx, owners)
}

func (g *RoleGraph) names(ctx context.Context, ids []string) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, err := g.interactor.GetDocument(ctx, schema.RoleClassName, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load role %s: %w", id, err)
		}
		if doc == nil {
			continue
		}
		if name, ok := doc[roleNameField].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
